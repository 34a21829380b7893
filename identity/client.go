package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

const (
	passwordGrant      = "password"
	defaultConnection  = "Username-Password-Authentication"
	responseLimitBytes = 1 << 20
)

// AuthError reports a sign-in or registration failure from the provider,
// such as bad credentials or a duplicate registration.
type AuthError struct {
	Code        string
	Description string
}

func (e *AuthError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Code
}

// Config holds the connection settings for the identity provider.
type Config struct {
	// BaseURL is the provider root, e.g. "https://tenant.auth0.com".
	BaseURL  string
	ClientID string
	Audience string
	Issuer   string
	// Connection names the provider's credential database used for sign-up.
	Connection string

	// JWKS verifies RS256 id tokens. Ignored in test mode.
	JWKS *keyfunc.JWKS

	// TestMode switches token verification to an HS256 shared secret.
	TestMode   bool
	TestSecret []byte

	HTTPClient *http.Client
}

// Client talks to an Auth0-compatible identity provider and tracks the
// signed-in principal for its owning client instance. Auth-state changes are
// broadcast to subscribers; the current state is replayed on subscribe.
type Client struct {
	cfg    Config
	http   *http.Client
	parser *jwt.Parser
	logger *log.Logger
	broker *broker
}

var _ Gateway = (*Client)(nil)

// NewClient creates a gateway client. Each client instance carries its own
// auth state, so construct one per logical user session.
func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.Connection == "" {
		cfg.Connection = defaultConnection
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	var parser *jwt.Parser
	if cfg.TestMode {
		parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		parser: parser,
		logger: logger,
		broker: newBroker(),
	}
}

type tokenResponse struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
}

type providerError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             string `json:"code"`
	Description      string `json:"description"`
}

func (p providerError) toAuthError() *AuthError {
	code := p.Error
	if code == "" {
		code = p.Code
	}
	desc := p.ErrorDescription
	if desc == "" {
		desc = p.Description
	}
	if code == "" && desc == "" {
		code = "auth_failed"
	}
	return &AuthError{Code: code, Description: desc}
}

// SignIn exchanges credentials for an id token, records the principal and
// notifies subscribers. It returns the principal email.
func (c *Client) SignIn(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{
		"grant_type": passwordGrant,
		"client_id":  c.cfg.ClientID,
		"username":   email,
		"password":   password,
		"scope":      "openid email",
	}
	if c.cfg.Audience != "" {
		body["audience"] = c.cfg.Audience
	}
	var token tokenResponse
	if err := c.post(ctx, "/oauth/token", body, &token); err != nil {
		return "", err
	}
	principal, err := c.emailFromIDToken(token.IDToken)
	if err != nil {
		return "", err
	}
	c.broker.set(AuthState{Email: principal})
	return principal, nil
}

// SignUp registers a new account. It does not sign the account in; callers
// proceed to SignIn afterwards.
func (c *Client) SignUp(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{
		"client_id":  c.cfg.ClientID,
		"email":      email,
		"password":   password,
		"connection": c.cfg.Connection,
	}
	var resp struct {
		Email string `json:"email"`
	}
	if err := c.post(ctx, "/dbconnections/signup", body, &resp); err != nil {
		return "", err
	}
	if resp.Email != "" {
		return resp.Email, nil
	}
	return email, nil
}

// SignOut clears the signed-in principal and notifies subscribers. The
// provider holds no server-side session for the password grant, so this is a
// local transition.
func (c *Client) SignOut(ctx context.Context) error {
	c.broker.set(AuthState{})
	return nil
}

// Subscribe returns a stream of auth-state notifications, starting with the
// current state.
func (c *Client) Subscribe() *Subscription {
	return c.broker.subscribe()
}

// Current returns the client's present auth state.
func (c *Client) Current() AuthState {
	return c.broker.current()
}

func (c *Client) post(ctx context.Context, path string, body map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, responseLimitBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var provErr providerError
		if err := json.Unmarshal(data, &provErr); err != nil {
			c.logger.WithField("status", resp.StatusCode).Debug("unparseable provider error")
			return &AuthError{Code: fmt.Sprintf("status_%d", resp.StatusCode)}
		}
		return provErr.toAuthError()
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// emailFromIDToken validates the id token and extracts the principal email.
func (c *Client) emailFromIDToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errors.New("missing id token")
	}
	var parsedToken *jwt.Token
	var err error
	if c.cfg.TestMode {
		parsedToken, err = c.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return c.cfg.TestSecret, nil
		})
	} else {
		if c.cfg.JWKS == nil {
			return "", errors.New("jwks not configured")
		}
		parsedToken, err = c.parser.Parse(tokenStr, c.cfg.JWKS.Keyfunc)
	}
	if err != nil {
		return "", err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if c.cfg.Issuer != "" && !claims.VerifyIssuer(c.cfg.Issuer, false) {
		return "", errors.New("invalid issuer")
	}

	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return "", errors.New("missing email claim")
	}
	return email, nil
}
