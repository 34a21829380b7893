package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/identity"
	"taskboard/session"
)

// ErrNoSession is returned when a token does not resolve to a live session.
var ErrNoSession = errors.New("no such session")

// SessionStore keeps the token -> principal mapping in Redis so any instance
// can tell a valid cookie from a stale one.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a session store using the provided Redis client
// and token TTL.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) key(token string) string {
	return "session:" + token
}

// Put records the token for the given principal.
func (s *SessionStore) Put(ctx context.Context, token, email string) error {
	return s.client.Set(ctx, s.key(token), email, s.ttl).Err()
}

// Get resolves a token to the principal email it was minted for.
func (s *SessionStore) Get(ctx context.Context, token string) (string, error) {
	email, err := s.client.Get(ctx, s.key(token)).Result()
	if err == redis.Nil {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	return email, nil
}

// Delete removes the token. Deleting an unknown token is not an error.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.key(token)).Err()
}

// clientInstance bundles the per-session client core: one identity gateway,
// the session controller consuming its notifications, and the board the
// controller drives. It doubles as the session controller's Navigator; the
// redirect side effect is surfaced to HTTP callers as a flag.
type clientInstance struct {
	gateway identity.Gateway
	board   *board.Controller
	cancel  context.CancelFunc

	mu         sync.Mutex
	redirected bool
}

func newClientInstance(gw identity.Gateway, repo board.Repository, logger *log.Logger) *clientInstance {
	b := board.New(repo, logger)
	inst := &clientInstance{gateway: gw, board: b}
	ctl := session.New(gw, inst, b, logger)
	ctx, cancel := context.WithCancel(context.Background())
	inst.cancel = cancel
	go ctl.Run(ctx)
	return inst
}

// RedirectToLogin implements session.Navigator.
func (ci *clientInstance) RedirectToLogin() {
	ci.mu.Lock()
	ci.redirected = true
	ci.mu.Unlock()
}

// Redirected reports whether the session controller has sent this viewer to
// the login view.
func (ci *clientInstance) Redirected() bool {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.redirected
}

func (ci *clientInstance) teardown(ctx context.Context) {
	_ = ci.gateway.SignOut(ctx)
	ci.cancel()
}

// GatewayFactory creates one identity gateway per client instance, each with
// its own auth state.
type GatewayFactory func() identity.Gateway

// Host owns the live client instances of this process, keyed by session
// token.
type Host struct {
	repo     board.Repository
	sessions *SessionStore
	gateways GatewayFactory
	logger   *log.Logger

	mu        sync.Mutex
	instances map[string]*clientInstance
}

// NewHost creates a Host serving client instances backed by the given
// repository and session store.
func NewHost(repo board.Repository, sessions *SessionStore, gateways GatewayFactory, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Host{
		repo:      repo,
		sessions:  sessions,
		gateways:  gateways,
		logger:    logger,
		instances: make(map[string]*clientInstance),
	}
}

// StartSession signs the credentials in through a fresh gateway and, on
// success, mints a session token and starts the client core for it. The
// board load happens through the session controller once the gateway's
// authenticated state is observed.
func (h *Host) StartSession(ctx context.Context, email, password string) (string, string, error) {
	gw := h.gateways()
	principal, err := gw.SignIn(ctx, email, password)
	if err != nil {
		return "", "", err
	}
	token := uuid.NewString()
	if err := h.sessions.Put(ctx, token, principal); err != nil {
		_ = gw.SignOut(ctx)
		return "", "", err
	}
	inst := newClientInstance(gw, h.repo, h.logger)
	h.mu.Lock()
	h.instances[token] = inst
	h.mu.Unlock()
	h.logger.WithField("principal", principal).Info("session started")
	return token, principal, nil
}

// Resolve returns the live client instance for token. A token whose instance
// has signed out, or that outlived this process, counts as no session: the
// client core cannot be restored without credentials.
func (h *Host) Resolve(ctx context.Context, token string) (*clientInstance, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	if _, err := h.sessions.Get(ctx, token); err != nil {
		return nil, err
	}
	h.mu.Lock()
	inst, ok := h.instances[token]
	h.mu.Unlock()
	if !ok {
		_ = h.sessions.Delete(ctx, token)
		return nil, ErrNoSession
	}
	if inst.Redirected() {
		h.EndSession(ctx, token)
		return nil, ErrNoSession
	}
	return inst, nil
}

// EndSession signs the instance out, releases its subscription and forgets
// the token.
func (h *Host) EndSession(ctx context.Context, token string) {
	h.mu.Lock()
	inst, ok := h.instances[token]
	delete(h.instances, token)
	h.mu.Unlock()
	if ok {
		inst.teardown(ctx)
	}
	_ = h.sessions.Delete(ctx, token)
}

// SignUp registers a new account through a fresh gateway. Registration does
// not establish a session; the caller proceeds to the login view.
func (h *Host) SignUp(ctx context.Context, email, password string) (string, error) {
	return h.gateways().SignUp(ctx, email, password)
}
