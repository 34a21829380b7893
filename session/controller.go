package session

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/identity"
)

// State identifies where the session machine currently is.
type State int

const (
	// StateUnknown holds until the first gateway notification arrives.
	StateUnknown State = iota
	StateAuthenticated
	StateUnauthenticated
)

// Navigator receives the redirect side effect when an unauthenticated viewer
// must leave a protected view. The login view lives at "/login".
type Navigator interface {
	RedirectToLogin()
}

// Board is the slice of the task board the session machine drives: a full
// load when a principal signs in, a clear when they sign out.
type Board interface {
	Load(ctx context.Context, owner string)
	Clear()
}

// Controller derives the current principal from the identity gateway's
// notification stream and gates the board behind it.
type Controller struct {
	gateway identity.Gateway
	nav     Navigator
	board   Board
	logger  *log.Logger

	mu        sync.Mutex
	state     State
	principal string
}

// New creates a session controller. Call Run to start consuming gateway
// notifications.
func New(gateway identity.Gateway, nav Navigator, board Board, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{gateway: gateway, nav: nav, board: board, logger: logger}
}

// Run consumes auth-state notifications until ctx is cancelled or the stream
// ends. The gateway subscription is released exactly once on return, so a
// torn-down view can never act on later notifications.
func (c *Controller) Run(ctx context.Context) {
	sub := c.gateway.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-sub.States():
			if !ok {
				return
			}
			c.apply(ctx, st)
		}
	}
}

func (c *Controller) apply(ctx context.Context, st identity.AuthState) {
	if st.SignedIn() {
		c.mu.Lock()
		c.state = StateAuthenticated
		c.principal = st.Email
		c.mu.Unlock()
		c.logger.WithField("principal", st.Email).Debug("session authenticated")
		c.board.Load(ctx, st.Email)
		return
	}
	c.mu.Lock()
	c.state = StateUnauthenticated
	c.principal = ""
	c.mu.Unlock()
	c.logger.Debug("session unauthenticated")
	c.board.Clear()
	c.nav.RedirectToLogin()
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Principal returns the authenticated principal's email and true, or ""
// and false outside StateAuthenticated.
func (c *Controller) Principal() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal, c.state == StateAuthenticated
}
