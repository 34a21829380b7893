package identity

import (
	"context"
	"sync"
)

// AuthState is one notification from a gateway subscription: the current
// principal, or none when nobody is signed in.
type AuthState struct {
	Email string
}

// SignedIn reports whether the state carries an authenticated principal.
func (s AuthState) SignedIn() bool { return s.Email != "" }

// Gateway is the consumed identity-provider surface. Subscribe delivers the
// current auth state immediately and every change afterwards until the
// subscription is closed.
type Gateway interface {
	SignIn(ctx context.Context, email, password string) (string, error)
	SignUp(ctx context.Context, email, password string) (string, error)
	SignOut(ctx context.Context) error
	Subscribe() *Subscription
}

// Subscription is a cancellable stream of auth-state notifications.
type Subscription struct {
	ch     chan AuthState
	cancel func()
	once   sync.Once
}

// NewSubscription wraps ch in a Subscription whose Close runs cancel exactly
// once. Intended for Gateway implementations, including test doubles.
func NewSubscription(ch chan AuthState, cancel func()) *Subscription {
	if cancel == nil {
		cancel = func() {}
	}
	return &Subscription{ch: ch, cancel: cancel}
}

// States returns the notification channel.
func (s *Subscription) States() <-chan AuthState { return s.ch }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.once.Do(s.cancel) }

// push delivers state without blocking, conflating to the latest state when
// the subscriber is slow.
func (s *Subscription) push(state AuthState) {
	for {
		select {
		case s.ch <- state:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// broker fans auth-state changes out to subscribers and replays the current
// state to new ones.
type broker struct {
	mu    sync.Mutex
	state AuthState
	subs  map[*Subscription]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[*Subscription]struct{})}
}

func (b *broker) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := NewSubscription(make(chan AuthState, 1), nil)
	sub.cancel = func() { b.unsubscribe(sub) }
	b.subs[sub] = struct{}{}
	sub.push(b.state)
	return sub
}

func (b *broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

func (b *broker) set(state AuthState) {
	b.mu.Lock()
	b.state = state
	for sub := range b.subs {
		sub.push(state)
	}
	b.mu.Unlock()
}

func (b *broker) current() AuthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
