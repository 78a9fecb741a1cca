// Package auth signs agents in against the hosted identity service and
// tracks who is signed in for each portal session.
package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is an authenticated account.
type Identity struct {
	UID     string `json:"uid"`
	Email   string `json:"email"`
	IDToken string `json:"-"`
}

// Provider verifies email/password pairs.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (Identity, error)
}

// Session is the auth state of a single portal session. Each session owns
// its own instance; nothing here is process-wide.
type Session struct {
	provider Provider

	mu        sync.Mutex
	current   *Identity
	observers map[int]func(*Identity)
	nextID    int
}

// NewSession returns a signed-out session.
func NewSession(p Provider) *Session {
	return &Session{provider: p, observers: map[int]func(*Identity){}}
}

// Current returns a copy of the signed-in identity, or nil.
func (s *Session) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIdentity(s.current)
}

// SignIn verifies the credentials and, on success, notifies observers.
func (s *Session) SignIn(ctx context.Context, email, password string) (Identity, error) {
	id, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	s.set(&id)
	return id, nil
}

// SignOut clears the identity and notifies observers.
func (s *Session) SignOut() {
	s.set(nil)
}

// OnAuthStateChanged registers fn and calls it right away with the
// current identity, then on every change. The returned func unsubscribes.
// fn runs on the goroutine that caused the change and must not call back
// into the Session.
func (s *Session) OnAuthStateChanged(fn func(*Identity)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	cur := copyIdentity(s.current)
	s.mu.Unlock()

	fn(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) set(id *Identity) {
	s.mu.Lock()
	s.current = copyIdentity(id)
	fns := make([]func(*Identity), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
