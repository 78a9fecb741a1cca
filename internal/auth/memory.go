package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type memoryUser struct {
	uid  string
	hash []byte
}

// Memory is a Provider over an in-process user table, used for local
// development and tests.
type Memory struct {
	mu    sync.RWMutex
	users map[string]memoryUser
}

// NewMemory returns an empty user table.
func NewMemory() *Memory {
	return &Memory{users: map[string]memoryUser{}}
}

// AddUser registers email with a bcrypt hash of password.
func (m *Memory) AddUser(email, password, uid string) error {
	if uid == "" {
		return fmt.Errorf("auth: uid required for %s", email)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[normalizeEmail(email)] = memoryUser{uid: uid, hash: hash}
	return nil
}

// SignIn checks the password against the stored hash.
func (m *Memory) SignIn(ctx context.Context, email, password string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	email = normalizeEmail(email)
	m.mu.RLock()
	u, ok := m.users[email]
	m.mu.RUnlock()
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{UID: u.uid, Email: email}, nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
