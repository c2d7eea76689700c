package auth

import (
	"context"
	"sync"
)

// MemoryUsers is an in-memory UserStore for development and tests.
// Production deployments use the postgres-backed store.
type MemoryUsers struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryUsers creates an empty in-memory user store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[string]User)}
}

// Add stores a user, hashing the given plaintext password.
func (m *MemoryUsers) Add(username, password, role, tenantID string) error {
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.users[username] = User{
		Username:     username,
		PasswordHash: hashed,
		Role:         role,
		TenantID:     tenantID,
	}
	m.mu.Unlock()
	return nil
}

// Lookup returns the user with the given username.
func (m *MemoryUsers) Lookup(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}
