// Package access persists per-file access levels and enforces them
// against the requesting principal.
package access

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/codekarta/filedock/internal/auth"
	"github.com/codekarta/filedock/pkg/models"
)

// Store persists explicit access-level records keyed by
// (tenantID, logical path). Paths are cleaned, slash-separated, and
// rooted at "/". A missing record means the level is inherited.
type Store interface {
	// Level returns the explicit record for path, or ("", nil) when none is set.
	Level(ctx context.Context, tenantID, path string) (models.AccessLevel, error)
	// SetLevel records an explicit level for path. Idempotent.
	SetLevel(ctx context.Context, tenantID, path string, level models.AccessLevel) error
	// MovePrefix rewrites records under oldPath to live under newPath.
	MovePrefix(ctx context.Context, tenantID, oldPath, newPath string) error
	// DeletePrefix drops all records at or under the given path.
	DeletePrefix(ctx context.Context, tenantID, path string) error
}

// Effective resolves the access level for a path: the nearest ancestor
// (including the path itself) with an explicit record wins; without any
// record the level is private.
func Effective(ctx context.Context, s Store, tenantID, p string) (models.AccessLevel, error) {
	for {
		level, err := s.Level(ctx, tenantID, p)
		if err != nil {
			return "", err
		}
		if level != "" {
			return level, nil
		}
		if p == "/" {
			return models.AccessPrivate, nil
		}
		p = path.Dir(p)
	}
}

// Gate decides whether a principal may read an entry. Side-effect-free.
type Gate struct{}

// Authorize reports whether principal may read the bytes of entry.
// Public entries need no principal; private entries need a principal
// from the owning tenant or a superadmin.
func (Gate) Authorize(principal *auth.Claims, entry models.FileEntry) bool {
	if entry.AccessLevel == models.AccessPublic {
		return true
	}
	if principal == nil {
		return false
	}
	if principal.IsSuperadmin() {
		return true
	}
	return principal.TenantID == entry.TenantID
}

// AuthorizeListing reports whether principal may see entry metadata.
// Listings always require a principal, regardless of access level.
func (Gate) AuthorizeListing(principal *auth.Claims, entry models.FileEntry) bool {
	if principal == nil {
		return false
	}
	if principal.IsSuperadmin() {
		return true
	}
	return principal.TenantID == entry.TenantID
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	levels map[string]map[string]models.AccessLevel // tenantID -> path -> level
}

// NewMemoryStore creates an empty in-memory access-level store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{levels: make(map[string]map[string]models.AccessLevel)}
}

func (m *MemoryStore) Level(_ context.Context, tenantID, p string) (models.AccessLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levels[tenantID][p], nil
}

func (m *MemoryStore) SetLevel(_ context.Context, tenantID, p string, level models.AccessLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels[tenantID] == nil {
		m.levels[tenantID] = make(map[string]models.AccessLevel)
	}
	m.levels[tenantID][p] = level
	return nil
}

func (m *MemoryStore) MovePrefix(_ context.Context, tenantID, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant := m.levels[tenantID]
	if tenant == nil {
		return nil
	}
	moved := make(map[string]models.AccessLevel)
	for p, level := range tenant {
		if p == oldPath || strings.HasPrefix(p, oldPath+"/") {
			moved[newPath+strings.TrimPrefix(p, oldPath)] = level
			delete(tenant, p)
		}
	}
	for p, level := range moved {
		tenant[p] = level
	}
	return nil
}

func (m *MemoryStore) DeletePrefix(_ context.Context, tenantID, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant := m.levels[tenantID]
	for recorded := range tenant {
		if recorded == p || strings.HasPrefix(recorded, p+"/") {
			delete(tenant, recorded)
		}
	}
	return nil
}
