// Package tenant defines the tenant registry: each tenant owns one
// isolated storage root directory.
package tenant

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Tenant is an isolated namespace with its own storage root.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Root string `json:"-"`
}

// ErrUnknownTenant is returned when a tenant ID is not registered.
type ErrUnknownTenant struct{ ID string }

func (e ErrUnknownTenant) Error() string { return fmt.Sprintf("unknown tenant %q", e.ID) }

// Registry resolves tenant IDs to tenants.
type Registry interface {
	Get(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
}

// StaticRegistry is an in-memory registry built from configuration or a
// directory scan. Used in development and tests; production deployments
// typically use the postgres-backed registry.
type StaticRegistry struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewStatic builds a registry from a fixed tenant list.
func NewStatic(tenants []Tenant) *StaticRegistry {
	m := make(map[string]Tenant, len(tenants))
	for _, t := range tenants {
		m[t.ID] = t
	}
	return &StaticRegistry{tenants: m}
}

// FromDir scans base for subdirectories and registers each as a tenant
// whose ID and name are the directory name.
func FromDir(base string) (*StaticRegistry, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve tenants dir: %w", err)
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read tenants dir %s: %w", abs, err)
	}
	var tenants []Tenant
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		tenants = append(tenants, Tenant{
			ID:   de.Name(),
			Name: de.Name(),
			Root: filepath.Join(abs, de.Name()),
		})
	}
	return NewStatic(tenants), nil
}

// Add registers a tenant, creating its root directory if needed.
func (r *StaticRegistry) Add(t Tenant) error {
	if err := os.MkdirAll(t.Root, 0o755); err != nil {
		return fmt.Errorf("create tenant root %s: %w", t.Root, err)
	}
	r.mu.Lock()
	r.tenants[t.ID] = t
	r.mu.Unlock()
	return nil
}

// Get returns the tenant with the given ID.
func (r *StaticRegistry) Get(_ context.Context, id string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, ErrUnknownTenant{ID: id}
	}
	return &t, nil
}

// List returns all tenants ordered by name.
func (r *StaticRegistry) List(_ context.Context) ([]Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
