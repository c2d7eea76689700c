package vfs

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"strings"

	"github.com/codekarta/filedock/internal/tenant"
)

// Resolver maps a (tenant, logical path) pair to an absolute filesystem
// location, guaranteeing the result stays inside the tenant's root.
// Every storage operation re-resolves through it immediately before each
// filesystem call instead of trusting a previously resolved path.
type Resolver struct {
	registry tenant.Registry
}

// NewResolver creates a resolver over the given tenant registry.
func NewResolver(registry tenant.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Registry returns the underlying tenant registry.
func (r *Resolver) Registry() tenant.Registry { return r.registry }

// CleanLogical canonicalizes a logical path to the slash-separated,
// rooted form used throughout the API: "/", "/docs/a.txt". A leading
// slash denotes the tenant root, never the host filesystem root.
func CleanLogical(p string) string {
	return path.Clean("/" + strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/"))
}

// relative normalizes a logical path to a root-relative slash path.
// It returns ok=false when the normalized form escapes the root, which
// covers nested forms like "a/../../b" that only escape after cleaning.
func relative(logical string) (string, bool) {
	rel := strings.TrimLeft(strings.ReplaceAll(logical, "\\", "/"), "/")
	rel = path.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	if rel == "." {
		rel = ""
	}
	return rel, true
}

// Resolve returns the absolute path for logical inside the tenant's
// root. Any traversal that escapes the root after normalization is
// rejected with KindTraversal. The containment check compares against
// root + separator as a prefix, not a naive substring, so "/root/foo"
// never matches "/root/foobar".
func (r *Resolver) Resolve(ctx context.Context, tenantID, logical string) (string, error) {
	const op = "resolve"

	t, err := r.registry.Get(ctx, tenantID)
	if err != nil {
		var unknown tenant.ErrUnknownTenant
		if errors.As(err, &unknown) {
			return "", newError(op, tenantID, logical, KindNotFound, err)
		}
		return "", newError(op, tenantID, logical, KindInternal, err)
	}

	rel, ok := relative(logical)
	if !ok {
		return "", newError(op, tenantID, logical, KindTraversal, nil)
	}

	root := filepath.Clean(t.Root)
	abs := root
	if rel != "" {
		abs = filepath.Join(root, filepath.FromSlash(rel))
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", newError(op, tenantID, logical, KindTraversal, nil)
	}
	return abs, nil
}

// Tenant returns the tenant record for an ID, with vfs error typing.
func (r *Resolver) Tenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	t, err := r.registry.Get(ctx, tenantID)
	if err != nil {
		var unknown tenant.ErrUnknownTenant
		if errors.As(err, &unknown) {
			return nil, newError("tenant", tenantID, "/", KindNotFound, err)
		}
		return nil, newError("tenant", tenantID, "/", KindInternal, err)
	}
	return t, nil
}
