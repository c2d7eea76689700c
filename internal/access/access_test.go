package access

import (
	"context"
	"testing"

	"github.com/codekarta/filedock/internal/auth"
	"github.com/codekarta/filedock/pkg/models"
)

func TestEffectiveDefaultsToPrivate(t *testing.T) {
	s := NewMemoryStore()
	level, err := Effective(context.Background(), s, "acme", "/docs/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if level != models.AccessPrivate {
		t.Errorf("level = %s, want private", level)
	}
}

func TestEffectiveNearestAncestorWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.SetLevel(ctx, "acme", "/pub", models.AccessPublic); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLevel(ctx, "acme", "/pub/locked", models.AccessPrivate); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want models.AccessLevel
	}{
		{"/pub", models.AccessPublic},
		{"/pub/a.txt", models.AccessPublic},
		{"/pub/deep/b.txt", models.AccessPublic},
		{"/pub/locked", models.AccessPrivate},
		{"/pub/locked/c.txt", models.AccessPrivate},
		{"/elsewhere", models.AccessPrivate},
	}
	for _, tt := range tests {
		level, err := Effective(ctx, s, "acme", tt.path)
		if err != nil {
			t.Fatal(err)
		}
		if level != tt.want {
			t.Errorf("Effective(%s) = %s, want %s", tt.path, level, tt.want)
		}
	}
}

func TestEffectiveIsPerTenant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.SetLevel(ctx, "acme", "/shared", models.AccessPublic); err != nil {
		t.Fatal(err)
	}
	level, err := Effective(ctx, s, "globex", "/shared")
	if err != nil {
		t.Fatal(err)
	}
	if level != models.AccessPrivate {
		t.Errorf("other tenant level = %s, want private", level)
	}
}

func TestGateAuthorize(t *testing.T) {
	gate := Gate{}
	owner := &auth.Claims{Username: "alice", Role: auth.RoleUser, TenantID: "acme"}
	outsider := &auth.Claims{Username: "bob", Role: auth.RoleUser, TenantID: "globex"}
	super := &auth.Claims{Username: "root", Role: auth.RoleSuperadmin}

	public := models.FileEntry{Path: "/a", TenantID: "acme", AccessLevel: models.AccessPublic}
	private := models.FileEntry{Path: "/b", TenantID: "acme", AccessLevel: models.AccessPrivate}

	tests := []struct {
		name      string
		principal *auth.Claims
		entry     models.FileEntry
		want      bool
	}{
		{"anonymous public", nil, public, true},
		{"anonymous private", nil, private, false},
		{"owner public", owner, public, true},
		{"owner private", owner, private, true},
		{"outsider public", outsider, public, true},
		{"outsider private", outsider, private, false},
		{"superadmin private", super, private, true},
	}
	for _, tt := range tests {
		if got := gate.Authorize(tt.principal, tt.entry); got != tt.want {
			t.Errorf("%s: Authorize = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGateAuthorizeListing(t *testing.T) {
	gate := Gate{}
	public := models.FileEntry{Path: "/a", TenantID: "acme", AccessLevel: models.AccessPublic}

	// Listings always require a principal, even for public entries.
	if gate.AuthorizeListing(nil, public) {
		t.Error("anonymous listing allowed")
	}
	outsider := &auth.Claims{Username: "bob", Role: auth.RoleUser, TenantID: "globex"}
	if gate.AuthorizeListing(outsider, public) {
		t.Error("cross-tenant listing allowed")
	}
	super := &auth.Claims{Username: "root", Role: auth.RoleSuperadmin}
	if !gate.AuthorizeListing(super, public) {
		t.Error("superadmin listing denied")
	}
}

func TestMemoryStoreMovePrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for p, l := range map[string]models.AccessLevel{
		"/old":       models.AccessPublic,
		"/old/inner": models.AccessPrivate,
		"/oldish":    models.AccessPublic,
		"/unrelated": models.AccessPublic,
	} {
		if err := s.SetLevel(ctx, "acme", p, l); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.MovePrefix(ctx, "acme", "/old", "/new"); err != nil {
		t.Fatal(err)
	}

	for p, want := range map[string]models.AccessLevel{
		"/new":       models.AccessPublic,
		"/new/inner": models.AccessPrivate,
		"/oldish":    models.AccessPublic, // not a path-segment match
		"/unrelated": models.AccessPublic,
		"/old":       "",
		"/old/inner": "",
	} {
		got, err := s.Level(ctx, "acme", p)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Level(%s) = %q, want %q", p, got, want)
		}
	}
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.SetLevel(ctx, "acme", "/gone", models.AccessPublic); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLevel(ctx, "acme", "/gone/deep", models.AccessPrivate); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLevel(ctx, "acme", "/gonewild", models.AccessPublic); err != nil {
		t.Fatal(err)
	}

	if err := s.DeletePrefix(ctx, "acme", "/gone"); err != nil {
		t.Fatal(err)
	}
	if level, _ := s.Level(ctx, "acme", "/gone/deep"); level != "" {
		t.Errorf("record under deleted prefix survived: %s", level)
	}
	if level, _ := s.Level(ctx, "acme", "/gonewild"); level != models.AccessPublic {
		t.Errorf("sibling record dropped")
	}
}
