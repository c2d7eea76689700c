package tenant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticRegistry(t *testing.T) {
	r := NewStatic([]Tenant{
		{ID: "acme", Name: "Acme", Root: "/tmp/acme"},
	})

	got, err := r.Get(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Acme" {
		t.Errorf("tenant = %+v", got)
	}

	_, err = r.Get(context.Background(), "ghost")
	var unknown ErrUnknownTenant
	if !errors.As(err, &unknown) || unknown.ID != "ghost" {
		t.Errorf("err = %v, want ErrUnknownTenant", err)
	}
}

func TestFromDir(t *testing.T) {
	base := t.TempDir()
	for _, d := range []string{"zeta", "alpha"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// Plain files are not tenants.
	if err := os.WriteFile(filepath.Join(base, "stray.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := FromDir(base)
	if err != nil {
		t.Fatalf("FromDir: %v", err)
	}
	tenants, err := r.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tenants) != 2 {
		t.Fatalf("tenants = %v", tenants)
	}
	// List is sorted by name.
	if tenants[0].ID != "alpha" || tenants[1].ID != "zeta" {
		t.Errorf("order = %s, %s", tenants[0].ID, tenants[1].ID)
	}
}

func TestAddCreatesRoot(t *testing.T) {
	base := t.TempDir()
	r := NewStatic(nil)
	root := filepath.Join(base, "fresh")
	if err := r.Add(Tenant{ID: "fresh", Name: "Fresh", Root: root}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}
	if _, err := r.Get(context.Background(), "fresh"); err != nil {
		t.Errorf("Get after Add: %v", err)
	}
}
