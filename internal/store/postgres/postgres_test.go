package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/codekarta/filedock/internal/auth"
	"github.com/codekarta/filedock/internal/tenant"
	"github.com/codekarta/filedock/pkg/models"
)

// testStore connects to the database named by TEST_DATABASE_URL, or
// skips. Integration tests assume an empty throwaway database.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	s, err := New(url, t.TempDir())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	hashed, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, auth.User{
		Username:     "alice",
		PasswordHash: hashed,
		Role:         auth.RoleUser,
		TenantID:     "",
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if u.Role != auth.RoleUser {
		t.Errorf("user = %+v", u)
	}

	if _, err := s.Lookup(ctx, "ghost"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Errorf("unknown user err = %v", err)
	}
}

func TestTenantRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateTenant(ctx, tenant.Tenant{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	got, err := s.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Acme" || got.Root == "" {
		t.Errorf("tenant = %+v", got)
	}

	var unknown tenant.ErrUnknownTenant
	if _, err := s.Get(ctx, "ghost"); !errors.As(err, &unknown) {
		t.Errorf("unknown tenant err = %v", err)
	}
}

func TestAccessLevelRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateTenant(ctx, tenant.Tenant{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLevel(ctx, "acme", "/docs", models.AccessPublic); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if err := s.SetLevel(ctx, "acme", "/docs/inner", models.AccessPrivate); err != nil {
		t.Fatal(err)
	}

	level, err := s.Level(ctx, "acme", "/docs")
	if err != nil || level != models.AccessPublic {
		t.Errorf("Level = %s, %v", level, err)
	}
	if level, _ := s.Level(ctx, "acme", "/unset"); level != "" {
		t.Errorf("unset level = %s", level)
	}

	if err := s.MovePrefix(ctx, "acme", "/docs", "/archive"); err != nil {
		t.Fatalf("MovePrefix: %v", err)
	}
	if level, _ := s.Level(ctx, "acme", "/archive/inner"); level != models.AccessPrivate {
		t.Errorf("moved level = %s", level)
	}
	if level, _ := s.Level(ctx, "acme", "/docs"); level != "" {
		t.Errorf("old record survived: %s", level)
	}

	if err := s.DeletePrefix(ctx, "acme", "/archive"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if level, _ := s.Level(ctx, "acme", "/archive/inner"); level != "" {
		t.Errorf("deleted record survived: %s", level)
	}
}
