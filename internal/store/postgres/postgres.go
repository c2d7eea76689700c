// Package postgres provides the PostgreSQL-backed stores for users,
// tenants, and access levels.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/codekarta/filedock/internal/auth"
	"github.com/codekarta/filedock/internal/logging"
	"github.com/codekarta/filedock/internal/metrics"
	"github.com/codekarta/filedock/internal/tenant"
	"github.com/codekarta/filedock/pkg/models"
)

// Store is a PostgreSQL-backed store. It implements auth.UserStore,
// tenant.Registry, and access.Store.
type Store struct {
	db       *sql.DB
	rootBase string // base directory under which tenant roots live
}

// New opens a connection pool and verifies it. Tenant roots resolve
// under rootBase.
func New(databaseURL, rootBase string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, rootBase: rootBase}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'user',
	tenant_id     TEXT REFERENCES tenants(id)
);

CREATE TABLE IF NOT EXISTS access_levels (
	tenant_id TEXT NOT NULL REFERENCES tenants(id),
	path      TEXT NOT NULL,
	level     TEXT NOT NULL,
	PRIMARY KEY (tenant_id, path)
);
`

// InitSchema creates the tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// ─── auth.UserStore ───

// Lookup returns the user with the given username.
func (s *Store) Lookup(ctx context.Context, username string) (*auth.User, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("lookup_user", time.Since(start)) }()

	var u auth.User
	var tenantID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, role, tenant_id FROM users WHERE username = $1`,
		username).Scan(&u.Username, &u.PasswordHash, &u.Role, &tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.TenantID = tenantID.String
	return &u, nil
}

// CreateUser inserts a user, replacing an existing row for the name.
func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_user", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, tenant_id)
		 VALUES ($1, $2, $3, NULLIF($4, ''))
		 ON CONFLICT (username) DO UPDATE
		 SET password_hash = EXCLUDED.password_hash,
		     role = EXCLUDED.role,
		     tenant_id = EXCLUDED.tenant_id`,
		u.Username, u.PasswordHash, u.Role, u.TenantID)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// EnsureDefaultAdmin creates a superadmin account if no users exist.
func (s *Store) EnsureDefaultAdmin(ctx context.Context, username, password string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.CreateUser(ctx, auth.User{
		Username:     username,
		PasswordHash: hashed,
		Role:         auth.RoleSuperadmin,
	}); err != nil {
		return err
	}
	logging.Warn("created default admin account, change its password",
		zap.String("username", username))
	return nil
}

// ─── tenant.Registry ───

// Get returns the tenant with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_tenant", time.Since(start)) }()

	var t tenant.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM tenants WHERE id = $1`, id).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrUnknownTenant{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	t.Root = filepath.Join(s.rootBase, t.ID)
	return &t, nil
}

// List returns all tenants ordered by name.
func (s *Store) List(ctx context.Context) ([]tenant.Tenant, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_tenants", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM tenants ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		t.Root = filepath.Join(s.rootBase, t.ID)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTenant registers a tenant row.
func (s *Store) CreateTenant(ctx context.Context, t tenant.Tenant) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_tenant", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		t.ID, t.Name)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// ─── access.Store ───

// Level returns the explicit record for path, or "" when none is set.
func (s *Store) Level(ctx context.Context, tenantID, path string) (models.AccessLevel, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_access_level", time.Since(start)) }()

	var level string
	err := s.db.QueryRowContext(ctx,
		`SELECT level FROM access_levels WHERE tenant_id = $1 AND path = $2`,
		tenantID, path).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query access level: %w", err)
	}
	return models.AccessLevel(level), nil
}

// SetLevel records an explicit level for path.
func (s *Store) SetLevel(ctx context.Context, tenantID, path string, level models.AccessLevel) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_access_level", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_levels (tenant_id, path, level) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, path) DO UPDATE SET level = EXCLUDED.level`,
		tenantID, path, string(level))
	if err != nil {
		return fmt.Errorf("upsert access level: %w", err)
	}
	return nil
}

// MovePrefix rewrites records under oldPath to live under newPath.
func (s *Store) MovePrefix(ctx context.Context, tenantID, oldPath, newPath string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("move_access_prefix", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`UPDATE access_levels
		 SET path = $3 || substring(path FROM char_length($2) + 1)
		 WHERE tenant_id = $1 AND (path = $2 OR path LIKE $2 || '/%')`,
		tenantID, oldPath, newPath)
	if err != nil {
		return fmt.Errorf("move access prefix: %w", err)
	}
	return nil
}

// DeletePrefix drops all records at or under the given path.
func (s *Store) DeletePrefix(ctx context.Context, tenantID, path string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_access_prefix", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM access_levels
		 WHERE tenant_id = $1 AND (path = $2 OR path LIKE $2 || '/%')`,
		tenantID, path)
	if err != nil {
		return fmt.Errorf("delete access prefix: %w", err)
	}
	return nil
}
