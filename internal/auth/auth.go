// Package auth provides bcrypt credential checks and JWT session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/codekarta/filedock/internal/logging"
	"github.com/codekarta/filedock/internal/metrics"
)

type contextKey string

const userContextKey contextKey = "user"

// Roles. A user or admin is scoped to one tenant; a superadmin may act
// across all tenants.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// ErrInvalidCredentials is returned for unknown users and bad passwords
// alike, so the response never reveals which one it was.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrUserNotFound is returned by UserStore lookups for unknown usernames.
var ErrUserNotFound = errors.New("user not found")

// User is a stored account.
type User struct {
	Username     string
	PasswordHash string
	Role         string
	TenantID     string
}

// UserStore looks up accounts by username.
type UserStore interface {
	Lookup(ctx context.Context, username string) (*User, error)
}

// Claims is the principal carried by a session token.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// IsSuperadmin reports whether the principal may act across tenants.
func (c *Claims) IsSuperadmin() bool { return c.Role == RoleSuperadmin }

// Auth verifies credentials and issues/validates session tokens.
type Auth struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
}

// New creates an Auth handler. ttl <= 0 defaults to 24h.
func New(users UserStore, jwtSecret string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{users: users, secret: []byte(jwtSecret), ttl: ttl}
}

// Authenticate checks a username/password pair and returns a signed
// session token with its claims.
func (a *Auth) Authenticate(ctx context.Context, username, password string) (string, *Claims, error) {
	u, err := a.users.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			metrics.RecordAuthAttempt(false)
			logging.Warn("login failed: unknown user", zap.String("username", username))
			return "", nil, ErrInvalidCredentials
		}
		metrics.RecordAuthAttempt(false)
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: invalid password", zap.String("username", username))
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	claims := &Claims{
		Username: u.Username,
		Role:     u.Role,
		TenantID: u.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "filedock",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	metrics.RecordAuthAttempt(true)
	logging.Info("login successful",
		zap.String("username", u.Username),
		zap.String("role", u.Role),
		zap.String("tenant", u.TenantID))
	return tokenStr, claims, nil
}

// VerifyToken validates a session token and returns its principal, or
// nil with an error when the token is missing, malformed, or expired.
func (a *Auth) VerifyToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid session token and stores
// the principal in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := ExtractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}
		claims, err := a.VerifyToken(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// TryClaims extracts and validates a token if present, returning nil
// without error when the request carries none. Used on routes that
// serve public content.
func (a *Auth) TryClaims(r *http.Request) *Claims {
	tokenStr := ExtractToken(r)
	if tokenStr == "" {
		return nil
	}
	claims, err := a.VerifyToken(tokenStr)
	if err != nil {
		return nil
	}
	return claims
}

// GetClaims extracts the principal from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// WithClaims injects a principal into a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// ExtractToken pulls the bearer token from the Authorization header,
// falling back to the token query parameter.
func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// HashPassword hashes a password for storage.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q,"code":%d}`+"\n", message, code)
}
