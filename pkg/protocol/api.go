// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/codekarta/filedock/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Op    string `json:"op,omitempty"`
	Path  string `json:"path,omitempty"`
}

// Pagination describes the page window of a list or search response.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

// LoginRequest is the body for POST /api/v1/auth/token.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PrincipalInfo describes the authenticated principal.
type PrincipalInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Principal PrincipalInfo `json:"principal"`
}

// ListResponse is returned by GET /api/v1/files.
type ListResponse struct {
	Entries    []models.FileEntry `json:"entries"`
	Pagination Pagination         `json:"pagination"`
}

// SearchResponse is returned by GET /api/v1/search.
type SearchResponse struct {
	Results    []models.FileEntry `json:"results"`
	Pagination Pagination         `json:"pagination"`
}

// UploadFailure describes a single file that could not be placed.
type UploadFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// UploadResponse is returned by POST /api/v1/upload. A mixed result is
// still HTTP 200; callers must inspect Failures rather than a single
// pass/fail flag.
type UploadResponse struct {
	Uploaded    []models.FileEntry `json:"uploaded"`
	Failures    []UploadFailure    `json:"failures"`
	DirsCreated int                `json:"dirs_created"`
}

// CreateRequest is the body for POST /api/v1/folder and /api/v1/file.
type CreateRequest struct {
	Path        string             `json:"path"`
	Name        string             `json:"name"`
	Content     string             `json:"content,omitempty"`
	AccessLevel models.AccessLevel `json:"mediaAccessLevel,omitempty"`
}

// RenameRequest is the body for POST /api/v1/rename.
type RenameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"newName"`
}

// MoveRequest is the body for POST /api/v1/move.
type MoveRequest struct {
	Path        string `json:"path"`
	Destination string `json:"destination"`
}

// DuplicateRequest is the body for POST /api/v1/duplicate.
type DuplicateRequest struct {
	Path string `json:"path"`
}

// AccessLevelRequest is the body for POST /api/v1/access-level.
type AccessLevelRequest struct {
	Path        string             `json:"path"`
	AccessLevel models.AccessLevel `json:"accessLevel"`
}

// EntryResponse is returned by single-entry mutations.
type EntryResponse struct {
	Entry models.FileEntry `json:"entry"`
}

// DeleteResponse is returned by DELETE /api/v1/delete.
type DeleteResponse struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}

// SSEEvent is the payload of the change event stream.
type SSEEvent struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenant_id"`
	Path      string `json:"path"`
	NewPath   string `json:"new_path,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
