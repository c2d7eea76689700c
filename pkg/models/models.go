// Package models contains the data types shared by the server and clients.
package models

import (
	"sort"
	"strings"
	"time"
)

// AccessLevel controls who may read a file's bytes.
type AccessLevel string

const (
	// AccessPublic files are served without authentication.
	AccessPublic AccessLevel = "public"
	// AccessPrivate files require a principal from the owning tenant.
	AccessPrivate AccessLevel = "private"
)

// Valid reports whether l is one of the two known levels.
func (l AccessLevel) Valid() bool {
	return l == AccessPublic || l == AccessPrivate
}

// FileEntry describes a file or directory inside a tenant's storage root.
// Path is slash-separated, cleaned, and always starts with "/". Uniqueness
// is (TenantID, parent dir, Name).
type FileEntry struct {
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	IsDir       bool        `json:"is_dir"`
	Size        int64       `json:"size"`
	ModTime     time.Time   `json:"mtime"`
	CreatedAt   time.Time   `json:"ctime"`
	AccessLevel AccessLevel `json:"access_level"`
	TenantID    string      `json:"tenant_id"`
}

// SortEntries orders entries directories-first, then by case-insensitive name.
func SortEntries(entries []FileEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}
