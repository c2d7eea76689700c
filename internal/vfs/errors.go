package vfs

import (
	"errors"
	"fmt"
)

// Kind classifies a storage error for status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindTraversal
	KindNotFound
	KindPermission
	KindConflict
	KindInvalidQuery
)

func (k Kind) String() string {
	switch k {
	case KindTraversal:
		return "traversal"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission_denied"
	case KindConflict:
		return "conflict"
	case KindInvalidQuery:
		return "invalid_query"
	default:
		return "internal"
	}
}

// Error is a storage error. It always carries the attempted operation,
// the tenant, and the logical path; errors are never swallowed on the
// way up.
type Error struct {
	Op     string
	Tenant string
	Path   string
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s:%s: %s", e.Op, e.Tenant, e.Path, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(op, tenant, path string, kind Kind, err error) *Error {
	return &Error{Op: op, Tenant: tenant, Path: path, Kind: kind, Err: err}
}
