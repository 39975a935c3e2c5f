package driver

import (
	"errors"
	"fmt"
)

// ErrorKind classifies driver failures so callers dispatch on type,
// never on message content.
type ErrorKind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown ErrorKind = iota
	// KindTransient marks failures safe to retry once, such as a stale
	// row reference after a page reload.
	KindTransient
	// KindCritical marks failures that invalidate the rest of a batch,
	// such as a project that resolves nowhere in the hierarchy.
	KindCritical
	// KindInfra marks infrastructure failures (browser did not start,
	// sidecar unreachable).
	KindInfra
	// KindAuth marks rejected credentials.
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCritical:
		return "critical"
	case KindInfra:
		return "infra"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error is a classified driver failure.
type Error struct {
	Kind ErrorKind
	Op   string // driver operation that failed
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("driver: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("driver: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified driver error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from an error chain, KindUnknown if absent.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
