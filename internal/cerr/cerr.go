// Package cerr defines the closed set of error kinds CIS distinguishes
// across component boundaries (spec.md §7). Every error that crosses a
// component boundary is wrapped in a *Error carrying one of these kinds
// so that callers can branch on Kind without parsing strings.
package cerr

import (
	"errors"
	"fmt"
)

// Kind is a sum type over the error taxonomy. Treat it as closed: a
// switch over Kind should never need a silent default case.
type Kind int

const (
	// Config: a recognized option is missing or invalid. Fatal at startup.
	Config Kind = iota
	// Identity: fingerprint mismatch or key-material permission problem. Fatal.
	Identity
	// Storage: I/O or corruption. May be recoverable via WAL replay, or degraded.
	Storage
	// Crypto: signature or key-exchange failure. Non-fatal, logged per occurrence.
	Crypto
	// Protocol: malformed frame or version mismatch. Drop and log.
	Protocol
	// Permission: ACL or skill-permission denial. Returned to the caller.
	Permission
	// Resource: memory/step/time/fd cap hit. Returned, aborts the current task.
	Resource
	// Timeout: deadline expired. Triggers cancellation propagation.
	Timeout
	// Conflict: optimistic-version mismatch on a state transition.
	Conflict
	// NotFound: key, peer, or skill unknown.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Identity:
		return "identity"
	case Storage:
		return "storage"
	case Crypto:
		return "crypto"
	case Protocol:
		return "protocol"
	case Permission:
		return "permission"
	case Resource:
		return "resource"
	case Timeout:
		return "timeout"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the wrapped form carrying a Kind alongside the usual chain.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error for op failing with kind, wrapping err (which may be nil).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether the first *Error in err's chain carries kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from the first *Error in err's chain. When
// there is none it returns the zero Kind (Config) and false, so callers
// that need to tell "no kind" apart from Config must check the bool.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}
