package domain

import (
	"errors"
	"fmt"
)

// ErrUnauthorized marks a request rejected for a bad or expired token.
// It is assigned at the transport boundary from the response status code
// and consumed by the session retry wrapper; callers above the wrapper
// only ever see KindSessionExpired.
var ErrUnauthorized = errors.New("unauthorized")

var ErrTaskNotFound = errors.New("task not found")

type Kind string

const (
	KindUploadFailed       Kind = "upload_failed"
	KindSessionExpired     Kind = "session_expired"
	KindIdentityResolution Kind = "identity_resolution_failed"
	KindTaskCreation       Kind = "task_creation_failed"
	KindPollingTransport   Kind = "polling_transport"
)

// Error is a classified failure. Callers branch on Kind rather than on
// message text.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Relogin is set only on session_expired: the tokens are gone for
	// good and the caller must run a fresh login flow.
	Relogin bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func NewSessionExpired(op string, err error) *Error {
	return &Error{Kind: KindSessionExpired, Op: op, Err: err, Relogin: true}
}

// KindOf extracts the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NeedsRelogin reports whether err means the session is unrecoverable
// and the user must authenticate again.
func NeedsRelogin(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Relogin
	}
	return false
}
