package lifecycle

import (
	"errors"
	"strings"
)

// Error kinds surfaced by the engine. Match them with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMissingSignature  = errors.New("missing signature")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("request not found")
	ErrConflict          = errors.New("conflict")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

var kinds = []struct {
	kind error
	code string
}{
	{ErrValidation, "validation_error"},
	{ErrInvalidTransition, "invalid_state_transition"},
	{ErrMissingSignature, "missing_signature"},
	{ErrForbidden, "forbidden"},
	{ErrNotFound, "not_found"},
	{ErrConflict, "conflict"},
	{ErrStoreUnavailable, "store_unavailable"},
}

// Error is the typed failure returned by every engine operation.
type Error struct {
	Op        string
	Kind      error
	RequestID string
	Detail    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.RequestID != "" {
		b.WriteString(" (request ")
		b.WriteString(e.RequestID)
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying store error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the stable wire code for err's kind, or "internal_error".
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.code
		}
	}
	return "internal_error"
}

// IsRetryable reports whether err may be retried automatically after
// re-reading the request. Only Conflict qualifies.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
