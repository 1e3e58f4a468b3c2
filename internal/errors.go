package internal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Callers match with errors.Is.
var (
	// ErrNotAuthenticated means no session is held, or the held session has
	// passed its expiry instant. Surfaced to users as a re-login prompt,
	// never as a raw store or provider error.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionExpired is a more specific flavour of ErrNotAuthenticated
	// used when a session existed but its expiry instant has elapsed.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidIDToken means the identity token returned by the provider
	// could not be decoded into subject id + email. Treated as a hard
	// authentication failure rather than silently installing empty claims.
	ErrInvalidIDToken = errors.New("invalid identity token")

	ErrNotFound = errors.New("not found")
)

// ValidationError is an input-validation failure: empty or malformed fields
// rejected before any external call. Its message is user-facing.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Validationf builds a *ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type HandlerError struct {
	StatusCode int
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("HTTP %d : %s", e.StatusCode, e.Err.Error())
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type jsonError struct {
	Err string `json:"error"`
}

func (e HandlerError) JSON() []byte {
	je := jsonError{e.Error()}
	b, _ := json.Marshal(je)
	return b
}
