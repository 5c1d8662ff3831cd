package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthExpired is returned when the provider rejects the credentials
	ErrAuthExpired = errors.New("provider auth expired")
	// ErrRateLimited is returned when the provider throttles requests
	ErrRateLimited = errors.New("provider rate limited")
	// ErrNetwork is returned when the provider could not be reached
	ErrNetwork = errors.New("provider unreachable")
	// ErrNoActiveDevice is returned when there is no device to send commands to
	ErrNoActiveDevice = errors.New("no active playback device")
)

// Error describes a failed provider operation
type Error struct {
	Op     string
	Status int
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause
func (e *Error) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// FromStatus maps an HTTP status code onto the provider error taxonomy.
// It returns nil for 2xx codes.
func FromStatus(op string, status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}

	kind := ErrNetwork
	switch {
	case status == http.StatusUnauthorized:
		kind = ErrAuthExpired
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status == http.StatusNotFound:
		kind = ErrNoActiveDevice
	}

	var cause error
	if body != "" {
		cause = errors.New(body)
	}
	return &Error{Op: op, Status: status, Kind: kind, Err: cause}
}

// IsTransient reports whether err belongs to the transient taxonomy. Agents
// treat every provider failure as skip-this-cycle; this only affects log level.
func IsTransient(err error) bool {
	return errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrNoActiveDevice)
}
