// Package apierr implements the error taxonomy from spec.md §7: a small set
// of kinds the HTTP frontend and the agent's fallback policy both switch on,
// instead of matching raw error strings or status codes ad hoc.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the taxonomy members in spec.md §7.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindRateLimited
	KindUpstream
	KindNetwork
	KindTimeout
	KindProviderEmpty
	KindParse
	KindCancelled
	KindFatal
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Retryable reports whether the agent's fallback policy should retry/fall
// back on this error, per the transient/permanent split in spec.md §4.3/§7.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUpstream, KindNetwork, KindTimeout, KindProviderEmpty:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code the HTTP frontend (C8) should
// return, per spec.md §7's propagation policy.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor returns the HTTP status for any error: apierr.Error values use
// their own mapping, everything else is a 500.
func StatusFor(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.HTTPStatus()
	}
	return http.StatusInternalServerError
}
