// Package faults defines the error taxonomy shared by every component:
// configuration mistakes, authentication failures, transient upstream
// trouble, folder resolution misses, channel corruption and malformed
// webhooks. Errors never carry credential material, only a strategy name,
// a user email and a non-sensitive reason.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration: malformed reference or missing mandatory setting.
	// Never retried; must be distinguishable from transient failures.
	KindConfiguration
	// KindAuth: credential fetch, parse or impersonation failure.
	KindAuth
	// KindTransient: network trouble, rate limiting, 5xx. Retryable.
	KindTransient
	// KindFolderNotFound: no folder matched any configured alias.
	KindFolderNotFound
	// KindChannelCorruption: the remote side rejected the stored cursor or
	// reported the channel invalid; forces a drop-and-renew.
	KindChannelCorruption
	// KindWebhook: malformed or unauthenticated inbound notification.
	KindWebhook
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindFolderNotFound:
		return "folder-not-found"
	case KindChannelCorruption:
		return "channel-corruption"
	case KindWebhook:
		return "webhook"
	default:
		return "unknown"
	}
}

// Error is a kinded error. Op names the failing operation, User the affected
// monitored user (may be empty), Reason a safe-to-surface explanation.
type Error struct {
	Kind   Kind
	Op     string
	User   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Reason)
	if e.User != "" {
		msg = fmt.Sprintf("%s: user %s: %s", e.Op, e.User, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error without a cause.
func New(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

// Wrap builds a kinded error around a cause.
func Wrap(kind Kind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// ReasonOf extracts the safe reason string from err.
func ReasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsConfiguration reports whether err is a configuration mistake.
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

// Classify maps an upstream Google API or network error to a kind.
// Rate limits and server errors are transient; 401/403 are auth failures.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return KindTransient
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return KindAuth
		}
		return KindUnknown
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// ClassifyChangeList maps errors from a cursor-scoped change listing.
// A 400/404 here means the stored page token is invalid or too old, which is
// channel-level corruption rather than a request mistake.
func ClassifyChangeList(err error) Kind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusBadRequest || gerr.Code == http.StatusNotFound ||
			gerr.Code == http.StatusGone {
			return KindChannelCorruption
		}
	}
	return Classify(err)
}
