// Package packages implements package acquisition: the feed-partitioned
// download cache, the retrying downloader, and archive normalization.
package packages

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies an acquisition error for retry and recovery logic.
type ErrorKind string

const (
	// KindInvalidPackageID indicates a malformed package identifier,
	// such as an owner/repo id with an empty half. Never retried.
	KindInvalidPackageID ErrorKind = "invalid-package-id"

	// KindTransientNetwork indicates a failure that may succeed on
	// retry: connection reset, timeout, 5xx response.
	KindTransientNetwork ErrorKind = "transient-network"

	// KindAuthentication indicates the feed rejected the supplied
	// credentials (HTTP 401). Never retried.
	KindAuthentication ErrorKind = "authentication"

	// KindRateLimited indicates the feed's request quota is exhausted
	// (HTTP 403 with zero remaining quota). Carries the wait until the
	// quota resets. Never retried.
	KindRateLimited ErrorKind = "rate-limited"

	// KindRequestRejected indicates the feed refused the request as
	// unprocessable (HTTP 422). Never retried.
	KindRequestRejected ErrorKind = "request-rejected"

	// KindPackageNotFound indicates the feed was exhausted without a
	// matching package version.
	KindPackageNotFound ErrorKind = "package-not-found"

	// KindDownloadExhausted indicates every retry attempt failed.
	KindDownloadExhausted ErrorKind = "download-exhausted"

	// KindCacheDecode indicates a cached file name that does not decode
	// to a package identity. Lookup skips the entry and continues.
	KindCacheDecode ErrorKind = "cache-decode"

	// KindArchiveEntry indicates a single archive entry failed to
	// rewrite during de-nesting. The rewrite skips it and continues.
	KindArchiveEntry ErrorKind = "archive-entry"

	// KindConventionFailure indicates a pipeline step failed. The
	// pipeline aborts; the journal still records the failed attempt.
	KindConventionFailure ErrorKind = "convention-failure"
)

// Error is a classified acquisition error with optional context.
type Error struct {
	Kind      ErrorKind
	Message   string
	PackageID string
	FeedID    string

	// RetryAfter is the computed wait hint for rate-limit errors.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.PackageID != "" {
		msg += fmt.Sprintf(" (package=%s", e.PackageID)
		if e.FeedID != "" {
			msg += fmt.Sprintf(", feed=%s", e.FeedID)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by kind, so callers can use errors.Is with a bare
// kind sentinel constructed via NewError(kind, "", nil).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError creates a classified error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithPackage adds package context to an error.
func (e *Error) WithPackage(packageID, feedID string) *Error {
	e.PackageID = packageID
	e.FeedID = feedID
	return e
}

// WithRetryAfter adds a rate-limit wait hint to an error.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// KindOf returns the classification of err, or the empty kind when err
// is not a classified error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err may succeed on retry. Unclassified
// errors from the transport layer are treated as transient, so only an
// explicit fatal classification stops the retry loop.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTransientNetwork
	}
	return true
}

// RetryAfterHint extracts the wait hint from a rate-limit error, or
// zero when none is carried.
func RetryAfterHint(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
