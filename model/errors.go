package model

import (
	"errors"
	"fmt"
)

// Errors returned when decoding a DNS response. Decode errors are
// never retried against the same bytes: they complete the query.
var (
	// ErrBadClass means a record carried a class other than IN.
	ErrBadClass = errors.New("ares: unsupported record class")

	// ErrBadName means a domain name could not be decoded.
	ErrBadName = errors.New("ares: bad domain name")

	// ErrBadPointer means a compression pointer was forward,
	// out of bounds, or chased beyond the configured depth.
	ErrBadPointer = errors.New("ares: bad compression pointer")

	// ErrBadResponse means the message is not a well formed response.
	ErrBadResponse = errors.New("ares: malformed DNS response")

	// ErrCountMismatch means a header count field promises more
	// records than the message actually contains.
	ErrCountMismatch = errors.New("ares: record count does not match message")

	// ErrTruncated means a length field would read past the end
	// of the message.
	ErrTruncated = errors.New("ares: truncated DNS message")
)

// Errors completing a query.
var (
	// ErrCancelled means the query was cancelled by the caller.
	ErrCancelled = errors.New("ares: query cancelled")

	// ErrDestroyed means the channel has been destroyed.
	ErrDestroyed = errors.New("ares: channel destroyed")

	// ErrNoData means the response contained no pertinent answer.
	ErrNoData = errors.New("ares: no answer from DNS server")

	// ErrNoName means the server replied NXDOMAIN.
	ErrNoName = errors.New("ares: no such host")

	// ErrRefused means the server refused to answer and the
	// no-check-response flag was set.
	ErrRefused = errors.New("ares: query refused by server")

	// ErrServerFailure means the server replied SERVFAIL and the
	// no-check-response flag was set.
	ErrServerFailure = errors.New("ares: server failure")

	// ErrTimeout means the retry budget was exhausted without
	// receiving a valid response.
	ErrTimeout = errors.New("ares: query timed out")
)

// ConfigError indicates that an option is invalid. It is returned
// when the channel is created or when a query is issued, and is
// fatal to that call only.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ares: invalid %s: %s", e.Option, e.Reason)
}

// TransportError wraps a socket level failure that exhausted the
// retry budget or was not transient.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ares: %s: %s", e.Op, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}
