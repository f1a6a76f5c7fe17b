// Package syncerr defines the machine-readable error kinds surfaced by the
// sync pipeline, in logs, in sync_status rows and in run reports.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind is a short machine-readable error classification.
type Kind string

const (
	UpstreamUnavailable  Kind = "UpstreamUnavailable"
	UpstreamUnauthorized Kind = "UpstreamUnauthorized"
	UpstreamMalformed    Kind = "UpstreamMalformed"
	SinkConflict         Kind = "SinkConflict"
	LocalStoreError      Kind = "LocalStoreError"
	MissingChat          Kind = "MissingChat"
	ConfigError          Kind = "ConfigError"
	Tombstoned           Kind = "Tombstoned"
)

// Retryable reports whether an operation failing with k may be attempted again.
func (k Kind) Retryable() bool {
	return k == UpstreamUnavailable
}

// Fatal reports whether k must abort a fleet run and the process exit code.
func (k Kind) Fatal() bool {
	return k == UpstreamUnauthorized || k == ConfigError
}

// Error carries a Kind together with where it happened.
type Error struct {
	Kind   Kind
	Op     string
	ChatID string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ChatID != "" {
		msg += " (chat " + e.ChatID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, syncerr.New(k, "", nil)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.ChatID == "" && t.Err == nil
}

// New wraps err with kind and op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an error of kind with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithChat returns err annotated with chatID. Errors without a kind become
// LocalStoreError.
func WithChat(err error, chatID string) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		cp := *se
		cp.ChatID = chatID
		return &cp
	}
	return &Error{Kind: LocalStoreError, ChatID: chatID, Err: err}
}

// KindOf returns the kind carried by err, or "" when err has none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Summary returns a one-line description suitable for sync_status.error_summary.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	const maxLen = 500
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
