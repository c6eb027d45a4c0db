// Package cdc defines the error taxonomy shared by the ingestion and fan-out paths.
package cdc

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure by how it must be handled.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig is a missing or unparseable configuration. Fatal at startup.
	KindConfig
	// KindConnection means the store could not be reached at startup. Fatal at startup.
	KindConnection
	// KindVersionUnsupported rejects one host event; returned to the host.
	KindVersionUnsupported
	// KindDecode is a malformed payload for a watched account; the branch is skipped.
	KindDecode
	// KindStoreWrite is a failed upsert or append; nothing is published.
	KindStoreWrite
	// KindNotify is a failed publish after a committed write.
	KindNotify
	// KindFetchMiss means the dispatcher could not re-fetch a subject.
	KindFetchMiss
)

// String returns the kind label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindConnection:
		return "connection"
	case KindVersionUnsupported:
		return "version_unsupported"
	case KindDecode:
		return "decode"
	case KindStoreWrite:
		return "store_write"
	case KindNotify:
		return "notify"
	case KindFetchMiss:
		return "fetch_miss"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind must stop the process.
func (k Kind) Fatal() bool {
	return k == KindConfig || k == KindConnection
}

// Sentinel errors, one per kind, for errors.Is matching.
var (
	ErrConfig             = &sentinel{KindConfig}
	ErrConnection         = &sentinel{KindConnection}
	ErrVersionUnsupported = &sentinel{KindVersionUnsupported}
	ErrDecode             = &sentinel{KindDecode}
	ErrStoreWrite         = &sentinel{KindStoreWrite}
	ErrNotify             = &sentinel{KindNotify}
	ErrFetchMiss          = &sentinel{KindFetchMiss}
)

type sentinel struct{ kind Kind }

func (s *sentinel) Error() string { return s.kind.String() }

// Error is a classified failure about one subject (account or file).
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

// New wraps err with a kind and subject.
func New(kind Kind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Subject, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	s, ok := target.(*sentinel)
	return ok && s.kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
