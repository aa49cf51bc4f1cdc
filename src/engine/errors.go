package engine

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Kind classifies engine failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindPathNotFound
	KindIoFailure
	KindParseFailure
	KindHeaderUpdateFailure
	KindFieldNotFound
	KindIndexAlreadyExists
	KindIndexNotFound
	KindCollectionNotFound
	KindCollectionAlreadyExists
	KindDocumentNotFound
	KindInvalidArgument
	KindNotLive
)

var kindNames = map[Kind]string{
	KindUnknown:                 "unknown",
	KindPathNotFound:            "path not found",
	KindIoFailure:               "i/o failure",
	KindParseFailure:            "parse failure",
	KindHeaderUpdateFailure:     "header update failure",
	KindFieldNotFound:           "field not found",
	KindIndexAlreadyExists:      "index already exists",
	KindIndexNotFound:           "index not found",
	KindCollectionNotFound:      "collection not found",
	KindCollectionAlreadyExists: "collection already exists",
	KindDocumentNotFound:        "document not found",
	KindInvalidArgument:         "invalid argument",
	KindNotLive:                 "collection not loaded",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Semantic reports whether the kind is a caller-level failure such as a
// missing document, as opposed to a storage failure.
func (k Kind) Semantic() bool {
	switch k {
	case KindIoFailure, KindParseFailure, KindHeaderUpdateFailure, KindUnknown:
		return false
	}
	return true
}

// Sentinels for errors.Is checks.
var (
	ErrPathNotFound            = &Error{Kind: KindPathNotFound}
	ErrIoFailure               = &Error{Kind: KindIoFailure}
	ErrParseFailure            = &Error{Kind: KindParseFailure}
	ErrHeaderUpdateFailure     = &Error{Kind: KindHeaderUpdateFailure}
	ErrFieldNotFound           = &Error{Kind: KindFieldNotFound}
	ErrIndexAlreadyExists      = &Error{Kind: KindIndexAlreadyExists}
	ErrIndexNotFound           = &Error{Kind: KindIndexNotFound}
	ErrCollectionNotFound      = &Error{Kind: KindCollectionNotFound}
	ErrCollectionAlreadyExists = &Error{Kind: KindCollectionAlreadyExists}
	ErrDocumentNotFound        = &Error{Kind: KindDocumentNotFound}
	ErrInvalidArgument         = &Error{Kind: KindInvalidArgument}
	ErrNotLive                 = &Error{Kind: KindNotLive}
)

// Error is an engine failure of a given kind, optionally tied to a path and
// wrapping its cause.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func errorf(kind Kind, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Path: path, Err: errors.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps an error to the engine's status codes: 0 on success, 1 for a
// semantic failure and -1 for an I/O, parse or header failure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(*BatchError); ok {
		return -1
	}
	if KindOf(err).Semantic() {
		return 1
	}
	return -1
}

// BatchError reports the files a best-effort batch operation had to skip.
// The operation's partial result is still valid.
type BatchError struct {
	Op  string
	Err error
}

func (b *BatchError) Error() string {
	return fmt.Sprintf("%s skipped %d file(s): %v", b.Op, len(multierr.Errors(b.Err)), b.Err)
}

func (b *BatchError) Unwrap() error { return b.Err }

// Failures returns the individual per-file errors.
func (b *BatchError) Failures() []error { return multierr.Errors(b.Err) }

// batchError wraps accumulated per-file errors, or returns nil if there were none.
func batchError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BatchError{Op: op, Err: err}
}

// IsPartial reports whether err only describes skipped files of an otherwise
// completed batch.
func IsPartial(err error) bool {
	var b *BatchError
	return errors.As(err, &b)
}
