package model

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the booking core.
type Kind int

const (
	KindDatabase Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindLockAcquisition
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "reservation_conflict"
	case KindNotFound:
		return "not_found"
	case KindLockAcquisition:
		return "lock_acquisition"
	default:
		return "database"
	}
}

var (
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("reservation conflict")
	ErrNotFound        = errors.New("not found")
	ErrLockAcquisition = errors.New("lock acquisition error")
	ErrDatabase        = errors.New("database error")
)

var kindSentinels = map[Kind]error{
	KindValidation:      ErrValidation,
	KindConflict:        ErrConflict,
	KindNotFound:        ErrNotFound,
	KindLockAcquisition: ErrLockAcquisition,
	KindDatabase:        ErrDatabase,
}

// Error is a classified failure. errors.Is matches it against the sentinel of its Kind
// as well as against the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = kindSentinels[e.Kind].Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// Retryable reports whether a caller may re-run the whole booking protocol.
func (e *Error) Retryable() bool { return e.Kind == KindConflict }

func newError(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validationf(op, format string, args ...any) error {
	return newError(KindValidation, op, nil, format, args...)
}

func Conflictf(op, format string, args ...any) error {
	return newError(KindConflict, op, nil, format, args...)
}

func NotFoundf(op, format string, args ...any) error {
	return newError(KindNotFound, op, nil, format, args...)
}

// ConflictErr wraps a cause (serialization failure, lock contention) as a conflict.
func ConflictErr(op string, err error, format string, args ...any) error {
	return newError(KindConflict, op, err, format, args...)
}

func LockErr(op string, err error) error {
	return &Error{Kind: KindLockAcquisition, Op: op, Err: err}
}

func DatabaseErr(op string, err error) error {
	return &Error{Kind: KindDatabase, Op: op, Err: err}
}

// KindOf classifies err. Unclassified errors are reported as database failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindDatabase
}

// IsClientError reports whether the failure is caused by the request itself.
func IsClientError(err error) bool {
	k := KindOf(err)
	return k == KindValidation || k == KindNotFound
}
