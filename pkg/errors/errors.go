// Package errors defines the sentinel errors shared by the term-search core
// and the AppError wrapper that carries a process exit code alongside them.
package errors

import (
	"errors"
	"fmt"
)

// Invalid arguments, rejected before any I/O.
var (
	ErrInvalidTerm          = errors.New("invalid term")
	ErrInvalidWeight        = errors.New("invalid supplied weight")
	ErrInvalidFieldBitmap   = errors.New("invalid field bitmap")
	ErrInvalidThreshold     = errors.New("invalid frequent term threshold")
	ErrInvalidDocumentRange = errors.New("invalid document id range")
	ErrInvalidIndex         = errors.New("invalid index")
	ErrUsage                = errors.New("invalid usage")
)

// Storage and decoding failures.
var (
	ErrTermLookupFailed = errors.New("term lookup failed")
	ErrGetBlockFailed   = errors.New("failed to get postings block")
	ErrBlockNotFound    = errors.New("postings block not found")
	ErrCorruptBlock     = errors.New("corrupt postings block")
	ErrTruncatedData    = errors.New("truncated data")
	ErrVarintOverflow   = errors.New("varint overflows 64 bits")
)

// Resource and buffer contract failures.
var (
	ErrMemory         = errors.New("allocation limit exceeded")
	ErrBufferReadOnly = errors.New("accumulator buffer is read-only")
	ErrBufferTooSmall = errors.New("accumulator buffer is too small")
)

// Exit codes reported by the command line tools.
const (
	CodeOK       = 0
	CodeInternal = 1
	CodeUsage    = 2
	CodeStorage  = 3
	CodeCorrupt  = 4
	CodeMemory   = 5
)

type AppError struct {
	Err     error
	Message string
	Code    int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, code int, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
		Code:    code,
	}
}

func Newf(sentinel error, code int, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	}
}

// Invalid returns an AppError for a rejected argument.
func Invalid(sentinel error, format string, args ...any) *AppError {
	return Newf(sentinel, CodeUsage, format, args...)
}

func ExitCode(err error) int {
	if err == nil {
		return CodeOK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	switch {
	case errors.Is(err, ErrInvalidTerm), errors.Is(err, ErrInvalidWeight),
		errors.Is(err, ErrInvalidFieldBitmap), errors.Is(err, ErrInvalidThreshold),
		errors.Is(err, ErrInvalidDocumentRange), errors.Is(err, ErrInvalidIndex),
		errors.Is(err, ErrUsage),
		errors.Is(err, ErrBufferReadOnly), errors.Is(err, ErrBufferTooSmall):
		return CodeUsage
	case errors.Is(err, ErrGetBlockFailed), errors.Is(err, ErrTermLookupFailed),
		errors.Is(err, ErrBlockNotFound):
		return CodeStorage
	case errors.Is(err, ErrCorruptBlock), errors.Is(err, ErrTruncatedData),
		errors.Is(err, ErrVarintOverflow):
		return CodeCorrupt
	case errors.Is(err, ErrMemory):
		return CodeMemory
	default:
		return CodeInternal
	}
}

// Is, As and Join re-export the standard helpers so callers need a single
// errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
