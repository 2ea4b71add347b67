package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so wrapped sentinels
// still satisfy errors.Is(err, ErrFileMove).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigInvalid   = &AppError{Code: "CONFIG_001", Message: "invalid configuration"}
	ErrWatchDirMissing = &AppError{Code: "CONFIG_002", Message: "watch folder not configured or missing"}

	ErrScanInProgress = &AppError{Code: "SCAN_001", Message: "another scan is in progress"}

	ErrDocumentNotFound  = &AppError{Code: "DOC_001", Message: "document not found"}
	ErrInvalidTransition = &AppError{Code: "DOC_002", Message: "invalid status transition"}
	ErrDuplicate         = &AppError{Code: "DOC_003", Message: "document with identical checksum exists"}
	ErrFieldNotFound     = &AppError{Code: "DOC_004", Message: "classification field not found"}
	ErrValueNotFound     = &AppError{Code: "DOC_005", Message: "no extracted value for field"}

	ErrFileMove  = &AppError{Code: "INTEGRITY_001", Message: "file move failed"}
	ErrLockWrite = &AppError{Code: "INTEGRITY_002", Message: "scan lock not writable"}

	ErrProviderNotConfigured = &AppError{Code: "LLM_001", Message: "no AI provider configured"}
	ErrProviderUnavailable   = &AppError{Code: "LLM_002", Message: "AI provider unavailable"}
	ErrRateLimited           = &AppError{Code: "LLM_003", Message: "rate limit exceeded"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithCause returns a copy of a sentinel carrying cause.
func (e *AppError) WithCause(cause error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Cause: cause}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
