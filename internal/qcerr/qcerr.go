// Package qcerr defines the stable error codes used across qcview.
//
// Callers branch on codes with GetCode or the Is* helpers rather than on
// message text.
package qcerr

import (
	"errors"
	"fmt"
	"io"
)

// Code is a stable error code string.
type Code string

const (
	EUsage Code = "E_USAGE"

	// ENotFound covers a derivatives root without subjects and artifacts that
	// do not exist on disk.
	ENotFound Code = "E_NOT_FOUND"
	// EUnknownStep is a step token outside both vocabularies.
	EUnknownStep Code = "E_UNKNOWN_STEP"
	// EMalformedName is an artifact filename that does not follow the entity
	// convention.
	EMalformedName Code = "E_MALFORMED_NAME"

	EStoreInit    Code = "E_STORE_INIT"
	EStoreCorrupt Code = "E_STORE_CORRUPT"
	EStoreWrite   Code = "E_STORE_WRITE"
)

// QCError is the standard error type for qcview.
type QCError struct {
	Code    Code
	Msg     string
	Cause   error
	Details map[string]string
}

// Error returns "CODE: message".
func (e *QCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *QCError) Unwrap() error {
	return e.Cause
}

// New creates a QCError with the given code and message.
func New(code Code, msg string) error {
	return &QCError{Code: code, Msg: msg}
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) error {
	return &QCError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NewWithDetails attaches structured context. The map is copied.
func NewWithDetails(code Code, msg string, details map[string]string) error {
	return &QCError{Code: code, Msg: msg, Details: copyDetails(details)}
}

// Wrap creates a QCError around an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &QCError{Code: code, Msg: msg, Cause: err}
}

// GetCode extracts the code from err, or "" if err is not a QCError.
func GetCode(err error) Code {
	var qe *QCError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// As returns (*QCError, true) if err is or wraps a QCError.
func As(err error) (*QCError, bool) {
	var qe *QCError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

func IsNotFound(err error) bool    { return GetCode(err) == ENotFound }
func IsUnknownStep(err error) bool { return GetCode(err) == EUnknownStep }
func IsStoreInit(err error) bool   { return GetCode(err) == EStoreInit }

// ExitCode maps an error to a process exit code: 0 for nil, 2 for usage
// errors, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if GetCode(err) == EUsage {
		return 2
	}
	return 1
}

// Print writes err to w as
//
//	error_code: <CODE>
//	<message>
func Print(w io.Writer, err error) {
	if err == nil {
		return
	}
	if qe, ok := As(err); ok {
		_, _ = fmt.Fprintf(w, "error_code: %s\n", qe.Code)
		_, _ = fmt.Fprintln(w, qe.Msg)
		if qe.Cause != nil {
			_, _ = fmt.Fprintf(w, "cause: %v\n", qe.Cause)
		}
		return
	}
	_, _ = fmt.Fprintln(w, err.Error())
}

func copyDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	cp := make(map[string]string, len(details))
	for k, v := range details {
		cp[k] = v
	}
	return cp
}
