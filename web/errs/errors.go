// Package errs defines the errors handlers return to the web layer.
package errs

import (
	"fmt"
	"net/http"
	"runtime"
)

// Error is an error carrying the HTTP status it should be reported with.
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	FuncName string `json:"-"`
	FileName string `json:"-"`
	InnerErr bool   `json:"-"`
	Err      error  `json:"-"`
}

// New constructs an error whose message is safe to show to clients.
func New(code int, err error) *Error {
	return newError(code, err, false)
}

// NewInternal creates an error that is not intended
// to be seen by users.
func NewInternal(err error) *Error {
	return newError(http.StatusInternalServerError, err, true)
}

func newError(code int, err error, internal bool) *Error {
	pc, filename, line, _ := runtime.Caller(2)

	return &Error{
		Code:     code,
		Message:  err.Error(),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
		InnerErr: internal,
		Err:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsInternal returns true if the error is internal.
func (e *Error) IsInternal() bool {
	return e.InnerErr
}
