package archive

import (
	"errors"
	"fmt"
)

var (
	ErrLengthMismatch   = errors.New("length mismatch")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrCancelled        = errors.New("write cancelled")
	ErrInvalidName      = errors.New("invalid file name")
)

// Error describes a stored file that failed verification.
type Error struct {
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}
