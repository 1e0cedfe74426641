package jpeg

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by this package wraps exactly one of
// these, so callers can branch with errors.Is.
var (
	ErrInvalidFormat = errors.New("jpeg: invalid file format")
	ErrInvalidData   = errors.New("jpeg: invalid image data")
	ErrImageTooLarge = errors.New("jpeg: image too large")
	ErrOutOfMemory   = errors.New("jpeg: out of memory")
)

func formatError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFormat, fmt.Sprintf(format, args...))
}

func dataError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}

// decodeError carries a failure out of the entropy decoding hot path.
// It is only ever recovered by runScan.
type decodeError struct{ error }

func fail(err error) {
	panic(decodeError{err})
}

func failf(format string, args ...any) {
	panic(decodeError{formatError(format, args...)})
}
