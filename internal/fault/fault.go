// Package fault defines the error taxonomy shared by the export pipeline.
// Every fault is a sentinel that callers match with errors.Is; the wrapped
// message carries the detail.
package fault

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when input is rejected before any work starts.
	ErrValidation = errors.New("validation fault")
	// ErrDecode is returned when a source raster or video frame cannot be decoded or seeked.
	ErrDecode = errors.New("decode fault")
	// ErrEncoderInit is returned when the shared encoder capability fails to initialize.
	ErrEncoderInit = errors.New("encoder initialization fault")
	// ErrEncode is returned when serializing a still or encoding a video fails.
	ErrEncode = errors.New("encode fault")
)

// Validation wraps a formatted message with ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Decode wraps err with ErrDecode.
func Decode(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDecode, msg, err)
}

// EncoderInit wraps err with ErrEncoderInit.
func EncoderInit(err error) error {
	return fmt.Errorf("%w: %w", ErrEncoderInit, err)
}

// Encode wraps err with ErrEncode.
func Encode(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEncode, msg, err)
}

// Message returns the single human-readable failure string shown to a user.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrDecode):
		return "Failed to read the source. The file may be corrupted or unsupported."
	case errors.Is(err, ErrEncoderInit):
		return "Failed to load video processor."
	case errors.Is(err, ErrEncode):
		return "Failed to encode the export. Please try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The export timed out."
	default:
		return "Export failed. Please try again."
	}
}
