// Package errs holds the failure kinds shared by the analysis pipeline and the HTTP layer.
// Errors are created by wrapping one of the sentinels, so callers match with errors.Is.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInputValidation marks client-correctable input problems (bad file type, missing
	// field, malformed payload, non-numeric coordinates).
	ErrInputValidation = errors.New("invalid input")
	// ErrDecode marks corrupt or undecodable image/video bytes.
	ErrDecode = errors.New("decode failed")
	// ErrRegion marks a region of interest that is degenerate or outside the frame.
	ErrRegion = errors.New("invalid region")
	// ErrModel is the parent of every model failure.
	ErrModel = errors.New("model error")
	// ErrModelLoad marks a model that could not be initialized. Fatal at startup.
	ErrModelLoad = fmt.Errorf("%w: load failed", ErrModel)
	// ErrInference marks a failed forward pass or a malformed frame buffer.
	ErrInference = fmt.Errorf("%w: inference failed", ErrModel)
	// ErrIO marks artifact write failures.
	ErrIO = errors.New("artifact io failed")

	// ErrNotFound marks a missing artifact or record.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a duplicate record, like an email registered twice.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized marks missing or wrong credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// Validation wraps ErrInputValidation with a formatted message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInputValidation, fmt.Sprintf(format, args...))
}

// Decode wraps ErrDecode with a formatted message.
func Decode(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

// Region wraps ErrRegion with a formatted message.
func Region(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrRegion, fmt.Sprintf(format, args...))
}

// Inference wraps ErrInference with a formatted message.
func Inference(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInference, fmt.Sprintf(format, args...))
}

// ModelLoad wraps ErrModelLoad with a formatted message.
func ModelLoad(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrModelLoad, fmt.Sprintf(format, args...))
}

// IO wraps ErrIO around a cause.
func IO(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error to the response status used by the API.
// Client mistakes map to 4xx, model and storage failures to 5xx.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInputValidation), errors.Is(err, ErrRegion):
		return http.StatusBadRequest
	case errors.Is(err, ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrModel), errors.Is(err, ErrIO):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
