package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestModelErrorsShareParent(t *testing.T) {
	if !errors.Is(ErrModelLoad, ErrModel) {
		t.Error("ErrModelLoad should wrap ErrModel")
	}
	if !errors.Is(ErrInference, ErrModel) {
		t.Error("ErrInference should wrap ErrModel")
	}
	if errors.Is(ErrInference, ErrModelLoad) {
		t.Error("ErrInference must not match ErrModelLoad")
	}
}

func TestHelpersWrapSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"validation", Validation("missing %s", "x1"), ErrInputValidation},
		{"decode", Decode("corrupt"), ErrDecode},
		{"region", Region("outside"), ErrRegion},
		{"inference", Inference("bad channels"), ErrInference},
		{"load", ModelLoad("no weights"), ErrModelLoad},
		{"io", IO("write", errors.New("disk full")), ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("%v does not match %v", tt.err, tt.target)
			}
			wrapped := fmt.Errorf("handler: %w", tt.err)
			if !errors.Is(wrapped, tt.target) {
				t.Errorf("wrapped %v does not match %v", wrapped, tt.target)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{nil, http.StatusOK},
		{Validation("bad"), http.StatusBadRequest},
		{Region("bad"), http.StatusBadRequest},
		{Decode("bad"), http.StatusUnprocessableEntity},
		{Inference("bad"), http.StatusInternalServerError},
		{ModelLoad("bad"), http.StatusInternalServerError},
		{IO("write", errors.New("x")), http.StatusInternalServerError},
		{NotFound("gone"), http.StatusNotFound},
		{fmt.Errorf("%w: email taken", ErrConflict), http.StatusConflict},
		{ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("acquire detector: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.expected {
			t.Errorf("HTTPStatus(%v) = %d, expected %d", tt.err, got, tt.expected)
		}
	}
}
