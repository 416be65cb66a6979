// Package frame decodes images, encoded stills and video containers into BGR frames.
package frame

import (
	"encoding/base64"
	"os"
	"strings"
	"time"

	"crowdcounter/internal/errs"

	"gocv.io/x/gocv"
)

// Frame is one decoded BGR picture plus its position in the source.
// Frames are not modified after decoding; callers that draw must Clone the Mat.
type Frame struct {
	Mat       gocv.Mat
	Index     int
	Timestamp time.Duration
}

// FromMat wraps an already decoded Mat. The Frame takes ownership.
func FromMat(mat gocv.Mat, index int) Frame {
	return Frame{Mat: mat, Index: index}
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.Mat.Cols() }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.Mat.Rows() }

// Close releases the pixel buffer.
func (f Frame) Close() error {
	return f.Mat.Close()
}

// Validate checks that the buffer is a non-empty 3-channel image.
func (f Frame) Validate() error {
	if f.Mat.Empty() || f.Mat.Rows() <= 0 || f.Mat.Cols() <= 0 {
		return errs.Inference("frame %d has zero dimension", f.Index)
	}
	if ch := f.Mat.Channels(); ch != 3 {
		return errs.Inference("frame %d has %d channels, expected 3", f.Index, ch)
	}
	return nil
}

// DecodeImageFile reads a raster image from disk.
func DecodeImageFile(path string) (Frame, error) {
	if _, err := os.Stat(path); err != nil {
		return Frame{}, errs.Validation("image %s not readable: %v", path, err)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return Frame{}, errs.Decode("image %s could not be decoded", path)
	}
	return FromMat(mat, 0), nil
}

// DecodeBytes decodes an encoded still (JPEG, PNG, ...) held in memory.
func DecodeBytes(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, errs.Validation("empty image payload")
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return Frame{}, errs.Decode("failed to decode image: %v", err)
	}
	if mat.Empty() {
		mat.Close()
		return Frame{}, errs.Decode("decoded image is empty")
	}
	return FromMat(mat, 0), nil
}

// ParseDataURL extracts the bytes of a "data:<mime>;base64,<payload>" string.
// Anything that is not a well-formed base64 payload is an input validation error.
func ParseDataURL(dataURL string) ([]byte, error) {
	header, encoded, found := strings.Cut(dataURL, ",")
	if !found {
		return nil, errs.Validation("image payload is not a data URL")
	}
	if header != "" && !strings.HasPrefix(header, "data:") {
		return nil, errs.Validation("unexpected data URL header %q", header)
	}
	if strings.HasPrefix(header, "data:") && !strings.HasSuffix(header, ";base64") {
		return nil, errs.Validation("data URL is not base64 encoded")
	}

	encoded = strings.TrimSpace(encoded)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errs.Validation("invalid base64 payload: %v", err)
		}
	}
	if len(data) == 0 {
		return nil, errs.Validation("empty image payload")
	}
	return data, nil
}

// DecodeDataURL parses and decodes a data URL captured from a live preview.
func DecodeDataURL(dataURL string) (Frame, error) {
	data, err := ParseDataURL(dataURL)
	if err != nil {
		return Frame{}, err
	}
	return DecodeBytes(data)
}
