package frame

import (
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"crowdcounter/internal/errs"

	"gocv.io/x/gocv"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, 120, 0), height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data
}

// ========================================
// Data URL parsing
// ========================================

func TestParseDataURL_Valid(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01}
	url := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload)

	data, err := ParseDataURL(url)
	if err != nil {
		t.Fatalf("ParseDataURL failed: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("Expected %v, got %v", payload, data)
	}
}

func TestParseDataURL_Unpadded(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	url := "data:image/png;base64," + base64.RawStdEncoding.EncodeToString(payload)

	data, err := ParseDataURL(url)
	if err != nil {
		t.Fatalf("ParseDataURL failed: %v", err)
	}
	if len(data) != len(payload) {
		t.Errorf("Expected %d bytes, got %d", len(payload), len(data))
	}
}

func TestParseDataURL_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no comma", "data:image/png;base64"},
		{"not base64", "data:image/png;base64,@@@not-base64@@@"},
		{"plain header", "data:image/png,AAAA"},
		{"foreign header", "file:/etc/passwd,AAAA"},
		{"empty payload", "data:image/png;base64,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDataURL(tt.input)
			if !errors.Is(err, errs.ErrInputValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

// ========================================
// Still decoding
// ========================================

func TestDecodeBytes_RoundTrip(t *testing.T) {
	f, err := DecodeBytes(encodePNG(t, 64, 48))
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}
	defer f.Close()

	if f.Width() != 64 || f.Height() != 48 {
		t.Errorf("Expected 64x48, got %dx%d", f.Width(), f.Height())
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Decoded frame should be valid: %v", err)
	}
}

func TestDecodeBytes_Corrupt(t *testing.T) {
	_, err := DecodeBytes([]byte("definitely not an image"))
	if !errors.Is(err, errs.ErrDecode) {
		t.Errorf("Expected decode error, got %v", err)
	}
}

func TestDecodeDataURL(t *testing.T) {
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(encodePNG(t, 32, 32))

	f, err := DecodeDataURL(url)
	if err != nil {
		t.Fatalf("DecodeDataURL failed: %v", err)
	}
	defer f.Close()

	if f.Width() != 32 {
		t.Errorf("Expected width 32, got %d", f.Width())
	}
}

func TestDecodeImageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crowd.png")
	if err := os.WriteFile(path, encodePNG(t, 20, 10), 0644); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}

	f, err := DecodeImageFile(path)
	if err != nil {
		t.Fatalf("DecodeImageFile failed: %v", err)
	}
	defer f.Close()

	if f.Width() != 20 || f.Height() != 10 {
		t.Errorf("Expected 20x10, got %dx%d", f.Width(), f.Height())
	}

	if _, err := DecodeImageFile(filepath.Join(dir, "missing.png")); !errors.Is(err, errs.ErrInputValidation) {
		t.Errorf("Expected validation error for missing file, got %v", err)
	}

	corrupt := filepath.Join(dir, "corrupt.png")
	os.WriteFile(corrupt, []byte("garbage"), 0644)
	if _, err := DecodeImageFile(corrupt); !errors.Is(err, errs.ErrDecode) {
		t.Errorf("Expected decode error for corrupt file, got %v", err)
	}
}

func TestFrameValidate_Malformed(t *testing.T) {
	gray := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC1)
	f := FromMat(gray, 3)
	defer f.Close()

	if err := f.Validate(); !errors.Is(err, errs.ErrInference) {
		t.Errorf("Expected inference error for 1-channel frame, got %v", err)
	}

	empty := FromMat(gocv.NewMat(), 4)
	defer empty.Close()
	if err := empty.Validate(); !errors.Is(err, errs.ErrInference) {
		t.Errorf("Expected inference error for empty frame, got %v", err)
	}
}

// ========================================
// Video
// ========================================

func TestVideo_WriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.avi")

	sink, err := CreateVideo(path, "MJPG", 10, 64, 48)
	if err != nil {
		t.Skipf("MJPG writer unavailable: %v", err)
	}
	for i := 0; i < 5; i++ {
		mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i*40), 0, 0, 0), 48, 64, gocv.MatTypeCV8UC3)
		if err := sink.Write(mat); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		mat.Close()
	}
	if sink.Frames() != 5 {
		t.Errorf("Expected 5 written frames, got %d", sink.Frames())
	}
	sink.Close()

	src, err := OpenVideo(path)
	if err != nil {
		t.Fatalf("OpenVideo failed: %v", err)
	}
	defer src.Close()

	info := src.Info()
	if info.Width != 64 || info.Height != 48 {
		t.Errorf("Expected 64x48, got %dx%d", info.Width, info.Height)
	}

	read := 0
	for {
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if f.Index != read {
			t.Errorf("Expected index %d, got %d", read, f.Index)
		}
		f.Close()
		read++
	}
	if read != 5 {
		t.Errorf("Expected 5 frames, got %d", read)
	}
}

func TestOpenVideo_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := OpenVideo(filepath.Join(dir, "missing.mp4")); !errors.Is(err, errs.ErrInputValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}

	corrupt := filepath.Join(dir, "corrupt.mp4")
	os.WriteFile(corrupt, []byte("not a video container"), 0644)
	src, err := OpenVideo(corrupt)
	if err == nil {
		defer src.Close()
		_, err = src.Next()
	}
	if !errors.Is(err, errs.ErrDecode) {
		t.Errorf("Expected decode error for corrupt video, got %v", err)
	}
}
