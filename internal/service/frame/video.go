package frame

import (
	"fmt"
	"io"
	"os"
	"time"

	"crowdcounter/internal/errs"

	"gocv.io/x/gocv"
)

// VideoInfo describes a video stream.
type VideoInfo struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int // as reported by the container, may be approximate or 0
}

// VideoSource reads frames from a video container one at a time.
type VideoSource struct {
	capture *gocv.VideoCapture
	info    VideoInfo
	next    int
}

// OpenVideo opens a video file for sequential reading.
func OpenVideo(path string) (*VideoSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errs.Validation("video %s not readable: %v", path, err)
	}

	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errs.Decode("failed to open video %s: %v", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, errs.Decode("video %s could not be opened", path)
	}

	info := VideoInfo{
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        capture.Get(gocv.VideoCaptureFPS),
		FrameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
	}
	if info.FPS <= 0 {
		info.FPS = 25
	}
	if info.FrameCount < 0 {
		info.FrameCount = 0
	}

	return &VideoSource{capture: capture, info: info}, nil
}

// Info returns stream properties.
func (v *VideoSource) Info() VideoInfo {
	return v.info
}

// Seek positions the reader so that the next frame returned has the given index.
func (v *VideoSource) Seek(index int) {
	if index <= 0 {
		return
	}
	v.capture.Set(gocv.VideoCapturePosFrames, float64(index))
	v.next = index
}

// Next returns the next frame. It returns io.EOF at end of stream and an
// ErrDecode error when the container yields an empty picture or no frames at all.
func (v *VideoSource) Next() (Frame, error) {
	mat := gocv.NewMat()
	if ok := v.capture.Read(&mat); !ok {
		mat.Close()
		if v.next == 0 {
			return Frame{}, errs.Decode("video contains no decodable frames")
		}
		return Frame{}, io.EOF
	}
	if mat.Empty() {
		mat.Close()
		return Frame{}, errs.Decode("frame %d is empty", v.next)
	}

	f := Frame{
		Mat:       mat,
		Index:     v.next,
		Timestamp: time.Duration(v.capture.Get(gocv.VideoCapturePosMsec) * float64(time.Millisecond)),
	}
	v.next++
	return f, nil
}

// Close releases the capture.
func (v *VideoSource) Close() error {
	return v.capture.Close()
}

// VideoSink writes frames to a video container.
type VideoSink struct {
	writer *gocv.VideoWriter
	frames int
}

// CreateVideo opens a writer with the given FourCC codec, frame rate and size.
func CreateVideo(path, codec string, fps float64, width, height int) (*VideoSink, error) {
	writer, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, errs.IO("open video writer", err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, errs.IO("open video writer", fmt.Errorf("codec %s unavailable for %s", codec, path))
	}
	return &VideoSink{writer: writer}, nil
}

// Write appends one frame.
func (s *VideoSink) Write(mat gocv.Mat) error {
	if err := s.writer.Write(mat); err != nil {
		return errs.IO("write video frame", err)
	}
	s.frames++
	return nil
}

// Frames returns how many frames were written.
func (s *VideoSink) Frames() int {
	return s.frames
}

// Close flushes the container.
func (s *VideoSink) Close() error {
	return s.writer.Close()
}
