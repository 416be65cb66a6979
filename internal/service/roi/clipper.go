// Package roi restricts detection to a caller-selected rectangle and maps the
// results back to full-frame coordinates.
package roi

import (
	"context"
	"image"

	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/service/ai"
	"crowdcounter/internal/service/frame"
)

// Clamp limits r to [0,width]x[0,height]. The result must have positive area
// and both sides at least minSize pixels.
func Clamp(r dto.Region, width, height, minSize int) (dto.Region, error) {
	if width <= 0 || height <= 0 {
		return dto.Region{}, errs.Region("frame has no area")
	}

	c := dto.Region{
		X1: clampInt(r.X1, 0, width),
		Y1: clampInt(r.Y1, 0, height),
		X2: clampInt(r.X2, 0, width),
		Y2: clampInt(r.Y2, 0, height),
	}
	if c.Width() <= 0 || c.Height() <= 0 {
		return dto.Region{}, errs.Region("region %s is degenerate or outside the %dx%d frame", r, width, height)
	}
	if c.Width() < minSize || c.Height() < minSize {
		return dto.Region{}, errs.Region("region %s is smaller than %dpx after clamping", c, minSize)
	}
	return c, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clipper runs a Detector on a sub-rectangle of a frame.
type Clipper struct {
	detector ai.Detector
	minSize  int
}

// NewClipper creates a Clipper. minSize is the smallest accepted side in pixels.
func NewClipper(detector ai.Detector, minSize int) *Clipper {
	if minSize < 1 {
		minSize = 1
	}
	return &Clipper{detector: detector, minSize: minSize}
}

// Clip detects people inside region and returns boxes in frame-space.
// Every returned box lies within the original frame.
func (c *Clipper) Clip(ctx context.Context, f frame.Frame, region dto.Region, threshold float64) (dto.DetectionResult, error) {
	clamped, err := Clamp(region, f.Width(), f.Height(), c.minSize)
	if err != nil {
		return dto.DetectionResult{}, err
	}

	// Region shares memory with the parent; clone so the crop is continuous.
	view := f.Mat.Region(image.Rect(clamped.X1, clamped.Y1, clamped.X2, clamped.Y2))
	crop := frame.Frame{Mat: view.Clone(), Index: f.Index, Timestamp: f.Timestamp}
	view.Close()
	defer crop.Close()

	local, err := c.detector.Detect(ctx, crop, threshold)
	if err != nil {
		return dto.DetectionResult{}, err
	}

	boxes := make([]dto.DetectionBox, 0, len(local.Boxes))
	for _, b := range local.Boxes {
		moved := b.Translate(clamped.X1, clamped.Y1)
		if !moved.Within(f.Width(), f.Height()) {
			continue
		}
		boxes = append(boxes, moved)
	}

	return dto.DetectionResult{
		FrameIndex: f.Index,
		Width:      f.Width(),
		Height:     f.Height(),
		Boxes:      boxes,
	}, nil
}

// Detect runs on the whole frame when region is nil and clips otherwise.
func (c *Clipper) Detect(ctx context.Context, f frame.Frame, region *dto.Region, threshold float64) (dto.DetectionResult, error) {
	if region == nil {
		return c.detector.Detect(ctx, f, threshold)
	}
	return c.Clip(ctx, f, *region, threshold)
}

// MinSize returns the smallest accepted region side.
func (c *Clipper) MinSize() int {
	return c.minSize
}
