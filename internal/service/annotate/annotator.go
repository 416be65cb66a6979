// Package annotate draws detection boxes and the people count onto frames.
// Image, video and ROI results share the same drawing so they look the same.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/service/frame"

	"gocv.io/x/gocv"
)

const (
	BoxThickness = 2
	JPEGQuality  = 90
	fontScale    = 0.8
	labelPadding = 6
)

var (
	BoxColor    = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	RegionColor = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	labelColor  = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	labelBg     = color.RGBA{R: 0, G: 0, B: 0, A: 0}
)

// Label is the count caption drawn on every annotated frame.
func Label(count int) string {
	return fmt.Sprintf("People: %d", count)
}

// Draw renders every box of result and the count label onto mat.
// It returns the number of boxes drawn, which always equals result.Count().
func Draw(mat *gocv.Mat, result dto.DetectionResult) (int, error) {
	drawn := 0
	for _, b := range result.Boxes {
		rect := image.Rect(b.X1, b.Y1, b.X2, b.Y2)
		if err := gocv.Rectangle(mat, rect, BoxColor, BoxThickness); err != nil {
			return drawn, fmt.Errorf("failed to draw rectangle: %w", err)
		}
		drawn++
	}

	if err := drawLabel(mat, Label(result.Count())); err != nil {
		return drawn, err
	}
	return drawn, nil
}

// DrawRegion outlines the region of interest.
func DrawRegion(mat *gocv.Mat, r dto.Region) error {
	if err := gocv.Rectangle(mat, image.Rect(r.X1, r.Y1, r.X2, r.Y2), RegionColor, BoxThickness); err != nil {
		return fmt.Errorf("failed to draw region: %w", err)
	}
	return nil
}

func drawLabel(mat *gocv.Mat, label string) error {
	size := gocv.GetTextSize(label, gocv.FontHersheySimplex, fontScale, BoxThickness)
	bg := image.Rect(0, 0, size.X+2*labelPadding, size.Y+2*labelPadding)
	if err := gocv.Rectangle(mat, bg, labelBg, -1); err != nil {
		return fmt.Errorf("failed to draw label background: %w", err)
	}
	pt := image.Pt(labelPadding, size.Y+labelPadding)
	if err := gocv.PutText(mat, label, pt, gocv.FontHersheySimplex, fontScale, labelColor, BoxThickness); err != nil {
		return fmt.Errorf("failed to draw text: %w", err)
	}
	return nil
}

// Annotate draws result on a copy of f and returns it JPEG-encoded.
// The frame itself is left untouched.
func Annotate(f frame.Frame, result dto.DetectionResult) ([]byte, error) {
	return annotate(f, result, nil)
}

// AnnotateRegion is Annotate plus the ROI outline.
func AnnotateRegion(f frame.Frame, result dto.DetectionResult, region dto.Region) ([]byte, error) {
	return annotate(f, result, &region)
}

func annotate(f frame.Frame, result dto.DetectionResult, region *dto.Region) ([]byte, error) {
	mat := f.Mat.Clone()
	defer mat.Close()

	if region != nil {
		if err := DrawRegion(&mat, *region); err != nil {
			return nil, err
		}
	}
	if _, err := Draw(&mat, result); err != nil {
		return nil, err
	}
	return Encode(mat)
}

// Encode compresses mat to JPEG at a fixed quality.
func Encode(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, JPEGQuality})
	if err != nil {
		return nil, errs.IO("encode jpeg", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
