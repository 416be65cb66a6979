package ai

import (
	"context"
	"image"
	"sync"

	"crowdcounter/internal/config"
	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/service/frame"

	"gocv.io/x/gocv"
)

// RawDetection is one model output before person/threshold filtering.
type RawDetection struct {
	Label      string
	Confidence float32
	Box        image.Rectangle
}

// Model is a concrete inference backend. Implementations are not safe for
// concurrent use. Candidates scoring below minScore may be dropped early.
type Model interface {
	Infer(mat gocv.Mat, minScore float64) ([]RawDetection, error)
	Close() error
}

// Detector finds people on a frame. It is the only view of the model that the
// rest of the pipeline has.
type Detector interface {
	Detect(ctx context.Context, f frame.Frame, threshold float64) (dto.DetectionResult, error)
}

// NewModel loads the backend selected by configuration.
func NewModel(cfg *config.Config) (Model, error) {
	switch cfg.ModelBackend {
	case "ssd":
		return NewSSDModel(cfg.ModelPath, cfg.ConfigPath)
	case "yolo":
		return NewYOLOModel(cfg.ModelPath)
	default:
		return nil, errs.ModelLoad("unknown model backend %q", cfg.ModelBackend)
	}
}

// ModelDetector adapts a Model to the Detector contract: person class only,
// confidence >= threshold, boxes clamped to the frame, sorted by confidence
// then area. Calls are serialized per instance.
type ModelDetector struct {
	model  Model
	mu     sync.Mutex
	closed bool
}

// NewModelDetector wraps a loaded model.
func NewModelDetector(model Model) *ModelDetector {
	return &ModelDetector{model: model}
}

// Detect runs inference on f and returns the filtered person boxes.
func (d *ModelDetector) Detect(ctx context.Context, f frame.Frame, threshold float64) (dto.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return dto.DetectionResult{}, err
	}
	if err := f.Validate(); err != nil {
		return dto.DetectionResult{}, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return dto.DetectionResult{}, errs.Inference("detector is closed")
	}
	raw, err := d.model.Infer(f.Mat, threshold)
	d.mu.Unlock()
	if err != nil {
		return dto.DetectionResult{}, errs.Inference("frame %d: %v", f.Index, err)
	}

	return filterPersons(raw, f, threshold), nil
}

// Close waits for a running inference and releases the model. Later calls to
// Detect fail.
func (d *ModelDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.model.Close()
}

func filterPersons(raw []RawDetection, f frame.Frame, threshold float64) dto.DetectionResult {
	bounds := image.Rect(0, 0, f.Width(), f.Height())
	boxes := make([]dto.DetectionBox, 0, len(raw))

	for _, r := range raw {
		if r.Label != dto.PersonLabel || float64(r.Confidence) < threshold {
			continue
		}
		rect := r.Box.Canon().Intersect(bounds)
		if rect.Empty() {
			continue
		}
		boxes = append(boxes, dto.DetectionBox{
			X1:         rect.Min.X,
			Y1:         rect.Min.Y,
			X2:         rect.Max.X,
			Y2:         rect.Max.Y,
			Confidence: float64(r.Confidence),
			Label:      dto.PersonLabel,
		})
	}
	dto.SortBoxes(boxes)

	return dto.DetectionResult{
		FrameIndex: f.Index,
		Width:      f.Width(),
		Height:     f.Height(),
		Boxes:      boxes,
	}
}
