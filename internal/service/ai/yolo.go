package ai

import (
	"fmt"
	"image"
	"os"

	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"

	"gocv.io/x/gocv"
)

const (
	yoloInputSize = 640
	// yoloCandidateScore is the default floor for candidates entering NMS.
	// A lower request threshold lowers it.
	yoloCandidateScore = 0.1
	yoloNMSThreshold   = 0.45
	// yoloPersonRow is the row of the person score in a [1, 4+classes, N] output.
	yoloPersonRow = 4
)

// YOLOModel runs an ONNX YOLOv8 export through the OpenCV DNN module.
type YOLOModel struct {
	net gocv.Net
}

// NewYOLOModel loads an ONNX model.
func NewYOLOModel(modelPath string) (*YOLOModel, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, errs.ModelLoad("model file not found: %s", modelPath)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, errs.ModelLoad("failed to load onnx network %s", modelPath)
	}
	if err := configureNet(&net); err != nil {
		net.Close()
		return nil, err
	}

	return &YOLOModel{net: net}, nil
}

// Infer letterboxes the frame into a square, runs the network and applies NMS
// to person candidates.
func (m *YOLOModel) Infer(mat gocv.Mat, minScore float64) ([]RawDetection, error) {
	floor := candidateFloor(minScore)
	height, width := mat.Rows(), mat.Cols()
	maxDim := max(height, width)

	square := gocv.NewMatWithSize(maxDim, maxDim, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, width, height))
	mat.CopyTo(&roi)
	roi.Close()

	scale := float32(maxDim) / yoloInputSize

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(yoloInputSize, yoloInputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[1] <= yoloPersonRow {
		return nil, fmt.Errorf("unexpected yolo output shape %v", dims)
	}
	candidates := dims[2]

	var boxes []image.Rectangle
	var scores []float32
	for i := 0; i < candidates; i++ {
		score := output.GetFloatAt3(0, yoloPersonRow, i)
		if score < floor {
			continue
		}
		cx := output.GetFloatAt3(0, 0, i)
		cy := output.GetFloatAt3(0, 1, i)
		w := output.GetFloatAt3(0, 2, i)
		h := output.GetFloatAt3(0, 3, i)

		boxes = append(boxes, image.Rect(
			int((cx-w/2)*scale),
			int((cy-h/2)*scale),
			int((cx+w/2)*scale),
			int((cy+h/2)*scale),
		))
		scores = append(scores, score)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, floor, yoloNMSThreshold)
	results := make([]RawDetection, 0, len(indices))
	for _, idx := range indices {
		results = append(results, RawDetection{
			Label:      dto.PersonLabel,
			Confidence: scores[idx],
			Box:        boxes[idx],
		})
	}
	return results, nil
}

// candidateFloor is the NMS score floor for a request threshold, never above
// yoloCandidateScore so every box at or over the threshold survives.
func candidateFloor(threshold float64) float32 {
	return float32(max(0, min(threshold, yoloCandidateScore)))
}

// Close releases the network.
func (m *YOLOModel) Close() error {
	return m.net.Close()
}
