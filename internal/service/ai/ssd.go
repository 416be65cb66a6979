package ai

import (
	"fmt"
	"image"
	"os"

	"crowdcounter/internal/errs"

	"gocv.io/x/gocv"
)

// SSDModel runs a TensorFlow SSD MobileNet graph trained on COCO.
// Output rows are [batch_id, class_id, confidence, x1, y1, x2, y2] with
// coordinates normalized to 0-1.
type SSDModel struct {
	net gocv.Net
}

// NewSSDModel loads the frozen graph and its text description.
func NewSSDModel(modelPath, configPath string) (*SSDModel, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, errs.ModelLoad("model file not found: %s", modelPath)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errs.ModelLoad("config file not found: %s", configPath)
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, errs.ModelLoad("failed to load network %s", modelPath)
	}
	if err := configureNet(&net); err != nil {
		net.Close()
		return nil, err
	}

	return &SSDModel{net: net}, nil
}

// Infer runs one forward pass.
func (m *SSDModel) Infer(mat gocv.Mat, minScore float64) ([]RawDetection, error) {
	// Blob parameters fit the ssd coco net input
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")

	output := m.net.Forward("")
	defer output.Close()
	if output.Empty() || output.Total()%7 != 0 {
		return nil, fmt.Errorf("unexpected ssd output with %d values", output.Total())
	}

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols := float32(mat.Cols())
	height := float32(mat.Rows())
	results := make([]RawDetection, 0, rows.Rows())
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if confidence <= 0 || float64(confidence) < minScore {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		x1 := int(rows.GetFloatAt(i, 3) * cols)
		y1 := int(rows.GetFloatAt(i, 4) * height)
		x2 := int(rows.GetFloatAt(i, 5) * cols)
		y2 := int(rows.GetFloatAt(i, 6) * height)

		results = append(results, RawDetection{
			Label:      cocoLabel(classID),
			Confidence: confidence,
			Box:        image.Rect(x1, y1, x2, y2),
		})
	}

	return results, nil
}

// Close releases the network.
func (m *SSDModel) Close() error {
	return m.net.Close()
}

// configureNet sets backend/target preferences.
func configureNet(net *gocv.Net) error {
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		return errs.ModelLoad("failed to set preferable backend or target")
	}
	return nil
}

// cocoLabel maps SSD COCO class IDs to labels. Only "person" is counted.
func cocoLabel(classID int) string {
	labels := map[int]string{
		1:  "person",
		2:  "bicycle",
		3:  "car",
		4:  "motorcycle",
		5:  "airplane",
		6:  "bus",
		7:  "train",
		8:  "truck",
		16: "bird",
		17: "cat",
		18: "dog",
	}

	if label, exists := labels[classID]; exists {
		return label
	}
	return fmt.Sprintf("unknown%d", classID)
}
