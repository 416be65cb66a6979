package dto

import "sort"

// PersonLabel is the only class the pipeline counts.
const PersonLabel = "person"

// DetectionBox is one detected object in frame-space pixel coordinates.
// X2 > X1 and Y2 > Y1 always hold for boxes produced by the detector.
type DetectionBox struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}

// Width returns the horizontal extent of the box.
func (b DetectionBox) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b DetectionBox) Height() int { return b.Y2 - b.Y1 }

// Area returns Width*Height.
func (b DetectionBox) Area() int { return b.Width() * b.Height() }

// Translate shifts the box by (dx, dy).
func (b DetectionBox) Translate(dx, dy int) DetectionBox {
	b.X1 += dx
	b.X2 += dx
	b.Y1 += dy
	b.Y2 += dy
	return b
}

// Within reports whether the box lies inside [0,width]x[0,height].
func (b DetectionBox) Within(width, height int) bool {
	return b.X1 >= 0 && b.Y1 >= 0 && b.X2 <= width && b.Y2 <= height && b.X2 > b.X1 && b.Y2 > b.Y1
}

// DetectionResult is the ordered set of person boxes found on one frame.
type DetectionResult struct {
	FrameIndex int            `json:"frame_index"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Boxes      []DetectionBox `json:"boxes"`
}

// Count is the number of people detected.
func (r DetectionResult) Count() int {
	return len(r.Boxes)
}

// SortBoxes orders boxes by descending confidence, larger area first on ties.
func SortBoxes(boxes []DetectionBox) {
	sort.SliceStable(boxes, func(i, j int) bool {
		if boxes[i].Confidence != boxes[j].Confidence {
			return boxes[i].Confidence > boxes[j].Confidence
		}
		return boxes[i].Area() > boxes[j].Area()
	})
}
