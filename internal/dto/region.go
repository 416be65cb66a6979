package dto

import "fmt"

// Region is a requested rectangle of interest in frame pixel coordinates.
type Region struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns X2-X1, which may be negative for unnormalized input.
func (r Region) Width() int { return r.X2 - r.X1 }

// Height returns Y2-Y1, which may be negative for unnormalized input.
func (r Region) Height() int { return r.Y2 - r.Y1 }

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}
