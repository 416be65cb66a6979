package model

// Detection is one stored person box belonging to an analysis.
type Detection struct {
	ID         int64   `json:"id"`
	AnalysisID int64   `json:"analysis_id"`
	FrameIndex int     `json:"frame_index"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
}
