package dto

import (
	"encoding/json"
	"time"
)

// AnalysisInfo represents one stored analysis in the history listing.
type AnalysisInfo struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Source      string    `json:"source"`
	Artifact    string    `json:"artifact"`
	PeopleCount int       `json:"people_count"`
	FrameCounts []int     `json:"frame_counts,omitempty"`
	Date        time.Time `json:"date"`
	TimeOfDay   time.Time `json:"timeOfDay"`
}

// MarshalJSON customizes JSON output for AnalysisInfo to format date and time-of-day.
func (p AnalysisInfo) MarshalJSON() ([]byte, error) {
	type Alias AnalysisInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      p.Date.Format("02-01-2006"),
		TimeOfDay: p.TimeOfDay.Format("15:04"),
		Alias:     (Alias)(p),
	})
}
