package model

import "time"

// Analysis represents one persisted analysis record.
type Analysis struct {
	ID            int64     `json:"id"`
	User          string    `json:"user"`
	Kind          string    `json:"kind"`
	Method        string    `json:"method"`
	Source        string    `json:"source"`
	Artifact      string    `json:"artifact"`
	PeopleCount   int       `json:"people_count"`
	FrameCounts   []int     `json:"frame_counts"`
	SampledFrames int       `json:"sampled_frames"`
	TotalFrames   int       `json:"total_frames"`
	Region        string    `json:"region"`
	Threshold     float64   `json:"threshold"`
	DurationMS    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Analysis kinds.
const (
	KindImage       = "image"
	KindVideo       = "video"
	KindInteractive = "interactive"
)
