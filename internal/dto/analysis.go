package dto

import (
	"fmt"
	"strings"

	"crowdcounter/internal/errs"

	"github.com/montanaflynn/stats"
)

// Method selects how a video is analyzed.
type Method int

const (
	// MethodFull scans the whole video and reports peak occupancy.
	MethodFull Method = iota + 1
	// MethodSingle analyzes one representative frame.
	MethodSingle
)

// ParseMethod maps the form value to a Method. An empty value means full.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return MethodFull, nil
	case "single":
		return MethodSingle, nil
	default:
		return 0, errs.Validation("unknown method %q", s)
	}
}

func (m Method) String() string {
	switch m {
	case MethodFull:
		return "full"
	case MethodSingle:
		return "single"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// AnalysisRequest carries everything one analysis needs. No request-scoped globals.
type AnalysisRequest struct {
	Source    string  // path of the uploaded image or video
	Name      string  // client filename, used to name artifacts
	Method    Method  // video only
	Region    *Region // optional ROI
	Threshold float64
	User      string // owner recorded in history, may be empty
}

// DisplayName returns the client filename, falling back to the source path.
func (r AnalysisRequest) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Source
}

// ValidateThreshold checks that a confidence threshold lies in [0,1].
func ValidateThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return errs.Validation("threshold %.3f outside [0,1]", threshold)
	}
	return nil
}

// ImageAnalysisResult is the outcome of a single-frame analysis.
type ImageAnalysisResult struct {
	Count        int             `json:"people_count"`
	ArtifactPath string          `json:"-"`
	Artifact     string          `json:"result_image"`
	FrameIndex   int             `json:"frame_index"`
	Detections   DetectionResult `json:"detections"`
}

// VideoAnalysisResult is the outcome of a full video scan.
// FrameCounts holds one count per sampled frame in frame order.
type VideoAnalysisResult struct {
	FrameCounts   []int `json:"frame_counts"`
	Peak          int   `json:"people_count"`
	PeakFrame     int   `json:"peak_frame"`
	SampledFrames int   `json:"sampled_frames"`
	TotalFrames   int   `json:"total_frames"`
	Stride        int   `json:"stride"`
	// Truncated is set when decoding stopped well before the reported frame count.
	Truncated    bool   `json:"truncated,omitempty"`
	ArtifactPath string `json:"-"`
	Artifact     string `json:"result_video"`
}

// Sum is the total of per-frame counts. It double counts people visible in
// several frames and is exposed only as an alternative summary.
func (r VideoAnalysisResult) Sum() int {
	s, err := stats.Sum(r.data())
	if err != nil {
		return 0
	}
	return int(s)
}

// Mean is the average per-frame count over sampled frames.
func (r VideoAnalysisResult) Mean() float64 {
	m, err := stats.Mean(r.data())
	if err != nil {
		return 0
	}
	return m
}

// Median is the median per-frame count over sampled frames.
func (r VideoAnalysisResult) Median() float64 {
	m, err := stats.Median(r.data())
	if err != nil {
		return 0
	}
	return m
}

func (r VideoAnalysisResult) data() stats.Float64Data {
	return stats.LoadRawData(r.FrameCounts)
}

// VideoOutcome holds the result of a video analysis. Exactly one of Full and
// Single is set, matching Method.
type VideoOutcome struct {
	Method Method
	Full   *VideoAnalysisResult
	Single *ImageAnalysisResult
}
