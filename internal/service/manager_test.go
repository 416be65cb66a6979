package service

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crowdcounter/internal/config"
	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/repository/sqlite"
	"crowdcounter/internal/service/ai"
	"crowdcounter/internal/service/frame"
	"crowdcounter/internal/service/storage"
	"crowdcounter/internal/service/video"

	"gocv.io/x/gocv"
)

// boxDetector reports a fixed set of boxes relative to the frame it sees.
type boxDetector struct {
	boxes []dto.DetectionBox
	calls atomic.Int32
}

func (d *boxDetector) Detect(ctx context.Context, f frame.Frame, threshold float64) (dto.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return dto.DetectionResult{}, err
	}
	d.calls.Add(1)
	boxes := make([]dto.DetectionBox, len(d.boxes))
	copy(boxes, d.boxes)
	return dto.DetectionResult{FrameIndex: f.Index, Width: f.Width(), Height: f.Height(), Boxes: boxes}, nil
}

type testEnv struct {
	manager  *Manager
	detector *boxDetector
	analyses *sqlite.AnalysisRepository
	dets     *sqlite.DetectionRepository
	dir      string
}

func newEnv(t *testing.T, detector ai.Detector) *testEnv {
	t.Helper()
	return newEnvWithHub(t, detector, nil)
}

func newEnvWithHub(t *testing.T, detector ai.Detector, hub Broadcaster) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ResultsDirectory:   filepath.Join(dir, "results"),
		UploadDirectory:    filepath.Join(dir, "uploads"),
		MinRegionSize:      16,
		SampleStride:       1,
		InteractiveTimeout: 100 * time.Millisecond,
		VideoCodec:         "MJPG",
		VideoExtension:     ".avi",
	}
	log := logger.NewDiscard()

	store, err := storage.NewStore(cfg, log)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		analyses: sqlite.NewAnalysisRepository(db),
		dets:     sqlite.NewDetectionRepository(db),
		dir:      dir,
	}
	if d, ok := detector.(*boxDetector); ok {
		env.detector = d
	}
	env.manager = NewManager(cfg, Dependencies{
		Detector:   detector,
		Store:      store,
		Analyses:   env.analyses,
		Detections: env.dets,
		Hub:        hub,
		Logger:     log,
	})
	return env
}

// recordingHub keeps published events per user.
type recordingHub struct {
	mu     sync.Mutex
	events map[string][]interface{}
}

func (h *recordingHub) Publish(user string, v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.events == nil {
		h.events = make(map[string][]interface{})
	}
	h.events[user] = append(h.events[user], v)
}

func peopleDetector() *boxDetector {
	return &boxDetector{boxes: []dto.DetectionBox{
		{X1: 10, Y1: 10, X2: 40, Y2: 90, Confidence: 0.9, Label: "person"},
		{X1: 60, Y1: 20, X2: 90, Y2: 100, Confidence: 0.8, Label: "person"},
		{X1: 120, Y1: 30, X2: 150, Y2: 110, Confidence: 0.7, Label: "person"},
	}}
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	mat := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer mat.Close()
	path := filepath.Join(dir, name)
	if !gocv.IMWrite(path, mat) {
		t.Fatalf("IMWrite failed for %s", path)
	}
	return path
}

func dataURL(t *testing.T) string {
	t.Helper()
	mat := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer mat.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		t.Fatalf("IMEncode failed: %v", err)
	}
	defer buf.Close()
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.GetBytes())
}

// ========================================
// Image analysis
// ========================================

func TestAnalyzeImage(t *testing.T) {
	env := newEnv(t, peopleDetector())
	src := writeImage(t, env.dir, "upload.png")

	result, err := env.manager.AnalyzeImage(context.Background(), dto.AnalysisRequest{
		Source: src, Name: "Street Scene.png", Threshold: 0.5, User: "ann@example.com",
	})
	if err != nil {
		t.Fatalf("AnalyzeImage failed: %v", err)
	}
	if result.Count != 3 {
		t.Errorf("Expected 3 people, got %d", result.Count)
	}
	if !strings.HasPrefix(result.Artifact, "result_Street_Scene_") || filepath.Ext(result.Artifact) != ".jpg" {
		t.Errorf("Unexpected artifact name %q", result.Artifact)
	}
	if _, err := os.Stat(result.ArtifactPath); err != nil {
		t.Errorf("Artifact missing: %v", err)
	}

	env.manager.Stop()
	records, err := env.analyses.GetAll(&dto.AnalysisFilters{User: "ann@example.com"})
	if err != nil || len(records) != 1 {
		t.Fatalf("Expected 1 stored analysis, got %d (%v)", len(records), err)
	}
	if records[0].PeopleCount != 3 || records[0].Kind != "image" {
		t.Errorf("Unexpected record %+v", records[0])
	}
	boxes, _ := env.dets.GetByAnalysisID(records[0].ID)
	if len(boxes) != 3 {
		t.Errorf("Expected 3 stored detections, got %d", len(boxes))
	}
}

func TestAnalyzeImage_RejectsBeforeInference(t *testing.T) {
	env := newEnv(t, peopleDetector())
	defer env.manager.Stop()

	corrupt := filepath.Join(env.dir, "corrupt.jpg")
	os.WriteFile(corrupt, []byte("not an image"), 0644)
	valid := writeImage(t, env.dir, "ok.png")

	tests := []struct {
		name   string
		req    dto.AnalysisRequest
		target error
	}{
		{"missing file", dto.AnalysisRequest{Source: filepath.Join(env.dir, "none.png"), Threshold: 0.5}, errs.ErrInputValidation},
		{"corrupt file", dto.AnalysisRequest{Source: corrupt, Threshold: 0.5}, errs.ErrDecode},
		{"bad threshold", dto.AnalysisRequest{Source: valid, Threshold: 1.5}, errs.ErrInputValidation},
		{"region outside", dto.AnalysisRequest{Source: valid, Threshold: 0.5, Region: &dto.Region{X1: 400, Y1: 300, X2: 500, Y2: 400}}, errs.ErrRegion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.manager.AnalyzeImage(context.Background(), tt.req); !errors.Is(err, tt.target) {
				t.Errorf("Expected %v, got %v", tt.target, err)
			}
		})
	}
	if env.detector.calls.Load() != 0 {
		t.Errorf("Detector must not run on rejected input, ran %d times", env.detector.calls.Load())
	}
	if env.manager.Metrics().GetTotalErrors() != int64(len(tests)) {
		t.Errorf("Expected %d recorded errors, got %d", len(tests), env.manager.Metrics().GetTotalErrors())
	}
}

// ========================================
// Interactive analysis
// ========================================

func TestAnalyzeEncodedFrame(t *testing.T) {
	env := newEnv(t, &boxDetector{boxes: []dto.DetectionBox{
		{X1: 5, Y1: 5, X2: 25, Y2: 45, Confidence: 0.8, Label: "person"},
	}})
	defer env.manager.Stop()

	region := dto.Region{X1: 100, Y1: 50, X2: 300, Y2: 250}
	result, err := env.manager.AnalyzeEncodedFrame(context.Background(), dataURL(t), region, 0.5, "ann@example.com")
	if err != nil {
		t.Fatalf("AnalyzeEncodedFrame failed: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("Expected 1 person, got %d", result.Count)
	}
	b := result.Detections.Boxes[0]
	if b.X1 != 105 || b.Y1 != 55 || b.X2 != 125 || b.Y2 != 95 {
		t.Errorf("Box not remapped to frame space: %+v", b)
	}
	if !strings.HasPrefix(result.Artifact, storage.CapturePrefix) {
		t.Errorf("Unexpected capture name %q", result.Artifact)
	}
}

func TestAnalyzeEncodedFrame_RejectsBeforeInference(t *testing.T) {
	env := newEnv(t, peopleDetector())
	defer env.manager.Stop()
	valid := dataURL(t)
	inside := dto.Region{X1: 10, Y1: 10, X2: 200, Y2: 200}

	tests := []struct {
		name    string
		payload string
		region  dto.Region
		target  error
	}{
		{"no comma", "data:image/jpeg;base64", inside, errs.ErrInputValidation},
		{"not base64", "data:image/jpeg;base64,@@@", inside, errs.ErrInputValidation},
		{"not an image", "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("hello")), inside, errs.ErrDecode},
		{"region outside", valid, dto.Region{X1: 500, Y1: 500, X2: 600, Y2: 600}, errs.ErrRegion},
		{"region too small", valid, dto.Region{X1: 10, Y1: 10, X2: 20, Y2: 20}, errs.ErrRegion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.manager.AnalyzeEncodedFrame(context.Background(), tt.payload, tt.region, 0.5, "")
			if !errors.Is(err, tt.target) {
				t.Errorf("Expected %v, got %v", tt.target, err)
			}
		})
	}
	if env.detector.calls.Load() != 0 {
		t.Errorf("Detector must not run on rejected input, ran %d times", env.detector.calls.Load())
	}
}

// waitingDetector blocks until the caller gives up.
type waitingDetector struct{}

func (waitingDetector) Detect(ctx context.Context, f frame.Frame, threshold float64) (dto.DetectionResult, error) {
	<-ctx.Done()
	return dto.DetectionResult{}, ctx.Err()
}

func TestAnalyzeEncodedFrame_Timeout(t *testing.T) {
	env := newEnv(t, ai.NewPoolOf(waitingDetector{}))
	defer env.manager.Stop()

	start := time.Now()
	_, err := env.manager.AnalyzeEncodedFrame(context.Background(), dataURL(t), dto.Region{X1: 0, Y1: 0, X2: 100, Y2: 100}, 0.5, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if errs.HTTPStatus(err) != 503 {
		t.Errorf("Expected 503 for timeout, got %d", errs.HTTPStatus(err))
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Timeout not honored, took %v", time.Since(start))
	}
}

// ========================================
// Video analysis
// ========================================

func writeVideo(t *testing.T, dir string, frames int) string {
	t.Helper()
	path := filepath.Join(dir, "clip.avi")
	writer, err := gocv.VideoWriterFile(path, "MJPG", 10, 160, 120, true)
	if err != nil || !writer.IsOpened() {
		t.Skip("MJPG video writer unavailable")
	}
	mat := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer mat.Close()
	for i := 0; i < frames; i++ {
		writer.Write(mat)
	}
	writer.Close()
	return path
}

func TestAnalyzeVideo_Methods(t *testing.T) {
	env := newEnv(t, &boxDetector{boxes: []dto.DetectionBox{
		{X1: 10, Y1: 10, X2: 40, Y2: 60, Confidence: 0.9, Label: "person"},
		{X1: 50, Y1: 10, X2: 80, Y2: 60, Confidence: 0.9, Label: "person"},
	}})
	src := writeVideo(t, env.dir, 6)

	full, err := env.manager.AnalyzeVideo(context.Background(), dto.AnalysisRequest{Source: src, Method: dto.MethodFull, Threshold: 0.5})
	if err != nil {
		t.Fatalf("full analysis failed: %v", err)
	}
	if full.Full == nil || full.Single != nil {
		t.Fatalf("Expected only a full result: %+v", full)
	}
	if full.Full.Peak != 2 || full.Full.TotalFrames != 6 {
		t.Errorf("Expected peak 2 over 6 frames, got %d over %d", full.Full.Peak, full.Full.TotalFrames)
	}
	if filepath.Ext(full.Full.Artifact) != ".avi" {
		t.Errorf("Unexpected video artifact %q", full.Full.Artifact)
	}

	single, err := env.manager.AnalyzeVideo(context.Background(), dto.AnalysisRequest{Source: src, Method: dto.MethodSingle, Threshold: 0.5})
	if err != nil {
		t.Fatalf("single analysis failed: %v", err)
	}
	if single.Single == nil || single.Full != nil || single.Single.Count != 2 {
		t.Errorf("Unexpected single result: %+v", single)
	}

	env.manager.Stop()
	total, _ := env.analyses.GetTotalCount(&dto.AnalysisFilters{Kind: "video"})
	if total != 2 {
		t.Errorf("Expected 2 video records, got %d", total)
	}
}

func TestAnalyzeVideo_ProgressGoesToRequester(t *testing.T) {
	hub := &recordingHub{}
	env := newEnvWithHub(t, peopleDetector(), hub)
	defer env.manager.Stop()
	src := writeVideo(t, env.dir, 3)

	_, err := env.manager.AnalyzeVideo(context.Background(), dto.AnalysisRequest{
		Source: src, Name: "lobby.avi", Method: dto.MethodFull, Threshold: 0.5, User: "ann@example.com",
	})
	if err != nil {
		t.Fatalf("full analysis failed: %v", err)
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.events) != 1 || len(hub.events["ann@example.com"]) == 0 {
		t.Fatalf("Expected events only for ann@example.com, got %v", hub.events)
	}
	for _, e := range hub.events["ann@example.com"] {
		p, ok := e.(video.Progress)
		if !ok || p.Source != "lobby" {
			t.Errorf("Unexpected event %+v", e)
		}
	}
}

func TestAnalyzeVideo_UnknownMethod(t *testing.T) {
	env := newEnv(t, peopleDetector())
	defer env.manager.Stop()

	_, err := env.manager.AnalyzeVideo(context.Background(), dto.AnalysisRequest{Source: "x.mp4", Method: dto.Method(42), Threshold: 0.5})
	if !errors.Is(err, errs.ErrInputValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

// ========================================
// Shutdown
// ========================================

func TestManager_AnalyzeAfterStop(t *testing.T) {
	env := newEnv(t, peopleDetector())
	src := writeImage(t, env.dir, "late.png")
	env.manager.Stop()

	result, err := env.manager.AnalyzeImage(context.Background(), dto.AnalysisRequest{
		Source: src, Threshold: 0.5, User: "ann@example.com",
	})
	if err != nil {
		t.Fatalf("AnalyzeImage after Stop failed: %v", err)
	}
	if result.Count != 3 {
		t.Errorf("Expected 3 people, got %d", result.Count)
	}
	env.manager.Stop()

	total, _ := env.analyses.GetTotalCount(&dto.AnalysisFilters{User: "ann@example.com"})
	if total != 0 {
		t.Errorf("Analyses after Stop must not be recorded, found %d", total)
	}
}

// ========================================
// History
// ========================================

func TestHistory_ListAndDelete(t *testing.T) {
	env := newEnv(t, peopleDetector())
	src := writeImage(t, env.dir, "upload.png")

	var last dto.ImageAnalysisResult
	for i := 0; i < 3; i++ {
		r, err := env.manager.AnalyzeImage(context.Background(), dto.AnalysisRequest{Source: src, Threshold: 0.5, User: "ann@example.com"})
		if err != nil {
			t.Fatalf("AnalyzeImage failed: %v", err)
		}
		last = r
	}
	env.manager.AnalyzeImage(context.Background(), dto.AnalysisRequest{Source: src, Threshold: 0.5, User: "bob@example.com"})
	env.manager.Stop()

	page, err := env.manager.ListAnalyses(dto.AnalysisFilters{User: "ann@example.com", Limit: 2}, 1)
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if page.Length != 3 || page.TotalPages != 2 || len(page.Analyses) != 2 {
		t.Errorf("Unexpected page: length %d, pages %d, items %d", page.Length, page.TotalPages, len(page.Analyses))
	}

	var id int64
	for _, a := range page.Analyses {
		if a.Artifact == last.Artifact {
			id = a.ID
		}
	}
	if id == 0 {
		t.Fatalf("Newest analysis %s missing from first page", last.Artifact)
	}

	if err := env.manager.DeleteAnalysis(id, "bob@example.com"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Other users must not delete the record, got %v", err)
	}
	if err := env.manager.DeleteAnalysis(id, "ann@example.com"); err != nil {
		t.Fatalf("DeleteAnalysis failed: %v", err)
	}
	if _, err := os.Stat(last.ArtifactPath); !os.IsNotExist(err) {
		t.Errorf("Artifact should be removed, stat: %v", err)
	}
}
