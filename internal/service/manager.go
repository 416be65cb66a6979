package service

import (
	"context"
	"sync"
	"time"

	"crowdcounter/internal/config"
	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/model"
	"crowdcounter/internal/repository"
	"crowdcounter/internal/service/ai"
	"crowdcounter/internal/service/annotate"
	"crowdcounter/internal/service/frame"
	"crowdcounter/internal/service/metrics"
	"crowdcounter/internal/service/roi"
	"crowdcounter/internal/service/storage"
	"crowdcounter/internal/service/video"
)

const recordQueueSize = 100

// Broadcaster delivers progress events to one user's viewers.
// *websocket.HubService implements it.
type Broadcaster interface {
	Publish(user string, v interface{})
}

// Manager runs analyses and records them. Analyses are synchronous; history
// records are written by background workers.
type Manager struct {
	clipper    *roi.Clipper
	aggregator *video.Aggregator
	store      *storage.Store
	hub        Broadcaster
	analyses   repository.AnalysisRepository
	detections repository.DetectionRepository
	metrics    *metrics.Metrics
	logger     *logger.Logger

	interactiveTimeout time.Duration

	recordQueue chan recordTask
	numWorkers  int
	wg          sync.WaitGroup
	mu          sync.Mutex
	stopped     bool
}

type recordTask struct {
	analysis   model.Analysis
	detections dto.DetectionResult
}

// Dependencies groups the collaborators of a Manager. Hub and the
// repositories may be nil, in which case progress and history are skipped.
type Dependencies struct {
	Detector   ai.Detector
	Store      *storage.Store
	Hub        Broadcaster
	Analyses   repository.AnalysisRepository
	Detections repository.DetectionRepository
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

func NewManager(config *config.Config, deps Dependencies) *Manager {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics()
	}
	clipper := roi.NewClipper(deps.Detector, config.MinRegionSize)

	m := &Manager{
		clipper:            clipper,
		aggregator:         video.NewAggregator(config, clipper, deps.Store, deps.Logger),
		store:              deps.Store,
		hub:                deps.Hub,
		analyses:           deps.Analyses,
		detections:         deps.Detections,
		metrics:            deps.Metrics,
		logger:             deps.Logger,
		interactiveTimeout: config.InteractiveTimeout,
		recordQueue:        make(chan recordTask, recordQueueSize),
		numWorkers:         2,
	}
	if m.hub != nil {
		m.aggregator.OnProgress = func(p video.Progress) { m.hub.Publish(p.User, p) }
	}

	for i := 0; i < m.numWorkers; i++ {
		m.wg.Add(1)
		go m.recordWorker(i)
	}

	m.logger.Info("Manager started - stride %d, min region %dpx", config.SampleStride, config.MinRegionSize)
	return m
}

// Store returns the artifact store.
func (m *Manager) Store() *storage.Store {
	return m.store
}

// Metrics returns the counters shared with the HTTP layer.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// AnalyzeImage counts people in the image at req.Source, optionally inside
// req.Region, and writes the annotated JPEG.
func (m *Manager) AnalyzeImage(ctx context.Context, req dto.AnalysisRequest) (dto.ImageAnalysisResult, error) {
	start := time.Now()
	result, err := m.analyzeImage(ctx, req)
	if err != nil {
		m.fail("image", req.Source, err)
		return dto.ImageAnalysisResult{}, err
	}

	m.metrics.RecordAnalysis(metrics.KindImage, 1, result.Count, time.Since(start))
	m.record(req, model.KindImage, result.Artifact, result.Count, []int{result.Count}, 1, 1, start, result.Detections)
	m.logger.Info("Image %s: %d people", req.Source, result.Count)
	return result, nil
}

func (m *Manager) analyzeImage(ctx context.Context, req dto.AnalysisRequest) (dto.ImageAnalysisResult, error) {
	if err := dto.ValidateThreshold(req.Threshold); err != nil {
		return dto.ImageAnalysisResult{}, err
	}
	f, err := frame.DecodeImageFile(req.Source)
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}
	defer f.Close()

	return m.detectAndWrite(ctx, f, req.Region, req.Threshold, m.store.UploadName(req.DisplayName(), ".jpg"))
}

// AnalyzeVideo dispatches on req.Method.
func (m *Manager) AnalyzeVideo(ctx context.Context, req dto.AnalysisRequest) (dto.VideoOutcome, error) {
	start := time.Now()
	if err := dto.ValidateThreshold(req.Threshold); err != nil {
		m.fail("video", req.Source, err)
		return dto.VideoOutcome{}, err
	}

	switch req.Method {
	case dto.MethodFull:
		result, err := m.aggregator.AnalyzeFull(ctx, req)
		if err != nil {
			m.fail("video", req.Source, err)
			return dto.VideoOutcome{}, err
		}
		m.metrics.RecordAnalysis(metrics.KindVideo, result.SampledFrames, result.Peak, time.Since(start))
		m.record(req, model.KindVideo, result.Artifact, result.Peak, result.FrameCounts,
			result.SampledFrames, result.TotalFrames, start, dto.DetectionResult{})
		return dto.VideoOutcome{Method: req.Method, Full: &result}, nil

	case dto.MethodSingle:
		result, err := m.aggregator.AnalyzeSingle(ctx, req)
		if err != nil {
			m.fail("video", req.Source, err)
			return dto.VideoOutcome{}, err
		}
		m.metrics.RecordAnalysis(metrics.KindVideo, 1, result.Count, time.Since(start))
		m.record(req, model.KindVideo, result.Artifact, result.Count, []int{result.Count}, 1, 1, start, result.Detections)
		return dto.VideoOutcome{Method: req.Method, Single: &result}, nil

	default:
		err := errs.Validation("unsupported method %s", req.Method)
		m.fail("video", req.Source, err)
		return dto.VideoOutcome{}, err
	}
}

// AnalyzeEncodedFrame counts people inside region of a base64 data URL frame
// sent by the interactive viewer. Payload and region are validated before any
// inference. Detector acquisition is bounded by the interactive timeout.
func (m *Manager) AnalyzeEncodedFrame(ctx context.Context, dataURL string, region dto.Region, threshold float64, user string) (dto.ImageAnalysisResult, error) {
	start := time.Now()
	req := dto.AnalysisRequest{Source: "interactive", Region: &region, Threshold: threshold, User: user}

	result, err := m.analyzeEncodedFrame(ctx, dataURL, req)
	if err != nil {
		m.fail("interactive", req.Source, err)
		return dto.ImageAnalysisResult{}, err
	}

	m.metrics.RecordAnalysis(metrics.KindInteractive, 1, result.Count, time.Since(start))
	m.record(req, model.KindInteractive, result.Artifact, result.Count, []int{result.Count}, 1, 1, start, result.Detections)
	return result, nil
}

func (m *Manager) analyzeEncodedFrame(ctx context.Context, dataURL string, req dto.AnalysisRequest) (dto.ImageAnalysisResult, error) {
	if err := dto.ValidateThreshold(req.Threshold); err != nil {
		return dto.ImageAnalysisResult{}, err
	}
	data, err := frame.ParseDataURL(dataURL)
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}
	f, err := frame.DecodeBytes(data)
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}
	defer f.Close()

	if m.interactiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.interactiveTimeout)
		defer cancel()
	}
	return m.detectAndWrite(ctx, f, req.Region, req.Threshold, m.store.CaptureName())
}

// detectAndWrite clamps the region, detects, annotates and stores one frame.
func (m *Manager) detectAndWrite(ctx context.Context, f frame.Frame, region *dto.Region, threshold float64, name string) (dto.ImageAnalysisResult, error) {
	var clamped *dto.Region
	if region != nil {
		r, err := roi.Clamp(*region, f.Width(), f.Height(), m.clipper.MinSize())
		if err != nil {
			return dto.ImageAnalysisResult{}, err
		}
		clamped = &r
	}

	detections, err := m.clipper.Detect(ctx, f, clamped, threshold)
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}

	var data []byte
	if clamped != nil {
		data, err = annotate.AnnotateRegion(f, detections, *clamped)
	} else {
		data, err = annotate.Annotate(f, detections)
	}
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}

	path, err := m.store.WriteArtifact(name, data)
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}
	return dto.ImageAnalysisResult{
		Count:        detections.Count(),
		ArtifactPath: path,
		Artifact:     name,
		FrameIndex:   f.Index,
		Detections:   detections,
	}, nil
}

func (m *Manager) fail(kind, source string, err error) {
	m.metrics.IncrementErrors()
	if errs.HTTPStatus(err) >= 500 {
		m.logger.Error("%s analysis of %s failed: %v", kind, source, err)
		return
	}
	m.logger.Warning("%s analysis of %s rejected: %v", kind, source, err)
}

func (m *Manager) record(req dto.AnalysisRequest, kind, artifact string, count int, frameCounts []int, sampled, total int, start time.Time, detections dto.DetectionResult) {
	if m.analyses == nil {
		return
	}

	region := ""
	if req.Region != nil {
		region = req.Region.String()
	}
	method := ""
	if kind == model.KindVideo {
		method = req.Method.String()
	}

	task := recordTask{
		analysis: model.Analysis{
			User:          req.User,
			Kind:          kind,
			Method:        method,
			Source:        storage.Sanitize(req.DisplayName()),
			Artifact:      artifact,
			PeopleCount:   count,
			FrameCounts:   frameCounts,
			SampledFrames: sampled,
			TotalFrames:   total,
			Region:        region,
			Threshold:     req.Threshold,
			DurationMS:    time.Since(start).Milliseconds(),
			CreatedAt:     start,
		},
		detections: detections,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		m.logger.Warning("History stopped - analysis %s not recorded", artifact)
		return
	}
	select {
	case m.recordQueue <- task:
	default:
		m.logger.Warning("History queue full - analysis %s not recorded", artifact)
	}
}

// recordWorker persists queued analysis records.
func (m *Manager) recordWorker(workerID int) {
	defer m.wg.Done()

	for task := range m.recordQueue {
		id, err := m.analyses.Insert(&task.analysis)
		if err != nil {
			m.logger.Error("Worker %d: error saving analysis %s: %v", workerID, task.analysis.Artifact, err)
			continue
		}
		if m.detections == nil || task.detections.Count() == 0 {
			continue
		}

		rows := make([]model.Detection, 0, task.detections.Count())
		for _, b := range task.detections.Boxes {
			rows = append(rows, model.Detection{
				AnalysisID: id,
				FrameIndex: task.detections.FrameIndex,
				X1:         b.X1,
				Y1:         b.Y1,
				X2:         b.X2,
				Y2:         b.Y2,
				Confidence: b.Confidence,
			})
		}
		if err := m.detections.InsertBatch(rows); err != nil {
			m.logger.Error("Worker %d: error saving detections: %v", workerID, err)
		}
	}
}

// Stop drains the history queue and stops the workers. Analyses finishing
// afterwards are not recorded. Stop is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.recordQueue)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("History workers stopped")
}
