// Package video analyzes video files: a full scan that reports peak occupancy
// and a single representative frame extraction.
package video

import (
	"context"
	"errors"
	"io"
	"time"

	"crowdcounter/internal/config"
	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/service/annotate"
	"crowdcounter/internal/service/frame"
	"crowdcounter/internal/service/roi"
	"crowdcounter/internal/service/storage"

	"gocv.io/x/gocv"
)

// FrameReader is a sequential frame source. *frame.VideoSource implements it.
type FrameReader interface {
	Info() frame.VideoInfo
	Seek(index int)
	Next() (frame.Frame, error)
	Close() error
}

// FrameWriter is an encoded video sink. *frame.VideoSink implements it.
type FrameWriter interface {
	Write(mat gocv.Mat) error
	Frames() int
	Close() error
}

// Progress is reported after every sampled frame of a full scan.
// Source is the client filename; User routes the event and is not sent.
type Progress struct {
	User   string `json:"-"`
	Source string `json:"source"`
	Frame  int    `json:"frame"`
	Total  int    `json:"total"`
	Count  int    `json:"count"`
	Peak   int    `json:"peak"`
	Done   bool   `json:"done"`
}

// Aggregator runs detection over video frames.
type Aggregator struct {
	clipper   *roi.Clipper
	store     *storage.Store
	logger    *logger.Logger
	stride    int
	offset    int
	codec     string
	extension string

	// OnProgress, when set, receives scan progress. It must not block.
	OnProgress func(Progress)

	open   func(path string) (FrameReader, error)
	create func(path, codec string, fps float64, width, height int) (FrameWriter, error)
}

// NewAggregator creates an Aggregator backed by gocv video IO.
func NewAggregator(config *config.Config, clipper *roi.Clipper, store *storage.Store, logger *logger.Logger) *Aggregator {
	stride := config.SampleStride
	if stride < 1 {
		stride = 1
	}
	return &Aggregator{
		clipper:   clipper,
		store:     store,
		logger:    logger,
		stride:    stride,
		offset:    config.SingleFrameOffset,
		codec:     config.VideoCodec,
		extension: config.VideoExtension,
		open: func(path string) (FrameReader, error) {
			return frame.OpenVideo(path)
		},
		create: func(path, codec string, fps float64, width, height int) (FrameWriter, error) {
			return frame.CreateVideo(path, codec, fps, width, height)
		},
	}
}

// AnalyzeFull scans every frame of req.Source, detecting on every stride-th
// frame, and writes an annotated copy of the video. Unsampled frames carry the
// most recent sampled boxes. The artifact only appears once the scan completes.
func (a *Aggregator) AnalyzeFull(ctx context.Context, req dto.AnalysisRequest) (dto.VideoAnalysisResult, error) {
	start := time.Now()

	src, err := a.open(req.Source)
	if err != nil {
		return dto.VideoAnalysisResult{}, err
	}
	defer src.Close()
	info := src.Info()

	pending, err := a.store.Reserve(a.store.UploadName(req.DisplayName(), a.extension))
	if err != nil {
		return dto.VideoAnalysisResult{}, err
	}
	scan := &scan{aggregator: a, req: req, info: info, pending: pending}
	defer scan.abort()

	for {
		if err := ctx.Err(); err != nil {
			a.logger.Warning("Scan of %s stopped at frame %d: %v", req.Source, scan.read, err)
			return dto.VideoAnalysisResult{}, err
		}

		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dto.VideoAnalysisResult{}, err
		}
		err = scan.process(ctx, f)
		f.Close()
		if err != nil {
			return dto.VideoAnalysisResult{}, err
		}
	}

	if scan.read == 0 {
		return dto.VideoAnalysisResult{}, errs.Decode("video %s contains no decodable frames", req.Source)
	}
	path, err := scan.finish()
	if err != nil {
		return dto.VideoAnalysisResult{}, err
	}

	result := scan.result
	result.ArtifactPath = path
	result.Artifact = pending.Name()
	result.TotalFrames = scan.read
	result.SampledFrames = len(result.FrameCounts)
	result.Stride = a.stride

	if truncated(scan.read, info.FrameCount) {
		result.Truncated = true
		a.logger.Warning("Scan of %s ended at frame %d of %d reported", req.Source, scan.read, info.FrameCount)
	}

	a.report(Progress{User: req.User, Source: progressSource(req), Frame: scan.read, Total: scan.read, Peak: result.Peak, Done: true})
	a.logger.Info("Scanned %s: %d frames, %d sampled, peak %d at frame %d in %v",
		req.Source, result.TotalFrames, result.SampledFrames, result.Peak, result.PeakFrame, time.Since(start))
	return result, nil
}

// AnalyzeSingle reads exactly one frame at the configured offset, clamped to
// the reported frame count, and writes it annotated as a JPEG.
func (a *Aggregator) AnalyzeSingle(ctx context.Context, req dto.AnalysisRequest) (dto.ImageAnalysisResult, error) {
	src, err := a.open(req.Source)
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}
	defer src.Close()

	index := a.offset
	if total := src.Info().FrameCount; total > 0 && index >= total {
		index = total - 1
	}
	if index < 0 {
		index = 0
	}
	src.Seek(index)

	f, err := src.Next()
	if errors.Is(err, io.EOF) {
		return dto.ImageAnalysisResult{}, errs.Decode("frame %d of %s is not decodable", index, req.Source)
	}
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}
	defer f.Close()

	region, err := a.clamp(req.Region, f)
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}
	detections, err := a.clipper.Detect(ctx, f, region, req.Threshold)
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}

	var data []byte
	if region != nil {
		data, err = annotate.AnnotateRegion(f, detections, *region)
	} else {
		data, err = annotate.Annotate(f, detections)
	}
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}

	name := a.store.UploadName(req.DisplayName(), ".jpg")
	path, err := a.store.WriteArtifact(name, data)
	if err != nil {
		return dto.ImageAnalysisResult{}, err
	}

	a.logger.Info("Single frame %d of %s: %d people", f.Index, req.Source, detections.Count())
	return dto.ImageAnalysisResult{
		Count:        detections.Count(),
		ArtifactPath: path,
		Artifact:     name,
		FrameIndex:   f.Index,
		Detections:   detections,
	}, nil
}

func (a *Aggregator) clamp(region *dto.Region, f frame.Frame) (*dto.Region, error) {
	if region == nil {
		return nil, nil
	}
	clamped, err := roi.Clamp(*region, f.Width(), f.Height(), a.clipper.MinSize())
	if err != nil {
		return nil, err
	}
	return &clamped, nil
}

func (a *Aggregator) report(p Progress) {
	if a.OnProgress != nil {
		a.OnProgress(p)
	}
}

// progressSource names a scan without revealing where the upload is staged.
func progressSource(req dto.AnalysisRequest) string {
	return storage.Sanitize(req.DisplayName())
}

// truncated reports whether a stream stopped decoding well short of the frame
// count its container reported. Counts are estimates, so a small shortfall is
// tolerated.
func truncated(read, reported int) bool {
	if reported <= 0 {
		return false
	}
	return read < reported-max(2, reported/20)
}

// scan holds the accumulator state of one full video pass.
type scan struct {
	aggregator *Aggregator
	req        dto.AnalysisRequest
	info       frame.VideoInfo
	pending    *storage.Pending
	sink       FrameWriter
	region     *dto.Region
	last       dto.DetectionResult
	result     dto.VideoAnalysisResult
	read       int
	done       bool
}

func (s *scan) process(ctx context.Context, f frame.Frame) error {
	a := s.aggregator
	if s.sink == nil {
		if err := s.start(f); err != nil {
			return err
		}
	}

	if s.read%a.stride == 0 {
		detections, err := a.clipper.Detect(ctx, f, s.region, s.req.Threshold)
		if err != nil {
			return err
		}
		s.last = detections
		count := detections.Count()
		if len(s.result.FrameCounts) == 0 || count > s.result.Peak {
			s.result.Peak = count
			s.result.PeakFrame = f.Index
		}
		s.result.FrameCounts = append(s.result.FrameCounts, count)
		a.report(Progress{User: s.req.User, Source: progressSource(s.req), Frame: s.read + 1, Total: s.info.FrameCount, Count: count, Peak: s.result.Peak})
	}
	s.read++

	if s.region != nil {
		if err := annotate.DrawRegion(&f.Mat, *s.region); err != nil {
			return errs.IO("annotate frame", err)
		}
	}
	if _, err := annotate.Draw(&f.Mat, s.last); err != nil {
		return errs.IO("annotate frame", err)
	}
	return s.sink.Write(f.Mat)
}

// start opens the sink with the first frame's geometry and resolves the ROI.
func (s *scan) start(f frame.Frame) error {
	a := s.aggregator
	region, err := a.clamp(s.req.Region, f)
	if err != nil {
		return err
	}
	s.region = region

	sink, err := a.create(s.pending.TempPath, a.codec, s.info.FPS, f.Width(), f.Height())
	if err != nil {
		return err
	}
	s.sink = sink
	return nil
}

func (s *scan) finish() (string, error) {
	s.done = true
	if err := s.sink.Close(); err != nil {
		s.pending.Discard()
		return "", errs.IO("finalize video", err)
	}
	return s.pending.Commit()
}

// abort releases the sink and removes the partial file unless finish ran.
func (s *scan) abort() {
	if s.done {
		return
	}
	if s.sink != nil {
		s.sink.Close()
	}
	s.pending.Discard()
}
