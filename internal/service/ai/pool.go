package ai

import (
	"context"
	"errors"

	"crowdcounter/internal/config"
	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/service/frame"
)

// Pool hands out detector instances so that each model is used by one
// request at a time. Pool implements Detector.
type Pool struct {
	detectors chan Detector
	closers   []func() error
}

// NewPool loads cfg.DetectorWorkers models. A load failure is fatal to the caller.
func NewPool(cfg *config.Config, logger *logger.Logger) (*Pool, error) {
	workers := cfg.DetectorWorkers
	if workers <= 0 {
		workers = 1
	}

	detectors := make([]Detector, 0, workers)
	closers := make([]func() error, 0, workers)
	for i := 0; i < workers; i++ {
		model, err := NewModel(cfg) // każda instancja ładuje model osobno
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, err
		}
		md := NewModelDetector(model)
		detectors = append(detectors, md)
		closers = append(closers, md.Close)
	}

	logger.Info("Detection pool initialized: %d x %s (%s)", workers, cfg.ModelBackend, cfg.ModelPath)
	p := NewPoolOf(detectors...)
	p.closers = closers
	return p, nil
}

// NewPoolOf builds a pool from existing detectors.
func NewPoolOf(detectors ...Detector) *Pool {
	p := &Pool{detectors: make(chan Detector, len(detectors))}
	for _, d := range detectors {
		p.detectors <- d
	}
	return p
}

// Size returns the number of detector instances.
func (p *Pool) Size() int {
	return cap(p.detectors)
}

// Detect borrows a detector, waiting until one is free or ctx is done.
func (p *Pool) Detect(ctx context.Context, f frame.Frame, threshold float64) (dto.DetectionResult, error) {
	if p.Size() == 0 {
		return dto.DetectionResult{}, errs.Inference("detector pool is empty")
	}

	select {
	case d := <-p.detectors:
		defer func() { p.detectors <- d }()
		return d.Detect(ctx, f, threshold)
	case <-ctx.Done():
		return dto.DetectionResult{}, ctx.Err()
	}
}

// Close releases every loaded model.
func (p *Pool) Close() error {
	var errList []error
	for _, c := range p.closers {
		if err := c(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
