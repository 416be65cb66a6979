package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds process-wide analysis counters.
type Metrics struct {
	images        atomic.Int64
	videos        atomic.Int64
	interactive   atomic.Int64
	totalFrames   atomic.Int64
	totalPeople   atomic.Int64
	totalErrors   atomic.Int64
	totalLatency  atomic.Int64
	analyses      atomic.Int64
	lastAnalysis  atomic.Int64
	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsDropped     atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Kind of analysis being recorded.
type Kind string

const (
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
	KindInteractive Kind = "interactive"
)

// RecordAnalysis counts one successful analysis of the given kind.
func (m *Metrics) RecordAnalysis(kind Kind, frames, people int, duration time.Duration) {
	switch kind {
	case KindImage:
		m.images.Add(1)
	case KindVideo:
		m.videos.Add(1)
	case KindInteractive:
		m.interactive.Add(1)
	}
	m.analyses.Add(1)
	m.totalFrames.Add(int64(frames))
	m.totalPeople.Add(int64(people))
	m.totalLatency.Add(duration.Milliseconds())
	m.lastAnalysis.Store(time.Now().Unix())
}

func (m *Metrics) IncrementErrors() {
	m.totalErrors.Add(1)
}

func (m *Metrics) GetTotalFrames() int64 {
	return m.totalFrames.Load()
}

func (m *Metrics) GetTotalErrors() int64 {
	return m.totalErrors.Load()
}

// GetAvgLatency returns the mean analysis latency in milliseconds.
func (m *Metrics) GetAvgLatency() float64 {
	n := m.analyses.Load()
	if n == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(n)
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

// IncrementWebSocketDropped counts progress events dropped because the hub was busy.
func (m *Metrics) IncrementWebSocketDropped() {
	m.wsDropped.Add(1)
}

// Snapshot returns all counters for the metrics endpoint.
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"analyses": map[string]interface{}{
			"image":       m.images.Load(),
			"video":       m.videos.Load(),
			"interactive": m.interactive.Load(),
			"total":       m.analyses.Load(),
		},
		"frames":         m.totalFrames.Load(),
		"people":         m.totalPeople.Load(),
		"errors":         m.totalErrors.Load(),
		"avg_latency_ms": m.GetAvgLatency(),
		"last_analysis":  m.lastAnalysis.Load(),
		"websocket": map[string]interface{}{
			"connections": m.wsConnections.Load(),
			"messages":    m.wsMessages.Load(),
			"dropped":     m.wsDropped.Load(),
		},
	}
}
