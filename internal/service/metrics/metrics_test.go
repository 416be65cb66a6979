package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestRecordAnalysis(t *testing.T) {
	m := NewMetrics()

	m.RecordAnalysis(KindImage, 1, 3, 100*time.Millisecond)
	m.RecordAnalysis(KindVideo, 40, 7, 300*time.Millisecond)
	m.IncrementErrors()

	if m.GetTotalFrames() != 41 {
		t.Errorf("Expected 41 frames, got %d", m.GetTotalFrames())
	}
	if m.GetTotalErrors() != 1 {
		t.Errorf("Expected 1 error, got %d", m.GetTotalErrors())
	}
	if m.GetAvgLatency() != 200 {
		t.Errorf("Expected 200ms average latency, got %f", m.GetAvgLatency())
	}

	snap := m.Snapshot()
	analyses := snap["analyses"].(map[string]interface{})
	if analyses["image"].(int64) != 1 || analyses["video"].(int64) != 1 || analyses["total"].(int64) != 2 {
		t.Errorf("Unexpected analysis counters: %v", analyses)
	}
}

func TestAvgLatency_NoAnalyses(t *testing.T) {
	if NewMetrics().GetAvgLatency() != 0 {
		t.Error("Expected zero latency with no analyses")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordAnalysis(KindInteractive, 1, 1, time.Millisecond)
			m.IncrementWebSocketMessages()
		}()
	}
	wg.Wait()

	if m.GetTotalFrames() != 100 {
		t.Errorf("Expected 100 frames, got %d", m.GetTotalFrames())
	}
}
