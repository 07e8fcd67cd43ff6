package trainer

import (
	"sync"
	"time"

	"batchml/internal/ml"
	"batchml/internal/storage"
)

// MockMetrics implements MetricsTracker for testing
type MockMetrics struct {
	mu       sync.Mutex
	started  int
	finished int
	failed   int
	elapsed  time.Duration
	scores   map[string]float64
}

func (m *MockMetrics) TrainingStarted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *MockMetrics) TrainingFinished(_ string, d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished++
	if !ok {
		m.failed++
	}
	m.elapsed += d
}

func (m *MockMetrics) ModelScore(family, metric string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scores == nil {
		m.scores = make(map[string]float64)
	}
	m.scores[family+"/"+metric] = value
}

// MockStore implements Store in memory for testing
type MockStore struct {
	mu      sync.Mutex
	saved   map[string]*ml.ModelRecord
	failing bool
}

func (s *MockStore) Save(rec *ml.ModelRecord) storage.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return storage.Outcome{Message: "Error: disk full"}
	}
	if s.saved == nil {
		s.saved = make(map[string]*ml.ModelRecord)
	}
	s.saved[rec.Name] = rec
	return storage.Outcome{OK: true, Message: "Model " + rec.Name + " saved successfully"}
}
