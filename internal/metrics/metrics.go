package metrics

import (
	"fmt"
	"sync"
	"time"
)

// JobMetrics collects per-job counters while segments are dispatched.
type JobMetrics struct {
	Backend         string
	SessionID       string
	StartTime       time.Time
	EndTime         time.Time
	AudioMs         int64
	Segments        int
	Succeeded       int
	Failed          int
	TranscriptChars int
	FirstResultTime *time.Time
	slowest         time.Duration
	mu              sync.Mutex
}

func NewJobMetrics(backend, sessionID string) *JobMetrics {
	return &JobMetrics{
		Backend:   backend,
		SessionID: sessionID,
		StartTime: time.Now(),
	}
}

func (m *JobMetrics) SetAudio(durationMs int64, segments int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AudioMs = durationMs
	m.Segments = segments
}

// AddSegmentResult records one finished backend call.
func (m *JobMetrics) AddSegmentResult(text string, elapsed time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FirstResultTime == nil {
		now := time.Now()
		m.FirstResultTime = &now
	}
	if elapsed > m.slowest {
		m.slowest = elapsed
	}

	if ok {
		m.Succeeded++
		m.TranscriptChars += len(text)
	} else {
		m.Failed++
	}
}

func (m *JobMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

// RealTimeFactor is wall time divided by audio time; 0 when either is unknown.
func (m *JobMetrics) RealTimeFactor() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rtf()
}

func (m *JobMetrics) rtf() float64 {
	if m.AudioMs <= 0 || m.EndTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime).Seconds() / (float64(m.AudioMs) / 1000)
}

func (m *JobMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := m.EndTime.Sub(m.StartTime)
	var latency time.Duration
	if m.FirstResultTime != nil {
		latency = m.FirstResultTime.Sub(m.StartTime)
	}

	return fmt.Sprintf(
		"Backend: %s\n"+
			"Session: %s\n"+
			"Duration: %v\n"+
			"Audio Duration: %.2f seconds\n"+
			"Segments: %d (%d ok, %d failed)\n"+
			"Transcript Length: %d chars\n"+
			"First Result Latency: %v\n"+
			"Slowest Segment: %v\n"+
			"Real-time Factor: %.2fx\n",
		m.Backend,
		m.SessionID,
		duration,
		float64(m.AudioMs)/1000,
		m.Segments,
		m.Succeeded,
		m.Failed,
		m.TranscriptChars,
		latency,
		m.slowest,
		m.rtf(),
	)
}
