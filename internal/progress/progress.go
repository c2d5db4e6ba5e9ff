package progress

import (
	"context"
	"errors"
	"sync"
)

// Status values reported for a job.
const (
	StatusInitializing = "initializing"
	StatusUploading    = "uploading"
	StatusProcessing   = "processing"
	StatusTranscribing = "transcribing"
	StatusCompleted    = "completed"
	StatusError        = "error"
	StatusWaiting      = "waiting"
)

// ErrNotFound is returned for a job id with no recorded progress.
var ErrNotFound = errors.New("progress not found")

// Progress is the externally visible state of one transcription job.
type Progress struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Percentage int    `json:"percentage"`
	Completed  bool   `json:"completed"`
	Error      bool   `json:"error,omitempty"`
}

// Tracker stores job progress. Implementations must be safe for
// concurrent use.
type Tracker interface {
	Update(ctx context.Context, id string, p Progress) error
	Get(ctx context.Context, id string) (Progress, error)
	Delete(ctx context.Context, id string) error
}

// DispatchPercent maps segment completion onto the 30..95 band reserved
// for transcription.
func DispatchPercent(done, total int) int {
	if total <= 0 {
		return 30
	}
	return 30 + done*65/total
}

// MemoryTracker keeps progress in process memory.
type MemoryTracker struct {
	mu   sync.RWMutex
	jobs map[string]Progress
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{jobs: make(map[string]Progress)}
}

func (m *MemoryTracker) Update(ctx context.Context, id string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id] = p
	return nil
}

func (m *MemoryTracker) Get(ctx context.Context, id string) (Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.jobs[id]
	if !ok {
		return Progress{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryTracker) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}
