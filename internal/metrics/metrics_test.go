package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobMetricsCountsConcurrentResults(t *testing.T) {
	m := NewJobMetrics("whisper", "ab12cd34")
	m.SetAudio(65000, 3)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.AddSegmentResult("hello", time.Duration(i)*time.Second, i != 1)
		}(i)
	}
	wg.Wait()
	m.Finalize()

	assert.Equal(t, 2, m.Succeeded)
	assert.Equal(t, 1, m.Failed)
	assert.Equal(t, 10, m.TranscriptChars)
	assert.NotNil(t, m.FirstResultTime)

	summary := m.Summary()
	assert.Contains(t, summary, "Backend: whisper")
	assert.Contains(t, summary, "Segments: 3 (2 ok, 1 failed)")
	assert.Contains(t, summary, "Audio Duration: 65.00 seconds")
	assert.Contains(t, summary, "Slowest Segment: 2s")
}

func TestRealTimeFactor(t *testing.T) {
	m := NewJobMetrics("whisper", "x")
	assert.Zero(t, m.RealTimeFactor())

	m.SetAudio(10000, 1)
	m.StartTime = time.Now().Add(-5 * time.Second)
	m.Finalize()
	assert.InDelta(t, 0.5, m.RealTimeFactor(), 0.05)
}
