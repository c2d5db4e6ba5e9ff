package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/amanullahtanweer/segscribe/internal/media"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Defaults used when the caller leaves the window parameters unset.
const (
	DefaultLengthMs  = 30000
	DefaultOverlapMs = 300
)

// ErrInvalidPlan is returned for window parameters that cannot produce a
// forward-moving plan.
var ErrInvalidPlan = errors.New("invalid segmentation parameters")

// Bounds is one window of the source timeline, [StartMs, EndMs).
type Bounds struct {
	Index   int
	StartMs int64
	EndMs   int64
}

// Segment is a window backed by its own WAV file in the session directory.
type Segment struct {
	Bounds
	Path string
}

// DurationMs returns the window length.
func (b Bounds) DurationMs() int64 {
	return b.EndMs - b.StartMs
}

func (b Bounds) String() string {
	return fmt.Sprintf("segment %d: %d-%d ms", b.Index, b.StartMs, b.EndMs)
}

// Plan computes overlapping windows covering [0, durationMs). Consecutive
// windows start lengthMs-overlapMs apart; the last one is clipped to the
// duration and iteration stops as soon as a window reaches the end.
// The result depends only on its three arguments.
func Plan(durationMs, lengthMs, overlapMs int64) ([]Bounds, error) {
	if lengthMs <= 0 || overlapMs < 0 || overlapMs >= lengthMs {
		return nil, fmt.Errorf("%w: length %d ms, overlap %d ms", ErrInvalidPlan, lengthMs, overlapMs)
	}
	if durationMs <= 0 {
		return nil, fmt.Errorf("%w: duration %d ms", ErrInvalidPlan, durationMs)
	}

	step := lengthMs - overlapMs
	var plan []Bounds
	for start := int64(0); start < durationMs; start += step {
		end := min(start+lengthMs, durationMs)
		if end > start {
			plan = append(plan, Bounds{Index: len(plan), StartMs: start, EndMs: end})
		}
		if end >= durationMs {
			break
		}
	}
	return plan, nil
}

// Starts returns the start offsets of a plan in index order.
func Starts(plan []Bounds) []int64 {
	out := make([]int64, len(plan))
	for i, b := range plan {
		out[i] = b.StartMs
	}
	return out
}

// readChunk is the number of samples decoded per read while cutting.
const readChunk = 16384

// Cut slices the canonical WAV at wavPath along plan and writes one
// segment_NNN.wav per window into dir. The input is streamed: only the
// samples of the current window are held in memory. On error the segments
// written so far are returned.
func Cut(wavPath string, plan []Bounds, dir string) ([]Segment, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("read normalized audio: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("read normalized audio: not a valid WAV file")
	}
	rate := int64(d.SampleRate)
	buf := &audio.IntBuffer{
		Data:   make([]int, readChunk),
		Format: &audio.Format{NumChannels: int(d.NumChans), SampleRate: int(d.SampleRate)},
	}

	var (
		pending []int // samples from absolute index base onwards
		base    int64
		eof     bool
	)
	fill := func(upto int64) error {
		for !eof && base+int64(len(pending)) < upto {
			n, err := d.PCMBuffer(buf)
			if err != nil {
				return err
			}
			if n <= 0 {
				eof = true
				break
			}
			pending = append(pending, buf.Data[:n]...)
		}
		return nil
	}

	segments := make([]Segment, 0, len(plan))
	for i, b := range plan {
		from := b.StartMs * rate / 1000
		to := b.EndMs * rate / 1000
		if err := fill(to); err != nil {
			return segments, fmt.Errorf("read normalized audio: %w", err)
		}
		to = min(to, base+int64(len(pending)))
		if to <= from {
			return segments, fmt.Errorf("%s has no samples", b)
		}

		path := filepath.Join(dir, fmt.Sprintf("segment_%03d.wav", b.Index))
		if err := media.WriteWAV(path, pending[from-base:to-base], int(rate)); err != nil {
			return segments, fmt.Errorf("write %s: %w", b, err)
		}
		segments = append(segments, Segment{Bounds: b, Path: path})

		if i+1 < len(plan) {
			next := plan[i+1].StartMs * rate / 1000
			if drop := min(next-base, int64(len(pending))); drop > 0 {
				n := copy(pending, pending[drop:])
				pending = pending[:n]
				base += drop
			}
		}
	}
	return segments, nil
}
