package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amanullahtanweer/segscribe/internal/segment"
	"github.com/amanullahtanweer/segscribe/internal/transcriber"
)

// DefaultWorkers bounds concurrency when the caller does not.
const DefaultWorkers = 6

// SegmentError records why one segment produced no text. It never aborts
// the job; it is attached to the segment's Result.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// Result is the outcome of one segment. Text is empty when Err is set.
type Result struct {
	segment.Bounds
	Text    string
	Err     error
	Elapsed time.Duration
}

// OK reports whether the backend call succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Observer is told about each finished segment. Calls are serialised.
type Observer func(done, total int, r Result)

type Options struct {
	Workers  int
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer Observer
}

// Dispatcher fans segments out to a backend over a bounded worker pool.
type Dispatcher struct {
	backend transcriber.Backend
	opts    Options
}

func New(backend transcriber.Backend, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{backend: backend, opts: opts}
}

type task struct {
	pos int
	seg segment.Segment
}

// Run transcribes every segment and returns one Result per segment in
// input order. At most Workers requests are in flight. A failing segment
// yields an empty Text and does not affect its siblings; there are no
// retries. tmpl supplies the target and parameters; each request gets its
// own copy with the segment's index, file name and audio.
func (d *Dispatcher) Run(ctx context.Context, segs []segment.Segment, tmpl transcriber.Request) []Result {
	results := make([]Result, len(segs))
	if len(segs) == 0 {
		return results
	}

	workers := min(d.opts.Workers, len(segs))
	tasks := make(chan task)

	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)
	finish := func(pos int, r Result) {
		mu.Lock()
		defer mu.Unlock()
		results[pos] = r
		done++
		if d.opts.Observer != nil {
			d.opts.Observer(done, len(segs), r)
		}
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				finish(t.pos, d.runOne(ctx, t.seg, tmpl))
			}
		}()
	}

	for i, s := range segs {
		tasks <- task{pos: i, seg: s}
	}
	close(tasks)
	wg.Wait()

	return results
}

func (d *Dispatcher) runOne(ctx context.Context, seg segment.Segment, tmpl transcriber.Request) (res Result) {
	start := time.Now()
	res = Result{Bounds: seg.Bounds}
	defer func() {
		if p := recover(); p != nil {
			res.Text = ""
			res.Err = &SegmentError{Index: seg.Index, Err: fmt.Errorf("panic: %v", p)}
		}
		res.Elapsed = time.Since(start)
		if res.Err != nil {
			d.opts.Logger.Warn("segment failed", "segment", seg.Index, "start_ms", seg.StartMs, "error", res.Err)
		} else {
			d.opts.Logger.Debug("segment transcribed", "segment", seg.Index, "chars", len(res.Text), "elapsed", res.Elapsed)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = &SegmentError{Index: seg.Index, Err: err}
		return res
	}

	audio, err := os.ReadFile(seg.Path)
	if err != nil {
		res.Err = &SegmentError{Index: seg.Index, Err: err}
		return res
	}

	req := tmpl
	req.Index = seg.Index
	req.Filename = filepath.Base(seg.Path)
	req.Audio = audio

	callCtx := ctx
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	text, err := d.backend.Transcribe(callCtx, req)
	if err != nil {
		res.Err = &SegmentError{Index: seg.Index, Err: err}
		return res
	}
	res.Text = text
	return res
}

// Failed counts results that carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
