package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/amanullahtanweer/segscribe/internal/archive"
	"github.com/amanullahtanweer/segscribe/internal/assemble"
	"github.com/amanullahtanweer/segscribe/internal/dispatch"
	"github.com/amanullahtanweer/segscribe/internal/media"
	"github.com/amanullahtanweer/segscribe/internal/metrics"
	"github.com/amanullahtanweer/segscribe/internal/progress"
	"github.com/amanullahtanweer/segscribe/internal/segment"
	"github.com/amanullahtanweer/segscribe/internal/sessionlog"
	"github.com/amanullahtanweer/segscribe/internal/textfilter"
	"github.com/amanullahtanweer/segscribe/internal/transcriber"
	"github.com/amanullahtanweer/segscribe/internal/workspace"
)

// Archive is the transcript store consulted before and updated after a job.
type Archive interface {
	Lookup(ctx context.Context, key archive.Key) (archive.Record, error)
	Save(ctx context.Context, rec archive.Record) (int64, error)
}

// Options wires the engine's collaborators. Tracker, Archive and
// SessionLogDir are optional.
type Options struct {
	Normalizer *media.Normalizer
	Workspace  *workspace.Manager
	Backend    transcriber.Backend
	Registry   *transcriber.Registry

	SegmentLengthMs int64
	OverlapMs       int64
	MaxWorkers      int
	SegmentTimeout  time.Duration
	Params          transcriber.Params
	Format          assemble.Format

	Tracker       progress.Tracker
	Archive       Archive
	SessionLogDir string
	Logger        *slog.Logger
}

// Request is one call of the transcription entry point. Empty fields fall
// back to the engine defaults.
type Request struct {
	SourcePath        string
	OutputPath        string
	MaxWorkers        int
	Format            string
	Backend           string
	Language          string
	RemoveRepetitions bool
	JobID             string
}

// Engine runs normalize, segment, dispatch and assemble for each request.
// It is safe for concurrent use: every call owns its own session.
type Engine struct {
	opts Options
}

func New(opts Options) (*Engine, error) {
	if opts.Normalizer == nil || opts.Workspace == nil || opts.Backend == nil || opts.Registry == nil {
		return nil, errors.New("engine: normalizer, workspace, backend and registry are required")
	}
	if opts.SegmentLengthMs == 0 {
		opts.SegmentLengthMs = segment.DefaultLengthMs
	}
	if _, err := segment.Plan(1, opts.SegmentLengthMs, opts.OverlapMs); err != nil {
		return nil, err
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = dispatch.DefaultWorkers
	}
	if opts.Format == "" {
		opts.Format = assemble.Timed
	}
	if opts.Params == (transcriber.Params{}) {
		opts.Params = transcriber.DefaultParams("en")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{opts: opts}, nil
}

// job carries the resolved settings of one request.
type job struct {
	Request
	format   assemble.Format
	target   transcriber.Target
	params   transcriber.Params
	workers  int
	hash     string
	logger   *slog.Logger
	started  time.Time
	sessLog  *sessionlog.Logger
	sessID   string
	segments []dispatch.Result
	duration int64
	complete bool // every planned segment was cut and transcribed
}

// Transcribe returns the best-effort transcript of req.SourcePath. Only
// input errors and invalid request settings are returned; segment,
// cleanup, write and archive failures are logged.
func (e *Engine) Transcribe(ctx context.Context, req Request) (string, error) {
	j, err := e.resolve(req)
	if err != nil {
		return "", err
	}
	if err := media.CheckSource(req.SourcePath); err != nil {
		e.publish(ctx, j, progress.Progress{Status: progress.StatusError, Message: err.Error(), Completed: true, Error: true})
		return "", err
	}

	e.publish(ctx, j, progress.Progress{Status: progress.StatusProcessing, Message: "Processing audio file...", Percentage: 10})

	raw, ok := e.lookup(ctx, j)
	if !ok {
		raw, err = e.run(ctx, j)
		if err != nil {
			e.publish(ctx, j, progress.Progress{Status: progress.StatusError, Message: err.Error(), Completed: true, Error: true})
			return "", err
		}
		e.save(ctx, j, raw)
	}

	text := raw
	if req.RemoveRepetitions && j.format == assemble.Plain {
		text = textfilter.RemoveRepeatedPhrases(raw)
	}

	if req.OutputPath != "" {
		if err := assemble.WriteFile(req.OutputPath, text); err != nil {
			j.logger.Error("failed to save transcript", "path", req.OutputPath, "error", err)
		} else {
			j.logger.Info("transcript saved", "path", req.OutputPath)
		}
	}

	e.publish(ctx, j, progress.Progress{Status: progress.StatusCompleted, Message: "Transcription completed successfully!", Percentage: 100, Completed: true})
	return text, nil
}

func (e *Engine) resolve(req Request) (*job, error) {
	format := e.opts.Format
	if req.Format != "" {
		f, err := assemble.ParseFormat(req.Format)
		if err != nil {
			return nil, err
		}
		format = f
	}
	target, err := e.opts.Registry.Resolve(req.Backend)
	if err != nil {
		return nil, err
	}

	params := e.opts.Params
	if req.Language != "" {
		params.Language = req.Language
	}
	workers := e.opts.MaxWorkers
	if req.MaxWorkers > 0 {
		workers = req.MaxWorkers
	}

	return &job{
		Request: req,
		format:  format,
		target:  target,
		params:  params,
		workers: workers,
		started: time.Now(),
		logger: e.opts.Logger.With(
			"source", filepath.Base(req.SourcePath), "backend", target.Name, "language", params.Language),
	}, nil
}

func (j *job) archiveKey() archive.Key {
	return archive.Key{Hash: j.hash, Backend: j.target.Name, Language: j.params.Language, Format: string(j.format)}
}

// lookup returns a previously archived transcript of identical audio.
func (e *Engine) lookup(ctx context.Context, j *job) (string, bool) {
	if e.opts.Archive == nil {
		return "", false
	}
	hash, err := archive.HashFile(j.SourcePath)
	if err != nil {
		j.logger.Warn("failed to hash source", "error", err)
		return "", false
	}
	j.hash = hash

	rec, err := e.opts.Archive.Lookup(ctx, j.archiveKey())
	if err != nil {
		if !errors.Is(err, archive.ErrNotFound) {
			j.logger.Warn("archive lookup failed", "error", err)
		}
		return "", false
	}
	j.logger.Info("reusing archived transcript", "id", rec.ID, "created", rec.CreatedAt)
	return rec.Text, true
}

// save archives a transcript only when no segment is missing, so a
// backend outage is retried by the next request instead of replayed.
func (e *Engine) save(ctx context.Context, j *job, text string) {
	if e.opts.Archive == nil || j.hash == "" {
		return
	}
	if !j.complete {
		j.logger.Info("transcript incomplete, not archived")
		return
	}
	rec := archive.Record{
		Key:        j.archiveKey(),
		Name:       filepath.Base(j.SourcePath),
		Text:       text,
		DurationMs: j.duration,
	}
	for _, r := range j.segments {
		rec.Segments = append(rec.Segments, archive.Segment{Index: r.Index, StartMs: r.StartMs, EndMs: r.EndMs, Text: r.Text})
	}
	if _, err := e.opts.Archive.Save(ctx, rec); err != nil {
		j.logger.Warn("archive save failed", "error", err)
	}
}

// run executes one session. The scratch directory is removed before run
// returns, on every path.
func (e *Engine) run(ctx context.Context, j *job) (string, error) {
	sess, err := e.opts.Workspace.Open()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	j.sessID = sess.ShortID()
	j.logger = j.logger.With("session", j.sessID)

	if e.opts.SessionLogDir != "" {
		sl, err := sessionlog.New(e.opts.SessionLogDir, sess.ID.String(), j.started)
		if err != nil {
			j.logger.Warn("session log unavailable", "error", err)
		} else {
			j.sessLog = sl
			defer sl.Close()
		}
	}
	j.sessLog.LogSessionStart(j.sessID, j.SourcePath, j.target.Name, string(j.format), j.params.Language, j.started)

	m := metrics.NewJobMetrics(j.target.Name, j.sessID)
	reason := "completed"

	defer func() {
		cerr := sess.Close()
		j.sessLog.LogCleanup(j.sessID, sess.State().String(), cerr)
		m.Finalize()
		j.sessLog.LogSessionEnd(j.sessID, time.Now(), m.TranscriptChars, m.Failed, reason)
		j.logger.Debug("job metrics\n" + m.Summary())
	}()

	sess.Advance(workspace.StateSegmenting)
	src, canonical, err := e.opts.Normalizer.Normalize(ctx, j.SourcePath, sess.Dir)
	if err != nil {
		reason = "input_error"
		j.logger.Error("input rejected", "error", err)
		return "", err
	}
	sess.Track(canonical)
	j.duration = src.DurationMs
	e.publish(ctx, j, progress.Progress{Status: progress.StatusProcessing, Message: "Segmenting audio...", Percentage: 20})

	plan, err := segment.Plan(src.DurationMs, e.opts.SegmentLengthMs, e.opts.OverlapMs)
	if err != nil {
		return "", err
	}
	segs, cutErr := segment.Cut(canonical, plan, sess.Dir)
	for _, s := range segs {
		sess.Track(s.Path)
	}
	if cutErr != nil {
		reason = "partial"
		j.logger.Error("segmentation incomplete", "cut", len(segs), "planned", len(plan), "error", cutErr)
	}
	m.SetAudio(src.DurationMs, len(plan))
	j.sessLog.LogSegmentPlan(j.sessID, src.DurationMs, len(plan))
	j.logger.Info("audio segmented", "duration_ms", src.DurationMs, "segments", len(plan), "workers", j.workers)

	sess.Advance(workspace.StateDispatching)
	e.publish(ctx, j, progress.Progress{Status: progress.StatusTranscribing, Message: "Transcribing audio segments...", Percentage: 30})

	d := dispatch.New(e.opts.Backend, dispatch.Options{
		Workers: j.workers,
		Timeout: e.opts.SegmentTimeout,
		Logger:  j.logger,
		Observer: func(done, total int, r dispatch.Result) {
			m.AddSegmentResult(r.Text, r.Elapsed, r.OK())
			if r.OK() {
				j.sessLog.LogSegmentDone(j.sessID, r.Index, r.StartMs, r.Text, r.Elapsed)
			} else {
				j.sessLog.LogSegmentFailed(j.sessID, r.Index, r.StartMs, r.Err)
			}
			e.publish(ctx, j, progress.Progress{
				Status:     progress.StatusTranscribing,
				Message:    fmt.Sprintf("Transcribed %d of %d segments", done, total),
				Percentage: progress.DispatchPercent(done, total),
			})
		},
	})
	results := d.Run(ctx, segs, transcriber.Request{Target: j.target, Params: j.params})
	j.segments = results

	sess.Advance(workspace.StateAssembling)
	text := assemble.Render(j.format, plan, results, src.DurationMs)

	failed := dispatch.Failed(results)
	if failed > 0 {
		reason = "partial"
		j.logger.Warn("transcript has gaps", "failed_segments", failed, "segments", len(plan))
	}
	j.complete = cutErr == nil && failed == 0 && len(results) == len(plan)
	j.logger.Info("transcription assembled", "chars", len(text), "elapsed", time.Since(j.started))
	return text, nil
}

func (e *Engine) publish(ctx context.Context, j *job, p progress.Progress) {
	if e.opts.Tracker == nil || j.JobID == "" {
		return
	}
	if err := e.opts.Tracker.Update(ctx, j.JobID, p); err != nil {
		j.logger.Warn("progress update failed", "error", err)
	}
}
