package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Logger writes structured JSONL session logs to a file. A nil *Logger
// is valid and discards everything.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

type logRecord struct {
	Timestamp string            `json:"ts"`
	Event     string            `json:"event"`
	SessionID string            `json:"session_id"`
	Segment   *int              `json:"segment,omitempty"`
	StartMs   *int64            `json:"start_ms,omitempty"`
	Text      string            `json:"text,omitempty"`
	Error     string            `json:"error,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// New creates a logger under outputDir. Filename is timestamp + session id.
func New(outputDir, sessionID string, started time.Time) (*Logger, error) {
	if outputDir == "" {
		outputDir = "."
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	shortID := sessionID
	if len(sessionID) > 8 {
		shortID = sessionID[:8]
	}
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_session_%s.jsonl", started.Format("20060102_150405"), shortID))
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{file: f, path: filename}, nil
}

// Path is the log file location, or "" for a nil logger.
func (sl *Logger) Path() string {
	if sl == nil {
		return ""
	}
	return sl.path
}

func (sl *Logger) Close() error {
	if sl == nil {
		return nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.file != nil {
		err := sl.file.Close()
		sl.file = nil
		return err
	}
	return nil
}

func (sl *Logger) write(rec logRecord) {
	if sl == nil {
		return
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.file == nil {
		return
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().Format(time.RFC3339Nano)
	}
	rec.Text = strings.TrimSpace(rec.Text)
	_ = json.NewEncoder(sl.file).Encode(rec)
}

func (sl *Logger) LogSessionStart(sessionID, source, backend, format, language string, started time.Time) {
	sl.write(logRecord{Timestamp: started.Format(time.RFC3339Nano), Event: "session_start", SessionID: sessionID, Details: map[string]string{
		"source": source, "backend": backend, "format": format, "language": language,
	}})
}

func (sl *Logger) LogSegmentPlan(sessionID string, durationMs int64, segments int) {
	sl.write(logRecord{Event: "segment_plan", SessionID: sessionID, Details: map[string]string{
		"duration_ms": strconv.FormatInt(durationMs, 10), "segments": strconv.Itoa(segments),
	}})
}

func (sl *Logger) LogSegmentDone(sessionID string, index int, startMs int64, text string, elapsed time.Duration) {
	sl.write(logRecord{Event: "segment_done", SessionID: sessionID, Segment: &index, StartMs: &startMs, Text: text,
		Details: map[string]string{"elapsed": elapsed.String()}})
}

func (sl *Logger) LogSegmentFailed(sessionID string, index int, startMs int64, err error) {
	sl.write(logRecord{Event: "segment_failed", SessionID: sessionID, Segment: &index, StartMs: &startMs, Error: errString(err)})
}

func (sl *Logger) LogCleanup(sessionID, state string, err error) {
	sl.write(logRecord{Event: "cleanup", SessionID: sessionID, Error: errString(err), Details: map[string]string{"state": state}})
}

func (sl *Logger) LogSessionEnd(sessionID string, ended time.Time, chars, failed int, reason string) {
	sl.write(logRecord{Timestamp: ended.Format(time.RFC3339Nano), Event: "session_end", SessionID: sessionID, Details: map[string]string{
		"chars": strconv.Itoa(chars), "failed_segments": strconv.Itoa(failed), "reason": reason,
	}})
}

func (sl *Logger) LogHangup(sessionID string) {
	sl.write(logRecord{Event: "hangup", SessionID: sessionID})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
