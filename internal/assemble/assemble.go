package assemble

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amanullahtanweer/segscribe/internal/dispatch"
	"github.com/amanullahtanweer/segscribe/internal/segment"
)

// Format selects how segment texts are joined.
type Format string

const (
	Plain Format = "plain"
	Timed Format = "timed"
)

// ParseFormat accepts plain|txt|text and timed|srt.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "txt", "text":
		return Plain, nil
	case "timed", "srt", "":
		return Timed, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Ext is the file extension used for transcripts in this format.
func (f Format) Ext() string {
	if f == Plain {
		return ".txt"
	}
	return ".srt"
}

// Caption is one numbered, time-ranged block of timed output.
type Caption struct {
	Number  int
	StartMs int64
	EndMs   int64
	Text    string
}

func (c Caption) String() string {
	return fmt.Sprintf("%d\n%s --> %s\n%s\n", c.Number, FormatTimestamp(c.StartMs), FormatTimestamp(c.EndMs), c.Text)
}

// Texts places each result's text in the slot of its segment index.
// Results may arrive in any order; an index with no result reads as "".
func Texts(results []dispatch.Result, n int) []string {
	texts := make([]string, n)
	for _, r := range results {
		if r.Index < 0 || r.Index >= n || r.Err != nil {
			continue
		}
		texts[r.Index] = strings.TrimSpace(r.Text)
	}
	return texts
}

// PlainText joins non-empty texts in index order with single spaces.
func PlainText(results []dispatch.Result, n int) string {
	var parts []string
	for _, t := range Texts(results, n) {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Captions builds timed blocks for the segments that produced text. A
// block spans from its segment's start to the next segment's start, or to
// durationMs for the last segment. Numbering skips silent segments.
func Captions(plan []segment.Bounds, results []dispatch.Result, durationMs int64) []Caption {
	texts := Texts(results, len(plan))
	var captions []Caption
	for i, b := range plan {
		if texts[i] == "" {
			continue
		}
		end := durationMs
		if i+1 < len(plan) {
			end = plan[i+1].StartMs
		}
		captions = append(captions, Caption{
			Number:  len(captions) + 1,
			StartMs: b.StartMs,
			EndMs:   end,
			Text:    texts[i],
		})
	}
	return captions
}

// TimedText renders captions as blocks separated by a blank line.
func TimedText(plan []segment.Bounds, results []dispatch.Result, durationMs int64) string {
	captions := Captions(plan, results, durationMs)
	blocks := make([]string, len(captions))
	for i, c := range captions {
		blocks[i] = c.String()
	}
	return strings.Join(blocks, "\n")
}

// Render assembles results in the given format.
func Render(f Format, plan []segment.Bounds, results []dispatch.Result, durationMs int64) string {
	if f == Plain {
		return PlainText(results, len(plan))
	}
	return TimedText(plan, results, durationMs)
}

// FormatTimestamp formats milliseconds as HH:MM:SS,mmm.
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// WriteFile stores text as UTF-8 at path, creating parent directories.
func WriteFile(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
