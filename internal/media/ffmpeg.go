package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ProbeDurationMs asks ffprobe for the container duration of path.
func ProbeDurationMs(ctx context.Context, ffprobePath, path string) (int64, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseSeconds(stdout.String())
}

// parseSeconds converts ffprobe's decimal seconds ("65.024000") into milliseconds.
func parseSeconds(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("no duration reported")
	}
	secs, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return secs.Mul(decimal.NewFromInt(1000)).IntPart(), nil
}

// Transcode converts any ffmpeg-readable input into the canonical WAV at out.
func Transcode(ctx context.Context, ffmpegPath, in, out string) error {
	// ffmpeg -y -i input -ac 1 -ar 16000 -sample_fmt s16 -f wav output
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-y", "-i", in,
		"-vn",
		"-ac", strconv.Itoa(Channels), "-ar", strconv.Itoa(SampleRate),
		"-sample_fmt", "s16",
		"-f", "wav",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
