package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Source is a decoded input: where it came from and how long it lasts.
type Source struct {
	Path       string
	DurationMs int64
}

// Normalizer turns arbitrary audio/video input into the canonical waveform
// inside a caller-owned scratch directory.
type Normalizer struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewNormalizer creates a normalizer using the given ffmpeg/ffprobe binaries.
func NewNormalizer(ffmpegPath, ffprobePath string, logger *slog.Logger) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

// CheckSource fails with *InputError when path is missing or not a regular file.
func CheckSource(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &InputError{Path: path, Err: err}
	}
	if !fi.Mode().IsRegular() {
		return &InputError{Path: path, Err: errors.New("not a regular file")}
	}
	return nil
}

// Normalize writes the canonical waveform of src into dir and returns the
// source description together with the path of the working copy.
//
// Canonical WAV input is copied as-is. Other WAV layouts and MP3 are decoded
// in-process; everything else goes through ffmpeg.
func (n *Normalizer) Normalize(ctx context.Context, src, dir string) (Source, string, error) {
	if err := CheckSource(src); err != nil {
		return Source{}, "", err
	}

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	ext := strings.ToLower(filepath.Ext(src))

	if ext == ".wav" && isCanonical(src) {
		out := filepath.Join(dir, filepath.Base(src))
		if err := copyFile(src, out); err != nil {
			return Source{}, "", fmt.Errorf("copy canonical input: %w", err)
		}
		return n.finish(src, out)
	}

	out := filepath.Join(dir, stem+"_converted.wav")

	var decoded PCM
	var err error
	switch ext {
	case ".wav":
		decoded, err = ReadWAV(src)
	case ".mp3":
		decoded, err = ReadMP3(src)
	default:
		err = errNeedsFFmpeg
	}
	if err == nil {
		canon := toCanonical(decoded)
		if len(canon.Samples) == 0 {
			return Source{}, "", &InputError{Path: src, Err: errors.New("no audio samples")}
		}
		if err := WriteWAV(out, canon.Samples, canon.SampleRate); err != nil {
			return Source{}, "", fmt.Errorf("write canonical audio: %w", err)
		}
		n.logger.Debug("decoded in-process", "source", src, "rate", decoded.SampleRate)
		return n.finish(src, out)
	}
	if !errors.Is(err, errNeedsFFmpeg) {
		n.logger.Debug("in-process decode failed, falling back to ffmpeg", "source", src, "error", err)
	}

	probed, err := ProbeDurationMs(ctx, n.ffprobePath, src)
	if err != nil {
		return Source{}, "", &InputError{Path: src, Err: err}
	}
	if probed <= 0 {
		return Source{}, "", &InputError{Path: src, Err: errors.New("zero duration")}
	}
	if err := Transcode(ctx, n.ffmpegPath, src, out); err != nil {
		return Source{}, "", &InputError{Path: src, Err: err}
	}

	source, path, err := n.finish(src, out)
	if err == nil {
		n.logger.Debug("transcoded with ffmpeg", "source", src, "probed_ms", probed, "decoded_ms", source.DurationMs)
	}
	return source, path, err
}

var errNeedsFFmpeg = errors.New("container requires ffmpeg")

// finish measures the canonical working copy from its header.
func (n *Normalizer) finish(src, canonical string) (Source, string, error) {
	d, err := WAVDurationMs(canonical)
	if err != nil {
		return Source{}, "", &InputError{Path: src, Err: err}
	}
	if d <= 0 {
		return Source{}, "", &InputError{Path: src, Err: errors.New("no audio samples")}
	}
	return Source{Path: src, DurationMs: d}, canonical, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
