package transcriber

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/go-audio/wav"
)

// Backend kinds understood by the Router.
const (
	KindOpenAI     = "openai"
	KindVosk       = "vosk"
	KindAssemblyAI = "assemblyai"
)

// Backend is the common interface for all speech-to-text providers.
// Implementations must not keep per-call state: everything a call needs
// travels in the Request.
type Backend interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Transcribe(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Target identifies where a request goes and which model serves it.
type Target struct {
	Name     string
	Kind     string
	Endpoint string
	Model    string
	APIKey   string
}

// Params are the fixed decoding parameters sent with every segment.
type Params struct {
	Language          string
	Temperature       float64
	Seed              int
	RepetitionPenalty float64
}

// DefaultParams returns deterministic decoding: temperature 0, fixed seed.
func DefaultParams(language string) Params {
	return Params{
		Language:          language,
		Temperature:       0,
		Seed:              42,
		RepetitionPenalty: 1.2,
	}
}

// Request is an immutable per-call value: target, decoding parameters and
// the audio of one segment.
type Request struct {
	Target   Target
	Params   Params
	Index    int
	Filename string
	Audio    []byte
}

// LanguageHint returns the language to send, or "" for auto-detection.
func (r Request) LanguageHint() string {
	lang := strings.TrimSpace(r.Params.Language)
	if strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// Router sends each request to the backend registered for its target kind.
type Router struct {
	backends map[string]Backend
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{backends: make(map[string]Backend)}
}

// Handle registers the backend for a kind.
func (r *Router) Handle(kind string, b Backend) *Router {
	r.backends[kind] = b
	return r
}

// Supports reports whether kind has a backend.
func (r *Router) Supports(kind string) bool {
	_, ok := r.backends[kind]
	return ok
}

func (r *Router) Transcribe(ctx context.Context, req Request) (string, error) {
	b, ok := r.backends[req.Target.Kind]
	if !ok {
		return "", fmt.Errorf("no backend for kind %q", req.Target.Kind)
	}
	return b.Transcribe(ctx, req)
}

var errEmptyAudio = errors.New("segment has no audio")

// pcm16 extracts little-endian signed 16-bit mono PCM and its rate from a
// WAV payload, for streaming protocols that take raw frames.
func pcm16(wavData []byte) ([]byte, int, error) {
	if len(wavData) == 0 {
		return nil, 0, errEmptyAudio
	}
	d := wav.NewDecoder(bytes.NewReader(wavData))
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("segment payload is not a valid WAV file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode segment payload: %w", err)
	}
	if d.NumChans != 1 || d.BitDepth != 16 {
		return nil, 0, fmt.Errorf("segment payload must be mono 16-bit, got %d ch / %d bit", d.NumChans, d.BitDepth)
	}

	out := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out, int(d.SampleRate), nil
}
