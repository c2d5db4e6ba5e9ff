package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i % 200) * 100
	}
	return out
}

func writeStereoWAV(t *testing.T, path string, rate, frames int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		data[i*2] = 1000
		data[i*2+1] = 3000
	}
	enc := wav.NewEncoder(f, rate, 16, 2, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func newTestNormalizer() *Normalizer {
	return NewNormalizer("/nonexistent/ffmpeg", "/nonexistent/ffprobe", nil)
}

func TestNormalizeCopiesCanonicalWAV(t *testing.T) {
	src := filepath.Join(t.TempDir(), "meeting.wav")
	require.NoError(t, WriteWAV(src, tone(SampleRate*2), SampleRate))
	dir := t.TempDir()

	source, out, err := newTestNormalizer().Normalize(context.Background(), src, dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "meeting.wav"), out)
	assert.Equal(t, int64(2000), source.DurationMs)
	assert.Equal(t, src, source.Path)

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNormalizeResamplesTelephonyWAV(t *testing.T) {
	src := filepath.Join(t.TempDir(), "call.wav")
	require.NoError(t, WriteWAV(src, tone(8000*3), 8000))

	source, out, err := newTestNormalizer().Normalize(context.Background(), src, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "call_converted.wav", filepath.Base(out))
	assert.Equal(t, int64(3000), source.DurationMs)
	assert.True(t, isCanonical(out))
}

func TestNormalizeDownmixesStereo(t *testing.T) {
	src := filepath.Join(t.TempDir(), "stereo.wav")
	writeStereoWAV(t, src, SampleRate, SampleRate)

	_, out, err := newTestNormalizer().Normalize(context.Background(), src, t.TempDir())
	require.NoError(t, err)

	pcm, err := ReadWAV(out)
	require.NoError(t, err)
	require.Len(t, pcm.Samples, SampleRate)
	assert.Equal(t, 2000, pcm.Samples[100])
}

func TestNormalizeInputErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "broken.wav")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not audio"), 0o644))
	video := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("not a real container"), 0o644))

	testCases := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.wav")},
		{"directory", dir},
		{"undecodable wav without ffmpeg", garbage},
		{"container without ffmpeg", video},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := newTestNormalizer().Normalize(context.Background(), tc.path, t.TempDir())
			var inputErr *InputError
			require.True(t, errors.As(err, &inputErr), "got %v", err)
			assert.Equal(t, tc.path, inputErr.Path)
		})
	}
}

func TestParseSeconds(t *testing.T) {
	ms, err := parseSeconds("65.024000\n")
	require.NoError(t, err)
	assert.Equal(t, int64(65024), ms)

	ms, err = parseSeconds("0.0005")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ms)

	_, err = parseSeconds("N/A")
	assert.Error(t, err)
	_, err = parseSeconds("abc")
	assert.Error(t, err)
}

func TestResampleLinear(t *testing.T) {
	in := []int{0, 100, 200, 300}
	out := resampleLinear(in, 8000, 16000)
	require.Len(t, out, 8)
	assert.Equal(t, []int{0, 50, 100, 150, 200, 250, 300, 300}, out)

	assert.Equal(t, in, resampleLinear(in, 16000, 16000))
}

func TestWAVDurationMsReadsHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.wav")
	require.NoError(t, WriteWAV(path, tone(SampleRate*5/4), SampleRate))

	d, err := WAVDurationMs(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), d)

	stereo := filepath.Join(dir, "stereo.wav")
	writeStereoWAV(t, stereo, 8000, 4000)
	d, err = WAVDurationMs(stereo)
	require.NoError(t, err)
	assert.Equal(t, int64(500), d)

	bad := filepath.Join(dir, "in.bin")
	require.NoError(t, os.WriteFile(bad, []byte("RIFF"), 0o644))
	_, err = WAVDurationMs(bad)
	assert.Error(t, err)
}
