package media

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Canonical waveform every session works on: 16 kHz, mono, signed 16-bit PCM.
const (
	SampleRate = 16000
	BitDepth   = 16
	Channels   = 1

	wavFormatPCM = 1
)

// PCM is a decoded mono waveform.
type PCM struct {
	Samples    []int
	SampleRate int
}

// DurationMs returns the waveform length in whole milliseconds.
func (p PCM) DurationMs() int64 {
	if p.SampleRate == 0 {
		return 0
	}
	return int64(len(p.Samples)) * 1000 / int64(p.SampleRate)
}

// ReadWAV decodes a WAV file into a mono 16-bit waveform at its native rate.
func ReadWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return PCM{}, fmt.Errorf("not a valid WAV file")
	}
	if d.WavAudioFormat != wavFormatPCM {
		return PCM{}, fmt.Errorf("unsupported WAV encoding %d", d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("decode WAV: %w", err)
	}

	channels := int(d.NumChans)
	if channels < 1 {
		channels = 1
	}
	samples := downmix(buf.Data, channels)
	scaleTo16(samples, int(d.BitDepth))

	return PCM{Samples: samples, SampleRate: int(d.SampleRate)}, nil
}

// WAVDurationMs returns the length of a PCM WAV from its data chunk size
// without decoding any samples.
func WAVDurationMs(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("not a valid WAV file")
	}
	if err := d.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("find PCM data: %w", err)
	}
	frameBytes := int64(d.NumChans) * int64(d.BitDepth/8)
	if d.PCMChunk == nil || frameBytes == 0 || d.SampleRate == 0 {
		return 0, fmt.Errorf("no PCM data")
	}
	return d.PCMLen() / frameBytes * 1000 / int64(d.SampleRate), nil
}

// WriteWAV encodes mono 16-bit samples at the given rate.
func WriteWAV(path string, samples []int, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, sampleRate, BitDepth, Channels, wavFormatPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: Channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize WAV: %w", err)
	}
	return f.Close()
}

// isCanonical reports whether path is already a 16 kHz mono 16-bit PCM WAV.
func isCanonical(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return false
	}
	return d.WavAudioFormat == wavFormatPCM &&
		d.NumChans == Channels &&
		d.BitDepth == BitDepth &&
		d.SampleRate == SampleRate
}

// downmix averages interleaved channels into one.
func downmix(data []int, channels int) []int {
	if channels == 1 {
		out := make([]int, len(data))
		copy(out, data)
		return out
	}
	frames := len(data) / channels
	out := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		out[i] = sum / channels
	}
	return out
}

// scaleTo16 rescales samples of the given bit depth into the int16 range.
// 8-bit WAV samples are unsigned.
func scaleTo16(samples []int, bitDepth int) {
	switch {
	case bitDepth == 8:
		for i, s := range samples {
			samples[i] = (s - 128) << 8
		}
	case bitDepth > 16:
		shift := uint(bitDepth - 16)
		for i, s := range samples {
			samples[i] = s >> shift
		}
	}
}

// resampleLinear converts between sample rates by linear interpolation.
func resampleLinear(samples []int, srcRate, dstRate int) []int {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]int, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}

// toCanonical brings a decoded waveform to the canonical rate.
func toCanonical(p PCM) PCM {
	return PCM{Samples: resampleLinear(p.Samples, p.SampleRate, SampleRate), SampleRate: SampleRate}
}
