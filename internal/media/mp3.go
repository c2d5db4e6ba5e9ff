package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// ReadMP3 decodes an MP3 file in pure Go into a mono waveform at its native rate.
// go-mp3 always yields interleaved signed 16-bit stereo.
func ReadMP3(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return PCM{}, fmt.Errorf("create MP3 decoder: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("decode MP3: %w", err)
	}

	frames := len(raw) / 4
	samples := make([]int, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		right := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		samples[i] = (int(left) + int(right)) / 2
	}

	return PCM{Samples: samples, SampleRate: dec.SampleRate()}, nil
}
