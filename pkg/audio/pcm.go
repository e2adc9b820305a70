package audio

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gopxl/beep/v2"
)

// PCM is an immutable clip of 16-bit little-endian PCM audio, the waveform
// currency between synthesis, playback and the WAV codec.
type PCM struct {
	Data        []byte // interleaved 16-bit samples, little-endian
	SampleRate  int
	NumChannels int
}

// NewPCM validates and wraps raw sample data.
func NewPCM(data []byte, sampleRate, numChannels int) (PCM, error) {
	if sampleRate <= 0 {
		return PCM{}, fmt.Errorf("pcm: invalid sample rate %d", sampleRate)
	}
	if numChannels != 1 && numChannels != 2 {
		return PCM{}, fmt.Errorf("pcm: invalid channel count %d", numChannels)
	}
	frame := numChannels * 2
	if len(data)%frame != 0 {
		return PCM{}, fmt.Errorf("pcm: data length %d is not a multiple of the %d-byte frame", len(data), frame)
	}
	return PCM{Data: data, SampleRate: sampleRate, NumChannels: numChannels}, nil
}

// Empty reports whether the clip carries no samples.
func (p PCM) Empty() bool {
	return len(p.Data) == 0
}

// NumSamples returns the per-channel sample count.
func (p PCM) NumSamples() int {
	if p.NumChannels == 0 {
		return 0
	}
	return len(p.Data) / (p.NumChannels * 2)
}

// Duration returns the play time of the clip.
func (p PCM) Duration() time.Duration {
	if p.SampleRate == 0 {
		return 0
	}
	return time.Duration(p.NumSamples()) * time.Second / time.Duration(p.SampleRate)
}

// Clone returns a deep copy.
func (p PCM) Clone() PCM {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return PCM{Data: data, SampleRate: p.SampleRate, NumChannels: p.NumChannels}
}

// Streamer adapts the clip for the speaker. Mono clips are duplicated to
// both output channels.
func (p PCM) Streamer() beep.Streamer {
	return &pcmStreamer{clip: p}
}

type pcmStreamer struct {
	clip PCM
	pos  int
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	frame := s.clip.NumChannels * 2
	total := s.clip.NumSamples()
	if s.pos >= total {
		return 0, false
	}
	n := 0
	for i := range samples {
		if s.pos >= total {
			break
		}
		off := s.pos * frame
		left := int16(binary.LittleEndian.Uint16(s.clip.Data[off:]))
		right := left
		if s.clip.NumChannels == 2 {
			right = int16(binary.LittleEndian.Uint16(s.clip.Data[off+2:]))
		}
		samples[i][0] = float64(left) / (1 << 15)
		samples[i][1] = float64(right) / (1 << 15)
		s.pos++
		n++
	}
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }
