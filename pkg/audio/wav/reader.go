package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/chriscow/avatar-agents-go/pkg/audio"
)

// Decode reads a complete WAV stream and returns its samples as a PCM clip.
// Only 16-bit PCM in mono or stereo is supported; unknown chunks are
// skipped.
func Decode(r io.Reader) (audio.PCM, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return audio.PCM{}, fmt.Errorf("wav: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return audio.PCM{}, fmt.Errorf("wav: not a RIFF/WAVE stream")
	}

	var (
		sampleRate  int
		numChannels int
		haveFmt     bool
	)

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return audio.PCM{}, fmt.Errorf("wav: no data chunk")
			}
			return audio.PCM{}, fmt.Errorf("wav: read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return audio.PCM{}, fmt.Errorf("wav: fmt chunk too small: %d bytes", size)
			}
			var f [16]byte
			if _, err := io.ReadFull(r, f[:]); err != nil {
				return audio.PCM{}, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			if format := binary.LittleEndian.Uint16(f[0:2]); format != 1 {
				return audio.PCM{}, fmt.Errorf("wav: only PCM is supported, got format %d", format)
			}
			numChannels = int(binary.LittleEndian.Uint16(f[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			if bits := binary.LittleEndian.Uint16(f[14:16]); bits != 16 {
				return audio.PCM{}, fmt.Errorf("wav: only 16-bit samples are supported, got %d-bit", bits)
			}
			haveFmt = true
			if err := skip(r, int64(size)-16+pad(size)); err != nil {
				return audio.PCM{}, err
			}
		case "data":
			if !haveFmt {
				return audio.PCM{}, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			data := make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return audio.PCM{}, fmt.Errorf("wav: read samples: %w", err)
			}
			return audio.NewPCM(data, sampleRate, numChannels)
		default:
			if err := skip(r, int64(size)+pad(size)); err != nil {
				return audio.PCM{}, err
			}
		}
	}
}

// ReadFile decodes a WAV file into a PCM clip.
func ReadFile(filename string) (audio.PCM, error) {
	f, err := os.Open(filename)
	if err != nil {
		return audio.PCM{}, fmt.Errorf("wav: open %s: %w", filename, err)
	}
	defer f.Close()
	return Decode(f)
}

// Chunks are word aligned; odd sizes carry one pad byte.
func pad(size uint32) int64 {
	return int64(size % 2)
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("wav: skip chunk: %w", err)
	}
	return nil
}
