// Package wav encodes and decodes 16-bit PCM RIFF files, the container the
// speech service returns and the format the say/play commands exchange.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/chriscow/avatar-agents-go/pkg/audio"
)

const headerSize = 44

// Encode writes clip to w as a complete WAV file. The clip size is known
// upfront, so the header is final on the first pass.
func Encode(w io.Writer, clip audio.PCM) error {
	if clip.SampleRate <= 0 || clip.NumChannels <= 0 {
		return fmt.Errorf("wav: invalid clip format %dHz/%dch", clip.SampleRate, clip.NumChannels)
	}

	dataSize := uint32(len(clip.Data))
	byteRate := uint32(clip.SampleRate * clip.NumChannels * 2)
	blockAlign := uint16(clip.NumChannels * 2)

	header := make([]byte, headerSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(clip.NumChannels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(clip.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], 16) // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	if _, err := w.Write(clip.Data); err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}
	return nil
}

// WriteFile encodes clip to a file.
func WriteFile(filename string, clip audio.PCM) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("wav: create %s: %w", filename, err)
	}
	if err := Encode(f, clip); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
