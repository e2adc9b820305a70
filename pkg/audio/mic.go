package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// CaptureSource is an openable stream of raw 16-bit little-endian PCM from
// an input device. The returned reader blocks until samples arrive and
// reports io.EOF after Close.
type CaptureSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	SampleRate() int
}

// Microphone captures mono PCM from the default input device.
type Microphone struct {
	sampleRate int
	logger     *slog.Logger
}

// NewMicrophone returns a microphone source at the given rate.
func NewMicrophone(sampleRate int, logger *slog.Logger) *Microphone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Microphone{sampleRate: sampleRate, logger: logger}
}

func (m *Microphone) SampleRate() int { return m.sampleRate }

// Open starts the capture stream. Closing the returned reader stops the
// device and releases portaudio.
func (m *Microphone) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	in := make([]int16, 256)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(in), in)
	if err != nil {
		if paErr := portaudio.Terminate(); paErr != nil {
			m.logger.Warn("portaudio terminate", slog.String("error", paErr.Error()))
		}
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		if paErr := portaudio.Terminate(); paErr != nil {
			m.logger.Warn("portaudio terminate", slog.String("error", paErr.Error()))
		}
		return nil, fmt.Errorf("start microphone: %w", err)
	}

	pr, pw := io.Pipe()
	ms := &micStream{pr: pr, stream: stream, writerDone: make(chan struct{})}

	go func() {
		defer close(ms.writerDone)
		defer pw.Close()
		buf := make([]byte, len(in)*2)
		for {
			if ctx.Err() != nil {
				return
			}
			if err := stream.Read(); err != nil {
				m.logger.Debug("microphone read ended", slog.String("error", err.Error()))
				pw.CloseWithError(err)
				return
			}
			for i, s := range in {
				binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
			}
			if _, err := pw.Write(buf); err != nil {
				return
			}
		}
	}()

	return ms, nil
}

type micStream struct {
	pr         *io.PipeReader
	stream     *portaudio.Stream
	writerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

func (s *micStream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

func (s *micStream) Close() error {
	s.closeOnce.Do(func() {
		// Unblock the writer first, then tear the device down once the
		// writer is out of stream.Read.
		s.pr.Close()
		<-s.writerDone
		if err := s.stream.Stop(); err != nil {
			s.closeErr = err
		}
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		if err := portaudio.Terminate(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
