// Package deepgram provides the streaming speech recognizer over the
// Deepgram listen websocket API.
//
// Audio from a capture source streams up as linear16 PCM frames and
// transcripts stream back as interim and final results. The service can
// end a session on its own (silence timeouts, connection recycling), so an
// End event is not proof that anyone asked for it; callers decide whether
// to reopen.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/avatar-agents-go/pkg/ai/stt"
	"github.com/chriscow/avatar-agents-go/pkg/audio"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-2"

	// stopFlushWindow bounds how long a stopped session waits for the
	// service to flush trailing results before the socket is forced down.
	stopFlushWindow = 2 * time.Second
)

// Config holds provider configuration.
type Config struct {
	// APIKey is the Deepgram API key. Required.
	APIKey string

	// Endpoint overrides the listen URL. Tests use this.
	Endpoint string

	Model            string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// STT implements stt.STT by streaming a capture source to Deepgram.
type STT struct {
	apiKey           string
	endpoint         string
	model            string
	handshakeTimeout time.Duration
	source           audio.CaptureSource
	logger           *slog.Logger
}

// New creates the provider around a capture source.
func New(source audio.CaptureSource, cfg Config) (*STT, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Deepgram API key is required (set DEEPGRAM_API_KEY or provide api_key in config)")
	}
	if source == nil {
		return nil, fmt.Errorf("capture source is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &STT{
		apiKey:           cfg.APIKey,
		endpoint:         cfg.Endpoint,
		model:            cfg.Model,
		handshakeTimeout: cfg.HandshakeTimeout,
		source:           source,
		logger:           cfg.Logger.With(slog.String("component", "deepgram-stt")),
	}, nil
}

// Start opens the capture source and the recognition stream. A capture
// source failure wraps stt.ErrPermission; a service dial failure wraps
// stt.ErrTransient.
func (d *STT) Start(ctx context.Context, cfg stt.SessionConfig) (stt.Session, error) {
	reader, err := d.source.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open capture source: %v: %w", err, stt.ErrPermission)
	}

	conn, err := d.dial(ctx, cfg)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("recognition service dial: %v: %w", err, stt.ErrTransient)
	}

	s := &session{
		conn:   conn,
		reader: reader,
		events: make(chan stt.SpeechEvent, 32),
		closed: make(chan struct{}),
		logger: d.logger,
	}
	go s.pumpAudio(d.source.SampleRate())
	go s.readResults()

	d.logger.Debug("recognition session started",
		slog.String("model", d.model),
		slog.Int("sample_rate", d.source.SampleRate()))
	return s, nil
}

func (d *STT) dial(ctx context.Context, cfg stt.SessionConfig) (*websocket.Conn, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	q := u.Query()
	q.Set("model", d.model)
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.source.SampleRate()))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	return conn, err
}

// Capabilities returns the provider's capabilities.
func (d *STT) Capabilities() stt.STTCapabilities {
	return stt.STTCapabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"en-US", "en-GB", "de", "es", "fr", "ja", "ko", "pt"},
		SampleRates:        []int{8000, 16000, 24000, 44100, 48000},
	}
}

// session is one live recognition stream.
type session struct {
	conn   *websocket.Conn
	reader io.ReadCloser
	events chan stt.SpeechEvent
	closed chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	ended    bool
	stopping atomic.Bool
	stopOnce sync.Once
}

// Events returns the event stream. The channel closes after End.
func (s *session) Events() <-chan stt.SpeechEvent { return s.events }

// Stop closes the capture source, which makes the audio pump send
// CloseStream so the service can flush trailing finals. The socket is
// forced down if the service does not finish within the flush window.
func (s *session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		s.reader.Close()
		go func() {
			timer := time.NewTimer(stopFlushWindow)
			defer timer.Stop()
			select {
			case <-s.closed:
			case <-timer.C:
			}
			s.conn.Close()
		}()
	})
	return nil
}

// pumpAudio is the connection's only writer; CloseStream must come from
// here so it never interleaves with an audio frame.
func (s *session) pumpAudio(sampleRate int) {
	// 100 ms of mono 16-bit PCM per frame
	buf := make([]byte, sampleRate/5)
	for {
		n, err := s.reader.Read(buf)
		if n > 0 {
			if werr := s.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if werr := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); werr != nil {
				s.logger.Debug("close stream message not sent", slog.String("error", werr.Error()))
			}
			return
		}
	}
}

type resultMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

func (s *session) readResults() {
	defer s.finish()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopping.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.emit(stt.SpeechEvent{
				Type:      stt.SpeechEventError,
				Err:       fmt.Errorf("recognition stream: %v: %w", err, stt.ErrTransient),
				Timestamp: time.Now(),
			})
			return
		}

		var msg resultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("unparseable recognition message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			text := msg.Channel.Alternatives[0].Transcript
			if text == "" {
				continue
			}
			eventType := stt.SpeechEventInterim
			if msg.IsFinal || msg.SpeechFinal {
				eventType = stt.SpeechEventFinal
			}
			s.emit(stt.SpeechEvent{Type: eventType, Text: text, Timestamp: time.Now()})

		case "Metadata", "UtteranceEnd":
			// informational

		case "Error":
			s.emit(stt.SpeechEvent{
				Type:      stt.SpeechEventError,
				Err:       fmt.Errorf("recognition service error: %s: %w", msg.Description, stt.ErrTransient),
				Timestamp: time.Now(),
			})
		}
	}
}

func (s *session) emit(ev stt.SpeechEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event channel full, dropping", slog.String("type", ev.Type.String()))
	}
}

func (s *session) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	select {
	case s.events <- stt.SpeechEvent{Type: stt.SpeechEventEnd, Timestamp: time.Now()}:
	default:
	}
	close(s.events)
	close(s.closed)
}
