// Package azure provides the speech synthesis provider for the Azure
// Cognitive Services Speech service over its websocket v1 protocol.
//
// One synthesis turn sends speech.config, synthesis.context (word
// boundaries enabled) and an ssml message, then collects turn.start,
// audio.metadata and binary audio frames until turn.end. Word boundary
// offsets arrive in 100 nanosecond ticks.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
	"github.com/chriscow/avatar-agents-go/pkg/audio/wav"
)

// DefaultVoice is used when neither the request nor the config names one.
const DefaultVoice = "en-US-AvaNeural"

// outputFormat is fixed: the RIFF container lets wav.Decode recover the
// sample rate, and 24 kHz mono matches the renderer and device path.
const outputFormat = "riff-24khz-16bit-mono-pcm"

// Config holds provider configuration.
type Config struct {
	// Key is the Speech resource subscription key. Required.
	Key string

	// Region names the Azure region, e.g. eastus. Required unless
	// Endpoint is set.
	Region string

	// Endpoint overrides the full websocket URL. Tests and sovereign
	// clouds use this.
	Endpoint string

	Voice            string
	Language         string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// TTS implements tts.TTS against the Speech service.
type TTS struct {
	endpoint         string
	key              string
	voice            string
	language         string
	handshakeTimeout time.Duration
	logger           *slog.Logger
}

// New creates the provider.
func New(cfg Config) (*TTS, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("speech subscription key is required (set AZURE_SPEECH_KEY or provide key in config)")
	}
	if cfg.Endpoint == "" {
		if cfg.Region == "" {
			return nil, fmt.Errorf("speech region or endpoint is required")
		}
		cfg.Endpoint = fmt.Sprintf("wss://%s.tts.speech.microsoft.com/cognitiveservices/websocket/v1", cfg.Region)
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &TTS{
		endpoint:         cfg.Endpoint,
		key:              cfg.Key,
		voice:            cfg.Voice,
		language:         cfg.Language,
		handshakeTimeout: cfg.HandshakeTimeout,
		logger:           cfg.Logger.With(slog.String("component", "azure-tts")),
	}, nil
}

// Synthesize converts text into a complete utterance with word timings.
// Failures wrap tts.ErrSynthesis.
func (t *TTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (*tts.Utterance, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("empty text: %w", tts.ErrSynthesis)
	}

	requestID := newRequestID()
	conn, err := t.dial(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("speech service dial: %v: %w", err, tts.ErrSynthesis)
	}
	defer conn.Close()

	// Reads below block without a context; closing the connection is the
	// only way to unblock them on cancellation.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	start := time.Now()
	if err := t.sendRequest(conn, requestID, req); err != nil {
		return nil, fmt.Errorf("speech service send: %v: %w", err, tts.ErrSynthesis)
	}

	audioBytes, words, err := t.collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	if len(audioBytes) == 0 {
		return nil, fmt.Errorf("speech service returned no audio: %w", tts.ErrSynthesis)
	}

	clip, err := wav.Decode(bytes.NewReader(audioBytes))
	if err != nil {
		return nil, fmt.Errorf("decode synthesized audio: %v: %w", err, tts.ErrSynthesis)
	}

	t.logger.Debug("synthesis complete",
		slog.String("request_id", requestID),
		slog.Duration("audio", clip.Duration()),
		slog.Int("words", len(words)),
		slog.Duration("elapsed", time.Since(start)))

	return &tts.Utterance{Text: req.Text, Audio: clip, Words: words}, nil
}

func (t *TTS) dial(ctx context.Context, requestID string) (*websocket.Conn, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("X-ConnectionId", requestID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: t.handshakeTimeout}
	header := http.Header{}
	header.Set("Ocp-Apim-Subscription-Key", t.key)

	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	return conn, err
}

func (t *TTS) sendRequest(conn *websocket.Conn, requestID string, req tts.SynthesizeRequest) error {
	speechConfig, err := json.Marshal(map[string]any{
		"context": map[string]any{
			"system": map[string]any{"name": "avatar-agents-go"},
		},
	})
	if err != nil {
		return err
	}
	synthesisContext, err := json.Marshal(map[string]any{
		"synthesis": map[string]any{
			"audio": map[string]any{
				"metadataOptions": map[string]any{
					"sentenceBoundaryEnabled": false,
					"wordBoundaryEnabled":     true,
				},
				"outputFormat": outputFormat,
			},
		},
	})
	if err != nil {
		return err
	}

	messages := [...]struct {
		path        string
		contentType string
		body        []byte
	}{
		{pathSpeechConfig, "application/json; charset=utf-8", speechConfig},
		{pathSynthesisContext, "application/json; charset=utf-8", synthesisContext},
		{pathSSML, "application/ssml+xml", t.buildSSML(req)},
	}
	for _, m := range messages {
		frame := encodeTextMessage(m.path, requestID, m.contentType, m.body)
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("write %s: %w", m.path, err)
		}
	}
	return nil
}

// collect reads service frames until turn.end, accumulating audio bytes
// and word boundaries.
func (t *TTS) collect(ctx context.Context, conn *websocket.Conn) ([]byte, []tts.WordBoundary, error) {
	var audioBytes []byte
	var words []tts.WordBoundary

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("speech service read: %v: %w", err, tts.ErrSynthesis)
		}

		switch msgType {
		case websocket.TextMessage:
			msg, err := decodeTextMessage(data)
			if err != nil {
				return nil, nil, fmt.Errorf("%v: %w", err, tts.ErrSynthesis)
			}
			switch msg.Path {
			case pathTurnStart, pathResponse:
				// informational
			case pathAudioMetadata:
				boundaries, err := parseWordBoundaries(msg.Body)
				if err != nil {
					return nil, nil, fmt.Errorf("parse audio.metadata: %v: %w", err, tts.ErrSynthesis)
				}
				words = append(words, boundaries...)
			case pathTurnEnd:
				return audioBytes, words, nil
			default:
				t.logger.Debug("ignoring service message", slog.String("path", msg.Path))
			}

		case websocket.BinaryMessage:
			msg, err := decodeBinaryMessage(data)
			if err != nil {
				return nil, nil, fmt.Errorf("%v: %w", err, tts.ErrSynthesis)
			}
			if msg.Path == pathAudio {
				audioBytes = append(audioBytes, msg.Body...)
			}
		}
	}
}

// ticksToDuration converts the service's 100 ns ticks. For integer tick
// counts, Milliseconds() equals ticks/10000 exactly.
func ticksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * 100
}

func parseWordBoundaries(body []byte) ([]tts.WordBoundary, error) {
	var payload struct {
		Metadata []struct {
			Type string `json:"Type"`
			Data struct {
				Offset   int64 `json:"Offset"`
				Duration int64 `json:"Duration"`
				Text     struct {
					Text string `json:"Text"`
				} `json:"text"`
			} `json:"Data"`
		} `json:"Metadata"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	var words []tts.WordBoundary
	for _, m := range payload.Metadata {
		if m.Type != "WordBoundary" {
			continue
		}
		words = append(words, tts.WordBoundary{
			Word:     m.Data.Text.Text,
			Start:    ticksToDuration(m.Data.Offset),
			Duration: ticksToDuration(m.Data.Duration),
		})
	}
	return words, nil
}

func (t *TTS) buildSSML(req tts.SynthesizeRequest) []byte {
	voice := req.Voice
	if voice == "" {
		voice = t.voice
	}
	lang := req.Language
	if lang == "" {
		lang = t.language
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="%s">`, lang)
	fmt.Fprintf(&b, `<voice name="%s">`, voice)

	prosody := prosodyAttrs(req.Speed, req.Pitch)
	if prosody != "" {
		fmt.Fprintf(&b, `<prosody%s>`, prosody)
	}
	xml.EscapeText(&b, []byte(req.Text))
	if prosody != "" {
		b.WriteString(`</prosody>`)
	}

	b.WriteString(`</voice></speak>`)
	return b.Bytes()
}

// prosodyAttrs renders rate and pitch as signed percentages relative to
// the neutral 1.0. Zero means unset.
func prosodyAttrs(speed, pitch float32) string {
	var sb strings.Builder
	if speed != 0 && speed != 1 {
		fmt.Fprintf(&sb, ` rate="%+.0f%%"`, (speed-1)*100)
	}
	if pitch != 0 && pitch != 1 {
		fmt.Fprintf(&sb, ` pitch="%+.0f%%"`, (pitch-1)*100)
	}
	return sb.String()
}

// Capabilities returns the provider's capabilities.
func (t *TTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		SupportsSSML:           true,
		SupportsWordBoundaries: true,
		SampleRates:            []int{24000},
		SupportedLanguages:     []string{"en-US", "en-GB", "de-DE", "es-ES", "fr-FR", "ja-JP"},
	}
}
