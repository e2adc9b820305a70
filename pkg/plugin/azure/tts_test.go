package azure

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
	"github.com/chriscow/avatar-agents-go/pkg/audio"
	"github.com/chriscow/avatar-agents-go/pkg/audio/wav"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func serverTextFrame(path, body string) []byte {
	return []byte("X-RequestId:testreq\r\nPath:" + path + "\r\nContent-Type:application/json\r\n\r\n" + body)
}

func serverBinaryFrame(path string, payload []byte) []byte {
	head := "X-RequestId:testreq\r\nPath:" + path + "\r\nContent-Type:audio/x-wav\r\n"
	frame := make([]byte, 2+len(head)+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(len(head)))
	copy(frame[2:], head)
	copy(frame[2+len(head):], payload)
	return frame
}

// testClip builds a deterministic mono clip and its RIFF encoding.
func testClip(t *testing.T, samples int) (audio.PCM, []byte) {
	t.Helper()
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(i*50)))
	}
	clip, err := audio.NewPCM(data, 24000, 1)
	if err != nil {
		t.Fatalf("building clip: %v", err)
	}
	var buf bytes.Buffer
	if err := wav.Encode(&buf, clip); err != nil {
		t.Fatalf("encoding clip: %v", err)
	}
	return clip, buf.Bytes()
}

const boundaryMetadata = `{"Metadata":[
  {"Type":"WordBoundary","Data":{"Offset":500000,"Duration":3000000,"text":{"Text":"Hello","Length":5,"BoundaryType":"WordBoundary"}}},
  {"Type":"SentenceBoundary","Data":{"Offset":0,"Duration":9000000,"text":{"Text":"Hello world"}}},
  {"Type":"WordBoundary","Data":{"Offset":4000000,"Duration":2500000,"text":{"Text":"world","Length":5,"BoundaryType":"WordBoundary"}}}
]}`

// speechServer fakes one synthesis turn. Received SSML bodies arrive on
// the returned channel.
func speechServer(t *testing.T, audioFrames [][]byte, metadata string) (*httptest.Server, <-chan string) {
	t.Helper()
	ssmlCh := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Ocp-Apim-Subscription-Key"); got != "test-key" {
			t.Errorf("subscription key header = %q", got)
		}
		if r.URL.Query().Get("X-ConnectionId") == "" {
			t.Error("missing X-ConnectionId query parameter")
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		wantPaths := []string{pathSpeechConfig, pathSynthesisContext, pathSSML}
		for _, want := range wantPaths {
			_, data, err := conn.ReadMessage()
			if err != nil {
				t.Errorf("reading client %s: %v", want, err)
				return
			}
			msg, err := decodeTextMessage(data)
			if err != nil {
				t.Errorf("decoding client frame: %v", err)
				return
			}
			if msg.Path != want {
				t.Errorf("client path = %q, want %q", msg.Path, want)
			}
			if msg.Path == pathSSML {
				ssmlCh <- string(msg.Body)
			}
		}

		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnStart, `{}`))
		if metadata != "" {
			conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathAudioMetadata, metadata))
		}
		for _, frame := range audioFrames {
			conn.WriteMessage(websocket.BinaryMessage, serverBinaryFrame(pathAudio, frame))
		}
		conn.WriteMessage(websocket.TextMessage, serverTextFrame(pathTurnEnd, `{}`))
	}))

	return srv, ssmlCh
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSynthesize_RoundTrip(t *testing.T) {
	is := is.New(t)

	clip, wavBytes := testClip(t, 200)

	// audio split across two binary frames, boundary inside the data chunk
	srv, ssmlCh := speechServer(t, [][]byte{wavBytes[:100], wavBytes[100:]}, boundaryMetadata)
	defer srv.Close()

	p, err := New(Config{Key: "test-key", Endpoint: wsURL(srv)})
	is.NoErr(err)

	u, err := p.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "Hello world"})
	is.NoErr(err)

	is.Equal(u.Text, "Hello world")
	is.Equal(u.Audio.SampleRate, 24000)
	is.Equal(u.Audio.NumChannels, 1)
	is.Equal(u.Audio.NumSamples(), clip.NumSamples())
	is.Equal(string(u.Audio.Data), string(clip.Data))

	is.Equal(len(u.Words), 2) // SentenceBoundary entries are skipped
	is.Equal(u.Words[0].Word, "Hello")
	is.Equal(u.Words[0].Start, 50*time.Millisecond)
	is.Equal(u.Words[0].Duration, 300*time.Millisecond)
	is.Equal(u.Words[1].Word, "world")
	is.Equal(u.Words[1].Start, 400*time.Millisecond)
	is.Equal(u.Words[1].Duration, 250*time.Millisecond)

	ssml := <-ssmlCh
	is.True(strings.Contains(ssml, `<voice name="en-US-AvaNeural">`))
	is.True(strings.Contains(ssml, "Hello world"))
}

func TestSynthesize_NoAudio(t *testing.T) {
	is := is.New(t)

	srv, _ := speechServer(t, nil, "")
	defer srv.Close()

	p, err := New(Config{Key: "test-key", Endpoint: wsURL(srv)})
	is.NoErr(err)

	_, err = p.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "anything"})
	is.True(errors.Is(err, tts.ErrSynthesis))
}

func TestSynthesize_EmptyText(t *testing.T) {
	is := is.New(t)

	p, err := New(Config{Key: "test-key", Region: "eastus"})
	is.NoErr(err)

	_, err = p.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "   "})
	is.True(errors.Is(err, tts.ErrSynthesis))
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	is := is.New(t)

	// server that never answers
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, err := New(Config{Key: "test-key", Endpoint: wsURL(srv)})
	is.NoErr(err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Synthesize(ctx, tts.SynthesizeRequest{Text: "hello"})
	is.True(errors.Is(err, context.DeadlineExceeded))
	is.True(time.Since(start) < 5*time.Second) // cancellation must unblock the read
}

func TestSynthesize_CorruptAudio(t *testing.T) {
	is := is.New(t)

	srv, _ := speechServer(t, [][]byte{[]byte("not a riff container")}, "")
	defer srv.Close()

	p, err := New(Config{Key: "test-key", Endpoint: wsURL(srv)})
	is.NoErr(err)

	_, err = p.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "hello"})
	is.True(errors.Is(err, tts.ErrSynthesis))
}

func TestTicksToDuration(t *testing.T) {
	tests := []struct {
		ticks  int64
		want   time.Duration
		wantMS int64
	}{
		{10000, time.Millisecond, 1},
		{500000, 50 * time.Millisecond, 50},
		{5000000, 500 * time.Millisecond, 500},
		{9999, 999900 * time.Nanosecond, 0}, // truncates, matching integer division
		{123456789, 12345678900 * time.Nanosecond, 12345},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.ticks), func(t *testing.T) {
			is := is.New(t)
			d := ticksToDuration(tt.ticks)
			is.Equal(d, tt.want)
			is.Equal(d.Milliseconds(), tt.wantMS)
			is.Equal(d.Milliseconds(), tt.ticks/10000) // exact for integer ticks
		})
	}
}

func TestBuildSSML(t *testing.T) {
	is := is.New(t)

	p, err := New(Config{Key: "k", Region: "eastus"})
	is.NoErr(err)

	ssml := string(p.buildSSML(tts.SynthesizeRequest{Text: "a <b> & c"}))
	is.True(strings.Contains(ssml, `xml:lang="en-US"`))
	is.True(strings.Contains(ssml, `<voice name="en-US-AvaNeural">`))
	is.True(strings.Contains(ssml, "a &lt;b&gt; &amp; c")) // markup must not leak into SSML
	is.True(!strings.Contains(ssml, "<prosody"))

	ssml = string(p.buildSSML(tts.SynthesizeRequest{
		Text:  "hi",
		Voice: "en-GB-SoniaNeural",
		Speed: 1.2,
		Pitch: 0.9,
	}))
	is.True(strings.Contains(ssml, `<voice name="en-GB-SoniaNeural">`))
	is.True(strings.Contains(ssml, `rate="+20%"`))
	is.True(strings.Contains(ssml, `pitch="-10%"`))
	is.True(strings.Contains(ssml, "</prosody>"))
}

func TestNew_Validation(t *testing.T) {
	is := is.New(t)

	_, err := New(Config{})
	is.True(err != nil) // key required

	_, err = New(Config{Key: "k"})
	is.True(err != nil) // region or endpoint required

	p, err := New(Config{Key: "k", Region: "westus2"})
	is.NoErr(err)
	is.True(strings.Contains(p.endpoint, "westus2.tts.speech.microsoft.com"))
}
