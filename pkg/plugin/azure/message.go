package azure

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Wire framing for the Speech service websocket protocol. Text frames
// carry MIME-style headers, a blank line, then the body. Binary frames
// carry a 2-byte big-endian header length, the headers, then raw audio.

const (
	headerPath        = "Path"
	headerRequestID   = "X-RequestId"
	headerTimestamp   = "X-Timestamp"
	headerContentType = "Content-Type"
)

// Client to service paths.
const (
	pathSpeechConfig     = "speech.config"
	pathSynthesisContext = "synthesis.context"
	pathSSML             = "ssml"
)

// Service to client paths.
const (
	pathTurnStart     = "turn.start"
	pathTurnEnd       = "turn.end"
	pathResponse      = "response"
	pathAudio         = "audio"
	pathAudioMetadata = "audio.metadata"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// serviceMessage is one parsed frame from the service.
type serviceMessage struct {
	Path string
	Body []byte
}

func encodeTextMessage(path, requestID, contentType string, body []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s:%s\r\n", headerPath, path)
	fmt.Fprintf(&b, "%s:%s\r\n", headerRequestID, requestID)
	fmt.Fprintf(&b, "%s:%s\r\n", headerTimestamp, time.Now().UTC().Format(timestampLayout))
	fmt.Fprintf(&b, "%s:%s\r\n\r\n", headerContentType, contentType)
	b.Write(body)
	return b.Bytes()
}

func decodeTextMessage(data []byte) (serviceMessage, error) {
	head, body, found := bytes.Cut(data, []byte("\r\n\r\n"))
	if !found {
		return serviceMessage{}, fmt.Errorf("text frame missing header terminator")
	}
	path := headerValue(head, headerPath)
	if path == "" {
		return serviceMessage{}, fmt.Errorf("text frame missing %s header", headerPath)
	}
	return serviceMessage{Path: path, Body: body}, nil
}

func decodeBinaryMessage(data []byte) (serviceMessage, error) {
	if len(data) < 2 {
		return serviceMessage{}, fmt.Errorf("binary frame too short (%d bytes)", len(data))
	}
	headerLen := int(binary.BigEndian.Uint16(data))
	if 2+headerLen > len(data) {
		return serviceMessage{}, fmt.Errorf("binary frame header length %d exceeds frame", headerLen)
	}
	path := headerValue(data[2:2+headerLen], headerPath)
	if path == "" {
		return serviceMessage{}, fmt.Errorf("binary frame missing %s header", headerPath)
	}
	return serviceMessage{Path: path, Body: data[2+headerLen:]}, nil
}

func headerValue(head []byte, name string) string {
	for _, line := range bytes.Split(head, []byte("\r\n")) {
		key, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(key)), name) {
			return strings.TrimSpace(string(value))
		}
	}
	return ""
}

// newRequestID returns a 32-character hex id, the no-dash GUID format the
// service expects in X-RequestId and X-ConnectionId.
func newRequestID() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
