package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestNewPCMValidation(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		rate     int
		channels int
		wantErr  bool
	}{
		{"valid mono", make([]byte, 480), 24000, 1, false},
		{"valid stereo", make([]byte, 480), 48000, 2, false},
		{"zero rate", make([]byte, 480), 0, 1, true},
		{"three channels", make([]byte, 480), 24000, 3, true},
		{"odd mono length", make([]byte, 481), 24000, 1, true},
		{"stereo length not frame aligned", make([]byte, 482), 24000, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPCM(tt.data, tt.rate, tt.channels)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPCM err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPCMDuration(t *testing.T) {
	clip, err := NewPCM(make([]byte, 24000*2), 24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := clip.Duration(); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
	if got := clip.NumSamples(); got != 24000 {
		t.Errorf("NumSamples = %d, want 24000", got)
	}
}

func TestPCMStreamerMonoDuplication(t *testing.T) {
	data := make([]byte, 4)
	pos, neg := int16(16384), int16(-16384)
	binary.LittleEndian.PutUint16(data[0:], uint16(pos))
	binary.LittleEndian.PutUint16(data[2:], uint16(neg))
	clip, err := NewPCM(data, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}

	s := clip.Streamer()
	buf := make([][2]float64, 8)
	n, ok := s.Stream(buf)
	if !ok || n != 2 {
		t.Fatalf("Stream = (%d, %v), want (2, true)", n, ok)
	}
	if buf[0][0] != 0.5 || buf[0][1] != 0.5 {
		t.Errorf("sample 0 = %v, want 0.5 in both channels", buf[0])
	}
	if buf[1][0] != -0.5 || buf[1][1] != -0.5 {
		t.Errorf("sample 1 = %v, want -0.5 in both channels", buf[1])
	}

	if _, ok := s.Stream(buf); ok {
		t.Error("streamer did not report exhaustion")
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v", err)
	}
}

func TestPCMCloneIsDeep(t *testing.T) {
	clip, err := NewPCM([]byte{1, 2, 3, 4}, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	dup := clip.Clone()
	dup.Data[0] = 99
	if clip.Data[0] != 1 {
		t.Error("Clone shares backing data")
	}
}
