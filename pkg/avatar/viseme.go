package avatar

import (
	"strings"
	"time"

	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
)

// Viseme is one of the 15 Oculus lip-sync mouth shapes.
type Viseme int

const (
	VisemeSilence Viseme = iota // closed mouth
	VisemePP                    // p, b, m
	VisemeFF                    // f, v
	VisemeTH                    // th
	VisemeDD                    // t, d
	VisemeKK                    // k, g
	VisemeCH                    // ch, j, sh
	VisemeSS                    // s, z
	VisemeNN                    // n, l
	VisemeRR                    // r
	VisemeAA                    // a as in "father"
	VisemeE                     // e as in "bed"
	VisemeIH                    // i as in "sit"
	VisemeOH                    // o as in "go"
	VisemeOU                    // u as in "boot"
)

// VisemeEvent is one mouth shape keyed to an offset from utterance start.
type VisemeEvent struct {
	Viseme Viseme
	At     time.Duration
	Weight float64 // intensity 0..1
}

// VisemeTimeline is a complete lip-sync animation for one utterance.
type VisemeTimeline struct {
	Events   []VisemeEvent
	Duration time.Duration
}

// Padding around speech so the mouth opens from and returns to silence.
const (
	wordGapWeight   = 0.3
	silenceLeadOut  = 50 * time.Millisecond
	timelineTailPad = 100 * time.Millisecond
)

// TimelineFromWords builds a viseme timeline from per-word timings. Each
// word's visemes are distributed evenly across the word's duration, with a
// soft silence at every word boundary and full silence at both ends.
func TimelineFromWords(words []tts.WordBoundary) *VisemeTimeline {
	if len(words) == 0 {
		return &VisemeTimeline{
			Events: []VisemeEvent{{Viseme: VisemeSilence, At: 0, Weight: 1.0}},
		}
	}

	events := make([]VisemeEvent, 0, len(words)*4+2)
	events = append(events, VisemeEvent{Viseme: VisemeSilence, At: 0, Weight: 1.0})

	var lastEnd time.Duration
	for _, w := range words {
		if w.End() > lastEnd {
			lastEnd = w.End()
		}

		shapes := wordVisemes(w.Word)
		if len(shapes) == 0 {
			continue
		}

		step := w.Duration / time.Duration(len(shapes))
		for i, v := range shapes {
			events = append(events, VisemeEvent{
				Viseme: v,
				At:     w.Start + time.Duration(i)*step,
				Weight: 0.8,
			})
		}

		events = append(events, VisemeEvent{
			Viseme: VisemeSilence,
			At:     w.End(),
			Weight: wordGapWeight,
		})
	}

	events = append(events, VisemeEvent{
		Viseme: VisemeSilence,
		At:     lastEnd + silenceLeadOut,
		Weight: 1.0,
	})

	return &VisemeTimeline{
		Events:   events,
		Duration: lastEnd + timelineTailPad,
	}
}

// wordVisemes converts a word to its viseme sequence. Consecutive
// identical shapes collapse so the mouth does not stutter.
func wordVisemes(word string) []Viseme {
	chars := []byte(strings.ToLower(word))
	shapes := make([]Viseme, 0, len(chars))

	for i := 0; i < len(chars); i++ {
		ch := chars[i]
		if ch < 'a' || ch > 'z' {
			continue
		}

		v, isDigraph := digraphViseme(chars, i)
		if isDigraph {
			i++
		} else {
			v = letterViseme(ch)
		}

		if n := len(shapes); n > 0 && shapes[n-1] == v {
			continue
		}
		shapes = append(shapes, v)
	}
	return shapes
}

func digraphViseme(chars []byte, i int) (Viseme, bool) {
	if i+1 >= len(chars) || chars[i+1] != 'h' {
		return 0, false
	}
	switch chars[i] {
	case 't':
		return VisemeTH, true
	case 'c':
		return VisemeCH, true
	case 's':
		return VisemeCH, true
	}
	return 0, false
}

func letterViseme(ch byte) Viseme {
	switch ch {
	case 'p', 'b', 'm':
		return VisemePP
	case 'f', 'v':
		return VisemeFF
	case 't', 'd':
		return VisemeDD
	case 'k', 'g', 'c', 'q', 'x':
		return VisemeKK
	case 'j':
		return VisemeCH
	case 's', 'z':
		return VisemeSS
	case 'n', 'l':
		return VisemeNN
	case 'r':
		return VisemeRR
	case 'a':
		return VisemeAA
	case 'e':
		return VisemeE
	case 'i', 'y':
		return VisemeIH
	case 'o':
		return VisemeOH
	case 'u', 'w':
		return VisemeOU
	case 'h':
		return VisemeAA
	default:
		return VisemeSilence
	}
}
