// Package emotion derives a renderer mood from reply text. Scoring is
// deliberately shallow: keyword hits per sentence plus light punctuation
// cues. The mood only nudges the avatar's expression between utterances,
// so a wrong guess costs nothing.
package emotion

import (
	"fmt"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"

	"github.com/chriscow/avatar-agents-go/pkg/avatar"
)

// Cue is the mood detected for one sentence of a reply.
type Cue struct {
	Sentence string
	Mood     avatar.Mood
}

// moodOrder breaks score ties deterministically.
var moodOrder = []avatar.Mood{
	avatar.MoodHappy,
	avatar.MoodSurprised,
	avatar.MoodSad,
	avatar.MoodAngry,
	avatar.MoodThinking,
}

// Classifier scores reply text into renderer moods.
type Classifier struct {
	tokenizer *sentences.DefaultSentenceTokenizer
	lexicon   map[avatar.Mood][]string
}

// NewClassifier builds a classifier with the built-in lexicon.
func NewClassifier() (*Classifier, error) {
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("emotion: sentence tokenizer: %w", err)
	}
	return &Classifier{tokenizer: tok, lexicon: defaultLexicon()}, nil
}

// Lexicon entries are matched as substrings of the lowercased sentence, so
// stems cover their inflections ("apolog" hits apology and apologize).
func defaultLexicon() map[avatar.Mood][]string {
	return map[avatar.Mood][]string{
		avatar.MoodHappy: {
			"great", "wonderful", "glad", "happy", "excellent", "love",
			"delight", "fantastic", "awesome", "congratulations", "perfect",
		},
		avatar.MoodSad: {
			"sorry", "sad", "unfortunately", "regret", "afraid", "apolog",
			"bad news", "miss you",
		},
		avatar.MoodAngry: {
			"unacceptable", "angry", "furious", "outrage", "frustrat",
		},
		avatar.MoodSurprised: {
			"wow", "amazing", "incredible", "surprised", "unbelievable",
			"astonish", "remarkable",
		},
		avatar.MoodThinking: {
			"hmm", "let me think", "consider", "perhaps", "maybe",
			"wonder", "possibly", "depends",
		},
	}
}

// Classify returns the dominant mood of text and the per-sentence cues.
// Text with no scored sentence is MoodNeutral.
func (c *Classifier) Classify(text string) (avatar.Mood, []Cue) {
	text = strings.TrimSpace(text)
	if text == "" {
		return avatar.MoodNeutral, nil
	}

	totals := make(map[avatar.Mood]int)
	var cues []Cue
	for _, s := range c.tokenizer.Tokenize(text) {
		sentence := strings.TrimSpace(s.Text)
		if sentence == "" {
			continue
		}
		mood, score := c.scoreSentence(sentence)
		cues = append(cues, Cue{Sentence: sentence, Mood: mood})
		if mood != avatar.MoodNeutral {
			totals[mood] += score
		}
	}

	dominant := avatar.MoodNeutral
	best := 0
	for _, mood := range moodOrder {
		if totals[mood] > best {
			dominant = mood
			best = totals[mood]
		}
	}
	return dominant, cues
}

func (c *Classifier) scoreSentence(sentence string) (avatar.Mood, int) {
	lower := strings.ToLower(sentence)

	mood := avatar.MoodNeutral
	best := 0
	for _, candidate := range moodOrder {
		score := 0
		for _, kw := range c.lexicon[candidate] {
			score += strings.Count(lower, kw)
		}
		if score > best {
			mood = candidate
			best = score
		}
	}

	// An exclamation intensifies whatever the words already say; a trailing
	// question on an unscored sentence reads as pondering.
	if best > 0 && strings.Contains(sentence, "!") {
		best++
	}
	if best == 0 && strings.HasSuffix(sentence, "?") {
		return avatar.MoodThinking, 1
	}
	return mood, best
}
