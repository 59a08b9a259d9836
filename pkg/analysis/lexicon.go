package analysis

import (
	"regexp"
	"strings"
)

// Lexicon classifies a turn's text. Injected so a caller can supply a
// domain-specific word list without touching the analyser itself.
type Lexicon interface {
	Predict(text string) SentimentResult
}

// SentimentResult is one classification outcome.
type SentimentResult struct {
	Label           string
	Score           float64
	PositiveMatches int
	NegativeMatches int
}

var wordPattern = regexp.MustCompile(`[\w']+`)

// wordLexicon classifies by counting membership in fixed positive/negative
// word sets.
type wordLexicon struct {
	positive map[string]bool
	negative map[string]bool
}

// DefaultLexicon returns the built-in positive/negative word lexicon.
func DefaultLexicon() Lexicon {
	return &wordLexicon{positive: toSet(defaultPositiveWords), negative: toSet(defaultNegativeWords)}
}

// NewLexicon builds a Lexicon from custom word lists, lower-cased.
func NewLexicon(positive, negative []string) Lexicon {
	return &wordLexicon{positive: toSet(positive), negative: toSet(negative)}
}

func toSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[strings.ToLower(w)] = true
	}
	return out
}

var defaultPositiveWords = []string{
	"good", "great", "excellent", "amazing", "awesome", "love", "like", "happy",
}

var defaultNegativeWords = []string{
	"bad", "terrible", "awful", "hate", "dislike", "sad", "angry", "upset", "sorry",
}

// Predict tokenises text with [\w']+, lower-cases each token, and labels by
// positive/negative match count: POSITIVE if positives win, NEGATIVE if
// negatives win, NEUTRAL on a tie (including 0-0). Score is
// (pos-neg)/max(tokens,1).
func (l *wordLexicon) Predict(text string) SentimentResult {
	tokens := wordPattern.FindAllString(text, -1)

	pos, neg := 0, 0
	for _, tok := range tokens {
		lower := strings.ToLower(tok)
		if l.positive[lower] {
			pos++
		}
		if l.negative[lower] {
			neg++
		}
	}

	label := "NEUTRAL"
	switch {
	case pos > neg:
		label = "POSITIVE"
	case neg > pos:
		label = "NEGATIVE"
	}

	total := len(tokens)
	if total == 0 {
		total = 1
	}
	score := float64(pos-neg) / float64(total)

	return SentimentResult{Label: label, Score: score, PositiveMatches: pos, NegativeMatches: neg}
}
