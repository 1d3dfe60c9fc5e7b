package summarizer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/vocalnews/assistant/internal/textclean"
)

type Unit int

const (
	UnitChars Unit = iota
	UnitWords
)

type Scoring int

const (
	ScoreSum Scoring = iota
	ScoreMean
)

// Limit bounds the summary length. A zero Max means unbounded.
type Limit struct {
	Max  int
	Unit Unit
}

const DefaultMaxSentences = 5

var (
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)
	wordPattern     = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

type Summarizer struct {
	stopwords map[string]struct{}
	scoring   Scoring
}

type Option func(*Summarizer)

func WithScoring(scoring Scoring) Option {
	return func(s *Summarizer) {
		s.scoring = scoring
	}
}

func WithStopwords(stopwords map[string]struct{}) Option {
	return func(s *Summarizer) {
		s.stopwords = stopwords
	}
}

func New(opts ...Option) *Summarizer {
	s := &Summarizer{stopwords: textclean.EnglishStopwords(), scoring: ScoreSum}
	for _, opt := range opts {
		opt(s)
	}
	if s.stopwords == nil {
		s.stopwords = map[string]struct{}{}
	}
	return s
}

type rankedSentence struct {
	index int
	text  string
	score float64
}

// Summarize picks the maxSentences highest scoring sentences of text and
// returns them in source order. Equal scores keep source order, so the output
// is fully determined by the input.
func (s *Summarizer) Summarize(text string, maxSentences int, limit Limit) string {
	normalized := normalize(text)
	if normalized == "" {
		return ""
	}
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	sentences := SplitSentences(normalized)
	if len(sentences) <= maxSentences {
		return normalized
	}

	frequencies := s.frequencies(normalized)
	ranked := make([]rankedSentence, len(sentences))
	for i, sentence := range sentences {
		ranked[i] = rankedSentence{index: i, text: sentence, score: s.score(sentence, frequencies)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	selected := append([]rankedSentence{}, ranked[:maxSentences]...)

	summary := joinInSourceOrder(selected)
	if limit.Max > 0 {
		for len(selected) > 0 && measure(summary, limit.Unit) > limit.Max {
			selected = selected[:len(selected)-1]
			summary = joinInSourceOrder(selected)
		}
	}
	return summary
}

// SplitSentences splits on '.', '!' and '?' boundaries, keeping the
// terminators. Fragments without any letter or digit are dropped.
func SplitSentences(text string) []string {
	matches := sentencePattern.FindAllString(normalize(text), -1)
	sentences := make([]string, 0, len(matches))
	for _, match := range matches {
		sentence := strings.TrimSpace(match)
		if sentence == "" || !wordPattern.MatchString(sentence) {
			continue
		}
		sentences = append(sentences, sentence)
	}
	return sentences
}

func Words(text string) []string {
	words := wordPattern.FindAllString(text, -1)
	for i, word := range words {
		words[i] = strings.ToLower(word)
	}
	return words
}

func (s *Summarizer) contentWords(text string) []string {
	words := Words(text)
	kept := words[:0]
	for _, word := range words {
		if _, stop := s.stopwords[word]; stop {
			continue
		}
		kept = append(kept, word)
	}
	return kept
}

func (s *Summarizer) frequencies(text string) map[string]int {
	frequencies := map[string]int{}
	for _, word := range s.contentWords(text) {
		frequencies[word]++
	}
	return frequencies
}

func (s *Summarizer) score(sentence string, frequencies map[string]int) float64 {
	words := s.contentWords(sentence)
	if len(words) == 0 {
		return 0
	}
	total := 0
	for _, word := range words {
		total += frequencies[word]
	}
	if s.scoring == ScoreMean {
		return float64(total) / float64(len(words))
	}
	return float64(total)
}

func joinInSourceOrder(selected []rankedSentence) string {
	ordered := append([]rankedSentence{}, selected...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].index < ordered[j].index
	})
	parts := make([]string, len(ordered))
	for i, sentence := range ordered {
		parts[i] = sentence.text
	}
	return strings.Join(parts, " ")
}

func measure(text string, unit Unit) int {
	if unit == UnitWords {
		return len(strings.Fields(text))
	}
	return len([]rune(text))
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
