package textclean

import (
	"fmt"
	"regexp"
	"strings"
)

type Cleaner interface {
	Clean(raw string) string
}

var (
	tagPattern         = regexp.MustCompile(`(?s)<.*?>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
	disallowedPattern  = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:\-'"()]`)
	punctuationPattern = regexp.MustCompile(`[.,!?;:]{2,}`)
)

// Regex is the canonical cleaner. Output contains only letters, digits,
// underscores, single spaces and the punctuation allow-list, and cleaning an
// already cleaned string returns it unchanged.
type Regex struct{}

func (Regex) Clean(raw string) string {
	text := tagPattern.ReplaceAllString(raw, "")
	text = collapseSpaces(text)
	text = disallowedPattern.ReplaceAllString(text, " ")
	text = punctuationPattern.ReplaceAllString(text, ".")
	return collapseSpaces(text)
}

func collapseSpaces(text string) string {
	return whitespacePattern.ReplaceAllString(strings.TrimSpace(text), " ")
}

// Stopword runs the regex cleaner and then drops common English function
// words, leaving the content-bearing tokens.
type Stopword struct {
	Words map[string]struct{}
}

func NewStopword() Stopword {
	return Stopword{Words: EnglishStopwords()}
}

func (s Stopword) Clean(raw string) string {
	cleaned := Regex{}.Clean(raw)
	if cleaned == "" {
		return ""
	}
	words := s.Words
	if words == nil {
		words = EnglishStopwords()
	}
	kept := make([]string, 0, 32)
	for _, token := range strings.Fields(cleaned) {
		key := strings.ToLower(strings.Trim(token, ".,!?;:-'\"()"))
		if _, stop := words[key]; stop {
			continue
		}
		kept = append(kept, token)
	}
	return strings.Join(kept, " ")
}

func New(name string) (Cleaner, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "regex":
		return Regex{}, nil
	case "stopword":
		return NewStopword(), nil
	default:
		return nil, fmt.Errorf("unsupported text cleaner: %s", name)
	}
}
