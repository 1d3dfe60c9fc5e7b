package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vocalnews/assistant/internal/summarizer"
)

type SummarizeCmd struct {
	File      string `short:"f" type:"existingfile" help:"Read text from this file instead of stdin"`
	Sentences int    `short:"n" default:"5" help:"Maximum sentences to keep"`
	MaxLength int    `short:"l" help:"Trim the summary to this length (0 keeps everything)"`
	Unit      string `default:"chars" enum:"chars,words" help:"Length unit for --max-length (chars, words)"`
	Mean      bool   `help:"Score sentences by mean word frequency instead of the sum"`
}

func (c *SummarizeCmd) Run(s *streams) error {
	var reader io.Reader = s.in
	if c.File != "" {
		file, err := os.Open(c.File)
		if err != nil {
			return err
		}
		defer file.Close()
		reader = file
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("no text to summarize")
	}

	var opts []summarizer.Option
	if c.Mean {
		opts = append(opts, summarizer.WithScoring(summarizer.ScoreMean))
	}
	limit := summarizer.Limit{Max: c.MaxLength, Unit: summarizer.UnitChars}
	if c.Unit == "words" {
		limit.Unit = summarizer.UnitWords
	}
	summary := summarizer.New(opts...).Summarize(text, c.Sentences, limit)
	_, err = fmt.Fprintln(s.out, summary)
	return err
}
