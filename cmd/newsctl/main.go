package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vocalnews/assistant/internal/logging"
)

// CLI is the operator tool for poking at the news pipeline without the server.
type CLI struct {
	LogLevel  string `default:"warn" env:"LOG_LEVEL" help:"Log level"`
	LogFormat string `default:"text" enum:"text,json" env:"LOG_FORMAT" help:"Log format (text, json)"`

	Scrape    ScrapeCmd    `cmd:"" help:"Fetch a page and print its cleaned text"`
	Summarize SummarizeCmd `cmd:"" help:"Extractively summarize text from a file or stdin"`
	News      NewsCmd      `cmd:"" help:"Run a news retrieval and print the news data block"`
}

type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func (c *CLI) logger(s *streams) *slog.Logger {
	return logging.New(s.err, logging.Options{
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		Service: "newsctl",
	})
}

func main() {
	if err := run(os.Args[1:], &streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, s *streams) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("newsctl"),
		kong.Description("Operator tools for the voice news assistant"),
		kong.UsageOnError(),
		kong.Writers(s.out, s.err),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	if err != nil {
		return err
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return ctx.Run(&cli, s)
}
