// Package printer is the non-interactive adapter: one or more prompts in,
// rendered result out, exit status reflecting success. Without yolo mode
// every approval is denied, since nobody is there to answer.
package printer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kestrelcli/kestrel/internal/runtime"
)

// Format names an input or output encoding.
type Format string

const (
	FormatText       Format = "text"
	FormatStreamJSON Format = "stream-json"
)

// ParseFormat validates a -input-format / -output-format flag value.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case FormatText, FormatStreamJSON:
		return Format(raw), nil
	}
	return "", fmt.Errorf("unknown format %q (supported: text, stream-json)", raw)
}

// Options configures a Printer.
type Options struct {
	Runtime      *runtime.Runtime
	InputFormat  Format
	OutputFormat Format
	In           io.Reader
	Out          io.Writer
}

// Printer runs prompts to completion without interaction.
type Printer struct {
	runtime      *runtime.Runtime
	inputFormat  Format
	outputFormat Format
	in           io.Reader
	out          io.Writer
}

func New(opts Options) *Printer {
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Printer{
		runtime:      opts.Runtime,
		inputFormat:  opts.InputFormat,
		outputFormat: opts.OutputFormat,
		in:           in,
		out:          out,
	}
}

// Run processes the prompt (or, with stream-json input, each prompt line)
// and returns an error when any turn fails.
func (p *Printer) Run(ctx context.Context, prompt string) error {
	switch p.inputFormat {
	case FormatStreamJSON:
		return p.runStream(ctx)
	default:
		if prompt == "" {
			data, err := io.ReadAll(p.in)
			if err != nil {
				return fmt.Errorf("read prompt: %w", err)
			}
			prompt = strings.TrimSpace(string(data))
		}
		if prompt == "" {
			return errors.New("no prompt given")
		}
		return p.runOne(ctx, prompt)
	}
}

type streamInput struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (p *Printer) runStream(ctx context.Context) error {
	scanner := bufio.NewScanner(p.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var in streamInput
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			return fmt.Errorf("parse input line: %w", err)
		}
		if in.Type != "user" {
			return fmt.Errorf("unsupported input type %q", in.Type)
		}
		if err := p.runOne(ctx, in.Content); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (p *Printer) runOne(ctx context.Context, prompt string) error {
	events, err := p.runtime.Submit(ctx, prompt)
	if err != nil {
		return err
	}
	var turnErr error
	for ev := range events {
		if p.outputFormat == FormatStreamJSON {
			data, err := json.Marshal(ev)
			if err == nil {
				fmt.Fprintln(p.out, string(data))
			}
		} else if ev.Type == runtime.EventAssistantDelta {
			fmt.Fprintln(p.out, ev.Text)
		}
		if ev.Type == runtime.EventError {
			turnErr = errors.New(ev.Err)
		}
	}
	return turnErr
}
