// Package test runs plugctl in-process for command tests.
package test

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/headlamp-k8s/headlamp-sub003/cmd"
	"github.com/headlamp-k8s/headlamp-sub003/internal/flags/log"
)

type Options struct {
	args []string
	out  io.Writer
	err  io.Writer
}

type Option func(*Options)

func WithArgs(args ...string) Option {
	return func(o *Options) {
		o.args = args
	}
}

// WithOutput captures rendered results.
func WithOutput(out io.Writer) Option {
	return func(o *Options) {
		o.out = out
	}
}

// WithErrOutput captures progress lines and logs.
func WithErrOutput(err io.Writer) Option {
	return func(o *Options) {
		o.err = err
	}
}

// Plugctl executes a fresh root command with JSON logs. Captured streams are
// mirrored to the test process output.
func Plugctl(tb testing.TB, opts ...Option) (*cobra.Command, error) {
	tb.Helper()

	var opt Options
	for _, o := range opts {
		o(&opt)
	}
	if len(opt.args) == 0 {
		opt.args = []string{"help"}
	}

	instance := cmd.New()
	if opt.out != nil {
		instance.SetOut(io.MultiWriter(os.Stdout, opt.out))
	}
	if opt.err != nil {
		instance.SetErr(io.MultiWriter(os.Stderr, opt.err))
	}
	if err := instance.PersistentFlags().Set(log.FormatFlagName, log.FormatJSON); err != nil {
		return nil, fmt.Errorf("failed to set log format: %w", err)
	}

	instance.SetArgs(opt.args)
	return instance.ExecuteContextC(tb.Context())
}

// JSONLogReader collects a mixed stream of JSON log lines and plain progress
// lines.
type JSONLogReader struct {
	*bytes.Buffer
	Discarded *bytes.Buffer
}

func NewJSONLogReader() *JSONLogReader {
	return &JSONLogReader{
		Buffer:    &bytes.Buffer{},
		Discarded: &bytes.Buffer{},
	}
}

type JSONLogEntry struct {
	Time   string
	Level  string
	Msg    string
	Extras map[string]any
}

// List splits the buffer into log entries. Lines that are not JSON objects go
// to Discarded.
func (logs *JSONLogReader) List() ([]*JSONLogEntry, error) {
	var entries []*JSONLogEntry
	scanner := bufio.NewScanner(logs.Buffer)
	for scanner.Scan() {
		line := scanner.Bytes()
		parsed := gjson.ParseBytes(line)
		if !gjson.ValidBytes(line) || !parsed.IsObject() {
			if _, err := fmt.Fprintf(logs.Discarded, "%s\n", line); err != nil {
				return nil, err
			}
			continue
		}

		entry := &JSONLogEntry{Extras: map[string]any{}}
		parsed.ForEach(func(key, value gjson.Result) bool {
			switch key.String() {
			case "time":
				entry.Time = value.String()
			case "level":
				entry.Level = value.String()
			case "msg":
				entry.Msg = value.String()
			default:
				entry.Extras[key.String()] = value.Value()
			}
			return true
		})
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

func (logs *JSONLogReader) GetDiscarded() string {
	return logs.Discarded.String()
}
