// Package log wires the --logformat, --loglevel and --logoutput flags of
// plugctl into a slog.Logger.
package log

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/headlamp-k8s/headlamp-sub003/internal/flags/enum"
)

const (
	FormatFlagName = "logformat"
	FormatJSON     = "json"
	FormatText     = "text"
)

const (
	LevelFlagName = "loglevel"
	LevelDebug    = "debug"
	LevelInfo     = "info"
	LevelWarn     = "warn"
	LevelError    = "error"
)

const (
	OutputFlagName = "logoutput"
	OutputStdout   = "stdout"
	// OutputStderr is the default so logs never mix with rendered results.
	OutputStderr = "stderr"
)

var levels = map[string]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// RegisterLoggingFlags adds the logging flags to flagset. The first option of
// every flag is its default.
func RegisterLoggingFlags(flagset *pflag.FlagSet) {
	enum.Var(flagset, FormatFlagName, []string{FormatText, FormatJSON},
		"log line format, text for terminals or json for log collectors")
	enum.Var(flagset, LevelFlagName, []string{LevelWarn, LevelInfo, LevelDebug, LevelError},
		"minimum level of log lines that are written")
	enum.Var(flagset, OutputFlagName, []string{OutputStderr, OutputStdout},
		"stream log lines are written to")
}

// GetBaseLogger builds the logger selected by the logging flags of cmd.
func GetBaseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	level, err := loggerLevelFromCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to get log level: %w", err)
	}
	format, err := enum.Get(cmd.Flags(), FormatFlagName)
	if err != nil {
		return nil, fmt.Errorf("failed to get log format: %w", err)
	}
	output, err := enum.Get(cmd.Flags(), OutputFlagName)
	if err != nil {
		return nil, fmt.Errorf("failed to get log output: %w", err)
	}

	var w io.Writer = cmd.ErrOrStderr()
	if output == OutputStdout {
		w = cmd.OutOrStdout()
	}

	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case FormatText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

func loggerLevelFromCommand(cmd *cobra.Command) (slog.Level, error) {
	name, err := enum.Get(cmd.Flags(), LevelFlagName)
	if err != nil {
		return slog.LevelWarn, err
	}
	level, ok := levels[name]
	if !ok {
		return slog.LevelWarn, fmt.Errorf("invalid log level: %s", name)
	}
	return level, nil
}
