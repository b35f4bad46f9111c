package hooks

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"

	plugcmd "github.com/headlamp-k8s/headlamp-sub003/cmd/internal/cmd"
	"github.com/headlamp-k8s/headlamp-sub003/cmd/setup"
	plugctx "github.com/headlamp-k8s/headlamp-sub003/internal/context"
	"github.com/headlamp-k8s/headlamp-sub003/internal/flags/log"
)

// Option is the single interface all options implement.
type Option interface {
	Apply(b *Builder) error
}

// optionFunc lets simple functions satisfy Option.
type optionFunc func(*Builder) error

func (f optionFunc) Apply(b *Builder) error { return f(b) }

// Builder accumulates the configuration overrides before they are applied.
type Builder struct {
	cmd *cobra.Command

	cfgOpts map[string]setup.ConfigOption
}

func newBuilder(cmd *cobra.Command) *Builder {
	return &Builder{
		cmd:     cmd,
		cfgOpts: make(map[string]setup.ConfigOption),
	}
}

func (b *Builder) setConfig(key string, opt setup.ConfigOption) {
	b.cfgOpts[key] = opt
}

// WithPluginDirectory configures the plugin directory.
func WithPluginDirectory(value string) Option {
	return optionFunc(func(b *Builder) error {
		b.setConfig(plugcmd.PluginDirectoryFlag, setup.WithPluginDirectory(value))
		return nil
	})
}

// WithHostVersion configures the host version used for compatibility checks.
func WithHostVersion(value string) Option {
	return optionFunc(func(b *Builder) error {
		b.setConfig(plugcmd.HostVersionFlag, setup.WithHostVersion(value))
		return nil
	})
}

// WithTempFolder configures the temp folder used for extraction.
func WithTempFolder(value string) Option {
	return optionFunc(func(b *Builder) error {
		b.setConfig(plugcmd.TempFolderFlag, setup.WithTempFolder(value))
		return nil
	})
}

// PreRunE sets up the command with defaults (no extra options).
func PreRunE(cmd *cobra.Command, _ []string) error {
	return PreRunEWithOptions(cmd, nil)
}

// PreRunEWithOptions applies options, then overrides with CLI flags.
func PreRunEWithOptions(cmd *cobra.Command, _ []string, opts ...Option) error {
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("could not retrieve logger: %w", err)
	}
	slog.SetDefault(logger)
	cmd.SetContext(slogcontext.NewCtx(cmd.Context(), logger))

	b := newBuilder(cmd)
	for _, opt := range opts {
		if err := opt.Apply(b); err != nil {
			return fmt.Errorf("apply option: %w", err)
		}
	}

	// CLI flags take precedence over options and the configuration file.
	for name, opt := range map[string]func(string) setup.ConfigOption{
		plugcmd.PluginDirectoryFlag: setup.WithPluginDirectory,
		plugcmd.HostVersionFlag:     setup.WithHostVersion,
		plugcmd.TempFolderFlag:      setup.WithTempFolder,
	} {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if v, err := cmd.Flags().GetString(name); err == nil && v != "" {
			b.setConfig(name, opt(v))
		} else if err != nil {
			slog.DebugContext(cmd.Context(), "could not read flag value", slog.String("flag", name), slog.String("error", err.Error()))
		}
	}

	// apply in a fixed order so override warnings are stable
	var cfgOpts []setup.ConfigOption
	for _, name := range []string{plugcmd.PluginDirectoryFlag, plugcmd.HostVersionFlag, plugcmd.TempFolderFlag} {
		if opt, ok := b.cfgOpts[name]; ok {
			cfgOpts = append(cfgOpts, opt)
		}
	}
	if err := setup.SetupConfig(cmd, cfgOpts...); err != nil {
		return err
	}
	if err := setup.SetupMetrics(cmd); err != nil {
		return err
	}

	// inherit IO from parent if exists
	if parent := cmd.Parent(); parent != nil {
		cmd.SetOut(parent.OutOrStdout())
		cmd.SetErr(parent.ErrOrStderr())
	}

	if err := setup.SetupPluginManager(cmd); err != nil {
		return fmt.Errorf("could not setup plugin manager: %w", err)
	}

	plugctx.Register(cmd)

	return nil
}

// PostRunE writes the metrics of a successful command.
func PostRunE(cmd *cobra.Command, _ []string) error {
	return setup.WriteMetrics(cmd)
}
