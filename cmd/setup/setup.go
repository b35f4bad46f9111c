package setup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/headlamp-k8s/headlamp-sub003/cmd/configuration"
	plugcmd "github.com/headlamp-k8s/headlamp-sub003/cmd/internal/cmd"
	v1 "github.com/headlamp-k8s/headlamp-sub003/configuration/v1"
	plugctx "github.com/headlamp-k8s/headlamp-sub003/internal/context"
	"github.com/headlamp-k8s/headlamp-sub003/internal/metrics"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/fetch"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/installer"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/manager"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/orchestrator"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/paths"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/registry"
	"github.com/headlamp-k8s/headlamp-sub003/internal/render"
)

// ConfigOption overrides a value of the loaded configuration.
type ConfigOption func(cmd *cobra.Command, cfg *v1.Config)

func WithPluginDirectory(value string) ConfigOption {
	return func(cmd *cobra.Command, cfg *v1.Config) {
		override(cmd, "plugin directory", &cfg.PluginDirectory, value)
	}
}

func WithHostVersion(value string) ConfigOption {
	return func(cmd *cobra.Command, cfg *v1.Config) {
		override(cmd, "host version", &cfg.HostVersion, value)
	}
}

func WithTempFolder(value string) ConfigOption {
	return func(cmd *cobra.Command, cfg *v1.Config) {
		override(cmd, "temp folder", &cfg.TempFolder, value)
	}
}

func override(cmd *cobra.Command, name string, field *string, value string) {
	if value == "" {
		return
	}
	if *field != "" && *field != value {
		slog.WarnContext(cmd.Context(), name+" was defined in plugctl config with value, will be overwritten by value",
			slog.String("original", *field), slog.String("new", value))
	}
	*field = value
}

// SetupConfig loads the configuration, applies the overrides and defaults
// and stores it in the command context.
func SetupConfig(cmd *cobra.Command, opts ...ConfigOption) error {
	cfg, err := configuration.GetConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	for _, opt := range opts {
		opt(cmd, cfg)
	}
	if cfg.PluginDirectory == "" {
		dir, err := paths.DefaultPluginsDir(paths.DefaultApp)
		if err != nil {
			return fmt.Errorf("could not determine default plugin directory: %w", err)
		}
		slog.DebugContext(cmd.Context(), "using default plugin directory", slog.String("path", dir))
		cfg.PluginDirectory = dir
	}
	cmd.SetContext(plugctx.WithConfiguration(cmd.Context(), cfg))
	return nil
}

// SetupMetrics registers the plugin operation metrics in a registry
// owned by this invocation.
func SetupMetrics(cmd *cobra.Command) error {
	reg := prometheus.NewRegistry()
	if err := metrics.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("could not register metrics: %w", err)
	}
	cmd.SetContext(plugctx.WithMetrics(cmd.Context(), reg))
	return nil
}

// SetupPluginManager wires the plugin manager and the orchestrator from the
// configuration in the command context. Progress is printed to the error output
// so that rendered results on the standard output stay parseable.
func SetupPluginManager(cmd *cobra.Command) error {
	cfg := plugctx.FromContext(cmd.Context()).Configuration()
	if cfg == nil {
		return fmt.Errorf("could not get configuration to initialize plugin manager")
	}

	client := fetch.New(fetch.Options{
		Timeout:      time.Duration(cfg.HTTP.Timeout),
		MaxRedirects: cfg.HTTP.MaxRedirects,
	})
	reg, err := registry.New(client, registry.Options{
		PackagePrefix:          cfg.Registry.PackagePrefix,
		APIPrefix:              cfg.Registry.APIPrefix,
		TrustedArchivePatterns: cfg.Registry.TrustedArchivePatterns,
	})
	if err != nil {
		return fmt.Errorf("could not create registry client: %w", err)
	}
	inst, err := installer.New(client, installer.Options{
		HostVersion:    cfg.HostVersion,
		TempDir:        cfg.TempFolder,
		MaxArchiveSize: cfg.MaxArchiveSize,
	})
	if err != nil {
		return fmt.Errorf("could not create installer: %w", err)
	}

	observer := render.NewProgressWriter(cmd.ErrOrStderr())
	m := manager.New(reg, inst, manager.Options{
		Destination: cfg.PluginDirectory,
		Observer:    observer,
	})
	ctx := plugctx.WithPluginManager(cmd.Context(), m)
	ctx = plugctx.WithOrchestrator(ctx, orchestrator.New(m, orchestrator.Options{Observer: observer}))
	cmd.SetContext(ctx)
	return nil
}

// WriteMetrics writes the gathered metrics to the file given with the
// metrics file flag. Without the flag nothing is written.
func WriteMetrics(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString(plugcmd.MetricsFileFlag)
	if path == "" {
		return nil
	}
	reg := plugctx.FromContext(cmd.Context()).Metrics()
	if reg == nil {
		return fmt.Errorf("could not get metrics registry")
	}
	if err := metrics.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("could not write metrics to %q: %w", path, err)
	}
	slog.DebugContext(cmd.Context(), "metrics written", slog.String("path", path))
	return nil
}
