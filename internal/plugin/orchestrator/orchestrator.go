// Package orchestrator installs the plugins of a desired state file in
// dependency order and reports the outcome of every plugin.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/headlamp-k8s/headlamp-sub003/internal/metrics"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/folder"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/manager"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/progress"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/resolver"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/spec"
)

// Status is the outcome of a single plugin.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusSkipped   Status = "skipped"
	StatusUnchanged Status = "unchanged"
)

// Result is the outcome of a single plugin of a run.
type Result struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Version string `json:"version,omitempty"`
	Folder  string `json:"folder,omitempty"`
}

// satisfied reports whether dependents of the plugin may be installed.
func (r *Result) satisfied() bool {
	return r.Status == StatusSuccess || r.Status == StatusUnchanged
}

// Report summarizes a run. Results are in declaration order.
type Report struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Unchanged  int      `json:"unchanged"`
	Results    []Result `json:"results"`
}

// Options configures an Orchestrator.
type Options struct {
	// Observer receives the progress events of every plugin, stamped with
	// the plugin name. Nil discards them.
	Observer progress.Observer
}

// Orchestrator drives the Manager for a desired state file.
type Orchestrator struct {
	manager  *manager.Manager
	observer progress.Observer
}

// New creates an Orchestrator.
func New(m *manager.Manager, opts Options) *Orchestrator {
	obs := opts.Observer
	if obs == nil {
		obs = progress.Discard
	}
	return &Orchestrator{manager: m, observer: obs}
}

// InstallFromConfig loads the desired state file at path and applies it.
// Validation and dependency cycles fail before any plugin is touched.
func (o *Orchestrator) InstallFromConfig(ctx context.Context, path string) (*Report, error) {
	cfg, err := spec.Load(path)
	if err != nil {
		return nil, err
	}
	return o.Apply(ctx, cfg)
}

// Apply installs the plugins of cfg batch by batch. The failure of a single
// plugin never aborts the run: its dependents are skipped and every other
// plugin is still attempted. If ctx is cancelled the remaining plugins are
// reported as errors and the context error is returned together with the
// report.
func (o *Orchestrator) Apply(ctx context.Context, cfg *spec.Config) (*Report, error) {
	start := time.Now()
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "plugin"))

	plan, err := resolver.Resolve(cfg.Plugins, cfg.InstallOptions)
	if err != nil {
		return nil, err
	}

	limit := 1
	if cfg.InstallOptions.Parallel {
		limit = max(cfg.InstallOptions.MaxConcurrent, 1)
	}

	byName := make(map[string]spec.Plugin, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		byName[p.Name] = p
	}

	var mu sync.Mutex
	results := make(map[string]*Result, len(cfg.Plugins))

	for i, batch := range plan.Batches {
		if err := ctx.Err(); err != nil {
			for _, p := range cfg.Plugins {
				if _, done := results[p.Name]; !done {
					results[p.Name] = &Result{Name: p.Name, Status: StatusError, Error: "cancelled"}
				}
			}
			report := o.report(cfg, results)
			o.finish(ctx, start, report)
			return report, err
		}

		logger.DebugContext(ctx, "processing batch", slog.Int("batch", i), slog.Any("plugins", batch))

		var runnable []spec.Plugin
		for _, name := range batch {
			p := byName[name]
			if reason := blocked(p, plan, results); reason != "" {
				results[name] = &Result{Name: name, Status: StatusSkipped, Error: reason}
				progress.Info(progress.ForPlugin(o.observer, name), "Plugin Skipped: "+reason)
				continue
			}
			runnable = append(runnable, p)
		}

		// errgroup only bounds concurrency, a failed plugin must not cancel
		// its siblings
		var g errgroup.Group
		g.SetLimit(limit)
		for _, p := range runnable {
			g.Go(func() error {
				res := o.InstallPlugin(ctx, p)
				mu.Lock()
				defer mu.Unlock()
				results[p.Name] = &res
				return nil
			})
		}
		_ = g.Wait()
	}

	report := o.report(cfg, results)
	o.finish(ctx, start, report)
	// a cancellation during the last batch has no next batch to notice it
	return report, ctx.Err()
}

// blocked returns why p cannot be installed, or "" if all of its
// dependencies are satisfied.
func blocked(p spec.Plugin, plan *resolver.Plan, results map[string]*Result) string {
	if missing := plan.Missing[p.Name]; len(missing) > 0 {
		return fmt.Sprintf("dependency %q is not declared", missing[0])
	}
	for _, dep := range p.Dependencies {
		res, ok := results[dep]
		switch {
		case !ok:
			return fmt.Sprintf("dependency %q was not processed", dep)
		case res.Status == StatusSkipped:
			return fmt.Sprintf("dependency %q was skipped", dep)
		case !res.satisfied():
			return fmt.Sprintf("dependency %q failed", dep)
		}
	}
	return ""
}

// InstallPlugin installs a single declared plugin. An already installed
// plugin is updated instead; if it is up to date, or already at the pinned
// version, the result is unchanged.
func (o *Orchestrator) InstallPlugin(ctx context.Context, p spec.Plugin) Result {
	done := metrics.TrackInstall()
	defer done()

	m := o.manager.WithObserver(progress.ForPlugin(o.observer, p.Name))
	res := Result{Name: p.Name}

	var written *manager.Result
	// Matched by source: a folder of the same name installed from another
	// registry page is replaced by a fresh install.
	installed, err := m.GetBySource(ctx, p.Source)
	switch {
	case errors.Is(err, manager.ErrNotFound):
		written, err = m.Install(ctx, p.Source, p.Version)
	case err != nil:
	case p.Version != "" && p.Version == installed.ArtifactHubVersion:
		written = &manager.Result{Version: installed.ArtifactHubVersion, Folder: filepath.Join(m.Destination(), installed.FolderName)}
		res.Status = StatusUnchanged
	case p.Version != "":
		written, err = m.Install(ctx, p.Source, p.Version)
	default:
		written, err = m.UpdateInstalled(ctx, installed)
		if errors.Is(err, manager.ErrNoUpdateAvailable) {
			written = &manager.Result{Version: installed.ArtifactHubVersion, Folder: filepath.Join(m.Destination(), installed.FolderName)}
			res.Status, err = StatusUnchanged, nil
		}
	}
	if err != nil {
		res.Status, res.Error = StatusError, err.Error()
		return res
	}
	if res.Status == "" {
		res.Status = StatusSuccess
	}
	res.Version, res.Folder = written.Version, written.Folder

	if len(p.Config) > 0 {
		if err := folder.WriteConfig(written.Folder, p.Config); err != nil {
			res.Status, res.Error = StatusError, err.Error()
			progress.Error(progress.ForPlugin(o.observer, p.Name), err)
		}
	}
	return res
}

func (o *Orchestrator) report(cfg *spec.Config, results map[string]*Result) *Report {
	report := &Report{Results: make([]Result, 0, len(cfg.Plugins))}
	for _, p := range cfg.Plugins {
		res := results[p.Name]
		switch res.Status {
		case StatusSuccess:
			report.Successful++
		case StatusError:
			report.Failed++
		case StatusSkipped:
			report.Skipped++
		case StatusUnchanged:
			report.Unchanged++
		}
		report.Results = append(report.Results, *res)
	}
	return report
}

func (o *Orchestrator) finish(ctx context.Context, start time.Time, report *Report) {
	status := "success"
	if report.Failed > 0 {
		status = "error"
	}
	metrics.Observe(metrics.OperationApply, status, start)

	slogcontext.FromCtx(ctx).InfoContext(ctx, "plugin configuration applied",
		slog.String("realm", "plugin"),
		slog.Int("successful", report.Successful),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Int("unchanged", report.Unchanged))
}
