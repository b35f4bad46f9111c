// Package manager installs, lists, updates and uninstalls single plugins in a
// plugin directory. The directory itself is the source of truth: installed
// plugins are always derived by scanning it.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/headlamp-k8s/headlamp-sub003/internal/metrics"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/folder"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/installer"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/progress"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/registry"
)

var (
	ErrNotFound            = errors.New("plugin not found")
	ErrNoUpdateAvailable   = errors.New("no updates available")
	ErrInvalidPluginFolder = errors.New("invalid plugin folder")
)

// Result describes a plugin written by Install or Update.
type Result struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Folder  string `json:"folder"`
}

// Options configures a Manager.
type Options struct {
	// Destination is the plugin directory.
	Destination string
	// Observer receives progress events. Nil discards them.
	Observer progress.Observer
}

// Manager operates on the plugins of one destination directory.
type Manager struct {
	registry    *registry.Client
	installer   *installer.Installer
	destination string
	observer    progress.Observer
}

// New creates a Manager.
func New(reg *registry.Client, inst *installer.Installer, opts Options) *Manager {
	obs := opts.Observer
	if obs == nil {
		obs = progress.Discard
	}
	return &Manager{
		registry:    reg,
		installer:   inst,
		destination: opts.Destination,
		observer:    obs,
	}
}

// Destination returns the plugin directory of the Manager.
func (m *Manager) Destination() string {
	return m.destination
}

// WithObserver returns a copy of the Manager that reports to obs.
func (m *Manager) WithObserver(obs progress.Observer) *Manager {
	cp := *m
	cp.observer = obs
	if cp.observer == nil {
		cp.observer = progress.Discard
	}
	return &cp
}

func (m *Manager) logger(ctx context.Context) *slog.Logger {
	return slogcontext.FromCtx(ctx).With(slog.String("realm", "plugin"))
}

// Install resolves source at the given version (latest if empty) and installs it.
func (m *Manager) Install(ctx context.Context, source, version string) (_ *Result, err error) {
	start := time.Now()
	defer func() { m.finish(metrics.OperationInstall, start, err) }()

	progress.Info(m.observer, "Fetching Plugin Metadata")
	meta, err := m.registry.Resolve(ctx, source, version)
	if err != nil {
		return nil, err
	}
	progress.Success(m.observer, "Plugin Metadata Fetched")

	target, err := m.installer.Install(ctx, meta, m.destination, m.observer)
	if err != nil {
		return nil, err
	}

	res := &Result{Name: meta.Name, Version: meta.Version, Folder: target}
	progress.Success(m.observer, "Plugin Installed", res)
	m.logger(ctx).InfoContext(ctx, "plugin installed", slog.String("name", res.Name), slog.String("version", res.Version))
	return res, nil
}

// List returns the managed plugins in the destination. Folders that are not
// managed plugin folders are skipped. A missing destination yields no plugins.
func (m *Manager) List(ctx context.Context) (_ []folder.Installed, err error) {
	start := time.Now()
	defer func() { m.finish(metrics.OperationList, start, err) }()

	plugins, err := m.list(ctx)
	if err != nil {
		return nil, err
	}
	progress.Success(m.observer, "Plugins Listed", plugins)
	return plugins, nil
}

func (m *Manager) list(ctx context.Context) ([]folder.Installed, error) {
	entries, err := os.ReadDir(m.destination)
	if errors.Is(err, os.ErrNotExist) {
		return []folder.Installed{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory %s: %w", m.destination, err)
	}

	plugins := make([]folder.Installed, 0, len(entries))
	for _, entry := range entries {
		// staging folders are hidden
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		installed, err := folder.Read(filepath.Join(m.destination, entry.Name()))
		if err != nil {
			m.logger(ctx).DebugContext(ctx, "skipping folder", slog.String("folder", entry.Name()), slog.String("reason", err.Error()))
			continue
		}
		plugins = append(plugins, *installed)
	}
	return plugins, nil
}

// Get looks up an installed plugin by its plugin name or folder name.
func (m *Manager) Get(ctx context.Context, name string) (*folder.Installed, error) {
	plugins, err := m.list(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range plugins {
		if p.PluginName == name {
			return &p, nil
		}
	}
	for _, p := range plugins {
		if p.FolderName == name {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// GetBySource looks up the installed plugin whose registry page is source.
func (m *Manager) GetBySource(ctx context.Context, source string) (*folder.Installed, error) {
	plugins, err := m.list(ctx)
	if err != nil {
		return nil, err
	}
	want := strings.TrimRight(source, "/")
	for _, p := range plugins {
		if strings.TrimRight(p.ArtifactHubURL, "/") == want {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, source)
}

// Update re-resolves an installed plugin from its registry page and installs
// the newer version in place. If the installed version is the same or newer
// ErrNoUpdateAvailable is returned and nothing is changed.
func (m *Manager) Update(ctx context.Context, name string) (_ *Result, err error) {
	start := time.Now()
	defer func() { m.finish(metrics.OperationUpdate, start, err) }()

	installed, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.update(ctx, installed)
}

// UpdateInstalled is Update for a plugin that was already looked up.
func (m *Manager) UpdateInstalled(ctx context.Context, installed *folder.Installed) (_ *Result, err error) {
	start := time.Now()
	defer func() { m.finish(metrics.OperationUpdate, start, err) }()

	return m.update(ctx, installed)
}

func (m *Manager) update(ctx context.Context, installed *folder.Installed) (*Result, error) {
	name := installed.PluginName
	progress.Info(m.observer, "Fetching Plugin Metadata")
	meta, err := m.registry.Resolve(ctx, installed.ArtifactHubURL, "")
	if err != nil {
		return nil, err
	}
	progress.Success(m.observer, "Plugin Metadata Fetched")

	current, err := semver.NewVersion(installed.ArtifactHubVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid installed version %q of %s: %w", installed.ArtifactHubVersion, name, err)
	}
	latest, err := semver.NewVersion(meta.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid version %q of %s: %w", registry.ErrInvalidMetadata, meta.Version, name, err)
	}
	if !latest.GreaterThan(current) {
		return nil, fmt.Errorf("%w: %s is at %s, registry has %s", ErrNoUpdateAvailable, name, current, latest)
	}

	target, err := m.installer.InstallInto(ctx, meta, m.destination, installed.FolderName, m.observer)
	if err != nil {
		return nil, err
	}

	res := &Result{Name: meta.Name, Version: meta.Version, Folder: target}
	progress.Success(m.observer, "Plugin Updated", res)
	m.logger(ctx).InfoContext(ctx, "plugin updated",
		slog.String("name", res.Name),
		slog.String("from", current.String()),
		slog.String("to", res.Version))
	return res, nil
}

// Uninstall removes an installed plugin. The folder is checked again right
// before deletion and left untouched if it is no longer a managed plugin.
func (m *Manager) Uninstall(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { m.finish(metrics.OperationUninstall, start, err) }()

	installed, err := m.Get(ctx, name)
	if err != nil {
		return err
	}

	dir := filepath.Join(m.destination, installed.FolderName)
	if !folder.IsManaged(dir) {
		return fmt.Errorf("%w: %s", ErrInvalidPluginFolder, dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove plugin folder %s: %w", dir, err)
	}

	progress.Success(m.observer, "Plugin Uninstalled", installed)
	m.logger(ctx).InfoContext(ctx, "plugin uninstalled", slog.String("name", installed.PluginName))
	return nil
}

// finish reports a failed operation to the observer and records metrics.
func (m *Manager) finish(operation string, start time.Time, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrNoUpdateAvailable):
		status = "unchanged"
		progress.Error(m.observer, err)
	case err != nil:
		status = "error"
		progress.Error(m.observer, err)
	}
	metrics.Observe(operation, status, start)
}
