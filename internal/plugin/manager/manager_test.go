package manager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/headlamp-k8s/headlamp-sub003/internal/metrics"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/fetch"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/folder"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/installer"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/plugintest"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/progress"
)

func setup(t *testing.T) (*Manager, *plugintest.Registry, *progress.Recorder) {
	t.Helper()
	reg := plugintest.NewRegistry(t)
	f := fetch.New(fetch.Options{})
	inst, err := installer.New(f, installer.Options{TempDir: t.TempDir(), HostVersion: "0.30.0"})
	require.NoError(t, err)
	rec := &progress.Recorder{}
	m := New(reg.Client(f), inst, Options{
		Destination: filepath.Join(t.TempDir(), "plugins"),
		Observer:    rec,
	})
	return m, reg, rec
}

func writeForeign(t *testing.T, dir, packageJSON string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, folder.EntryPoint), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, folder.MetadataFile), []byte(packageJSON), 0o644))
}

func TestInstallAndList(t *testing.T) {
	r := require.New(t)
	m, reg, rec := setup(t)

	plugins, err := m.List(t.Context())
	r.NoError(err)
	r.Empty(plugins, "missing destination yields an empty list")

	source := reg.Add(plugintest.Plugin{Name: "my-plugin", Version: "1.0.0", DisplayName: "My Plugin", Author: "jane"})
	res, err := m.Install(t.Context(), source, "")
	r.NoError(err)
	r.Equal(&Result{Name: "my-plugin", Version: "1.0.0", Folder: filepath.Join(m.Destination(), "my-plugin")}, res)

	r.Equal([]string{
		"Plugins Listed",
		"Fetching Plugin Metadata",
		"Plugin Metadata Fetched",
		"Downloading Plugin",
		"Plugin Downloaded",
		"Extracting Plugin",
		"Plugin Extracted",
		"Plugin Installed",
	}, rec.Messages())

	writeForeign(t, filepath.Join(m.Destination(), "foreign"), `{"name":"foreign"}`)
	r.NoError(os.WriteFile(filepath.Join(m.Destination(), "notes.txt"), []byte("x"), 0o644))

	plugins, err = m.List(t.Context())
	r.NoError(err)
	r.Equal([]folder.Installed{{
		FolderName:         "my-plugin",
		PluginName:         "my-plugin",
		PluginTitle:        "My Plugin",
		PluginVersion:      "1.0.0",
		ArtifactHubURL:     source,
		RepoName:           "test-repo",
		Author:             "jane",
		ArtifactHubVersion: "1.0.0",
	}}, plugins)
}

func TestInstallPinnedVersion(t *testing.T) {
	r := require.New(t)
	m, reg, _ := setup(t)
	reg.Add(plugintest.Plugin{Name: "my-plugin", Version: "1.0.0"})
	source := reg.Add(plugintest.Plugin{Name: "my-plugin", Version: "2.0.0"})

	res, err := m.Install(t.Context(), source, "1.0.0")
	r.NoError(err)
	r.Equal("1.0.0", res.Version)
}

func TestInstallFailureReportsError(t *testing.T) {
	r := require.New(t)
	m, reg, rec := setup(t)
	source := reg.Add(plugintest.Plugin{Name: "too-new", Compat: ">=1.0.0"})

	_, err := m.Install(t.Context(), source, "")
	r.ErrorIs(err, installer.ErrIncompatible)

	events := rec.Events()
	r.Equal(progress.TypeError, events[len(events)-1].Type)
	r.Contains(events[len(events)-1].Message, "incompatible")
}

func TestUpdate(t *testing.T) {
	r := require.New(t)
	m, reg, rec := setup(t)
	source := reg.Add(plugintest.Plugin{Name: "my-plugin", Version: "1.0.0"})
	_, err := m.Install(t.Context(), source, "")
	r.NoError(err)

	t.Run("no update available", func(t *testing.T) {
		r := require.New(t)
		before := testutil.ToFloat64(metrics.OperationsCounter(metrics.OperationUpdate, "unchanged"))
		_, err := m.Update(t.Context(), "my-plugin")
		r.ErrorIs(err, ErrNoUpdateAvailable)
		r.Equal(before+1, testutil.ToFloat64(metrics.OperationsCounter(metrics.OperationUpdate, "unchanged")))

		installed, err := m.Get(t.Context(), "my-plugin")
		r.NoError(err)
		r.Equal("1.0.0", installed.ArtifactHubVersion)
	})

	t.Run("newer version", func(t *testing.T) {
		r := require.New(t)
		reg.Add(plugintest.Plugin{
			Name:    "my-plugin",
			Version: "1.1.0",
			Files: map[string]string{
				"main.js":      "console.log('v1.1.0')",
				"package.json": `{"name":"my-plugin","version":"1.1.0"}`,
				"new.js":       "new",
			},
		})
		res, err := m.Update(t.Context(), "my-plugin")
		r.NoError(err)
		r.Equal("1.1.0", res.Version)
		r.FileExists(filepath.Join(res.Folder, "new.js"))
		r.Contains(rec.Messages(), "Plugin Updated")

		installed, err := m.Get(t.Context(), "my-plugin")
		r.NoError(err)
		r.Equal("1.1.0", installed.ArtifactHubVersion)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := m.Update(t.Context(), "unknown")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUninstall(t *testing.T) {
	r := require.New(t)
	m, reg, rec := setup(t)
	source := reg.Add(plugintest.Plugin{Name: "my-plugin"})
	res, err := m.Install(t.Context(), source, "")
	r.NoError(err)

	r.NoError(m.Uninstall(t.Context(), "my-plugin"))
	r.NoDirExists(res.Folder)
	r.Contains(rec.Messages(), "Plugin Uninstalled")

	r.ErrorIs(m.Uninstall(t.Context(), "my-plugin"), ErrNotFound)
}

func TestUninstallForeignFolder(t *testing.T) {
	r := require.New(t)
	m, _, _ := setup(t)

	for name, packageJSON := range map[string]string{
		"X":        `{"name":"X"}`,
		"tampered": `{"name":"tampered","isManagedByHeadlampPlugin":"yes"}`,
	} {
		dir := filepath.Join(m.Destination(), name)
		writeForeign(t, dir, packageJSON)

		err := m.Uninstall(t.Context(), name)
		r.ErrorIs(err, ErrNotFound)
		r.DirExists(dir, "foreign folders are never touched")
		r.FileExists(filepath.Join(dir, folder.MetadataFile))
	}
}

func TestGetByFolderName(t *testing.T) {
	r := require.New(t)
	m, reg, _ := setup(t)
	source := reg.Add(plugintest.Plugin{
		Name: "my-plugin",
		Files: map[string]string{
			"main.js":      "x",
			"package.json": `{"name":"@scope/my-plugin","version":"0.0.1"}`,
		},
	})
	_, err := m.Install(t.Context(), source, "")
	r.NoError(err)

	byName, err := m.Get(t.Context(), "@scope/my-plugin")
	r.NoError(err)
	byFolder, err := m.Get(t.Context(), "my-plugin")
	r.NoError(err)
	r.Equal(byName, byFolder)
}

func TestGetBySource(t *testing.T) {
	r := require.New(t)
	m, reg, _ := setup(t)
	source := reg.Add(plugintest.Plugin{Repo: "repo-a", Name: "headlamp_flux"})
	other := reg.Add(plugintest.Plugin{Repo: "repo-b", Name: "headlamp_flux"})
	_, err := m.Install(t.Context(), source, "")
	r.NoError(err)

	installed, err := m.GetBySource(t.Context(), source+"/")
	r.NoError(err)
	r.Equal("headlamp_flux", installed.FolderName)

	_, err = m.GetBySource(t.Context(), other)
	r.ErrorIs(err, ErrNotFound)

	_, err = m.UpdateInstalled(t.Context(), installed)
	r.ErrorIs(err, ErrNoUpdateAvailable)
}
