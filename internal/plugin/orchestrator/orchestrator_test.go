package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/fetch"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/folder"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/installer"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/manager"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/plugintest"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/progress"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/resolver"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/spec"
)

const badChecksum = "0000000000000000000000000000000000000000000000000000000000000000"

type env struct {
	registry *plugintest.Registry
	orch     *Orchestrator
	manager  *manager.Manager
	recorder *progress.Recorder
}

func setup(t *testing.T) *env {
	t.Helper()
	reg := plugintest.NewRegistry(t)
	f := fetch.New(fetch.Options{})
	inst, err := installer.New(f, installer.Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	m := manager.New(reg.Client(f), inst, manager.Options{Destination: filepath.Join(t.TempDir(), "plugins")})
	rec := &progress.Recorder{}
	return &env{
		registry: reg,
		orch:     New(m, Options{Observer: rec}),
		manager:  m,
		recorder: rec,
	}
}

func (e *env) writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func statuses(report *Report) map[string]Status {
	out := map[string]Status{}
	for _, res := range report.Results {
		out[res.Name] = res.Status
	}
	return out
}

func TestInstallFromConfig(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	e.registry.Add(plugintest.Plugin{Name: "base", Version: "1.0.0"})
	e.registry.Add(plugintest.Plugin{Name: "addon", Version: "2.0.0"})

	path := e.writeConfig(t, fmt.Sprintf(`
plugins:
  - name: addon
    source: %s
    dependencies: [base]
    config:
      refresh: 30
  - name: base
    source: %s
`, e.registry.Source("test-repo", "addon"), e.registry.Source("test-repo", "base")))

	report, err := e.orch.InstallFromConfig(t.Context(), path)
	r.NoError(err)
	r.Equal(2, report.Successful)
	r.Equal([]Result{
		{Name: "addon", Status: StatusSuccess, Version: "2.0.0", Folder: filepath.Join(e.manager.Destination(), "addon")},
		{Name: "base", Status: StatusSuccess, Version: "1.0.0", Folder: filepath.Join(e.manager.Destination(), "base")},
	}, report.Results, "results keep declaration order")

	data, err := os.ReadFile(filepath.Join(e.manager.Destination(), "addon", folder.ConfigFile))
	r.NoError(err)
	r.JSONEq(`{"refresh":30}`, string(data))
	r.NoFileExists(filepath.Join(e.manager.Destination(), "base", folder.ConfigFile))

	var installed []string
	for _, ev := range e.recorder.Events() {
		if ev.Message == "Plugin Installed" {
			installed = append(installed, ev.Plugin)
		}
	}
	r.Equal([]string{"base", "addon"}, installed, "dependencies are installed first")
}

func TestChecksumMismatchDoesNotAffectSiblings(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	p := e.registry.Add(plugintest.Plugin{Name: "p", Checksum: badChecksum})
	q := e.registry.Add(plugintest.Plugin{Name: "q"})

	report, err := e.orch.Apply(t.Context(), &spec.Config{
		Plugins:        []spec.Plugin{{Name: "p", Source: p}, {Name: "q", Source: q}},
		InstallOptions: spec.InstallOptions{Parallel: true, MaxConcurrent: 2},
	})
	r.NoError(err)
	r.Equal(map[string]Status{"p": StatusError, "q": StatusSuccess}, statuses(report))
	r.Equal(1, report.Failed)
	r.Equal(1, report.Successful)
	r.Contains(report.Results[0].Error, "checksum mismatch")
	r.NoDirExists(filepath.Join(e.manager.Destination(), "p"))
}

func TestSkipCascade(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	c := e.registry.Add(plugintest.Plugin{Name: "c", Checksum: badChecksum})
	b := e.registry.Add(plugintest.Plugin{Name: "b"})
	a := e.registry.Add(plugintest.Plugin{Name: "a"})
	d := e.registry.Add(plugintest.Plugin{Name: "d"})

	report, err := e.orch.Apply(t.Context(), &spec.Config{
		Plugins: []spec.Plugin{
			{Name: "a", Source: a, Dependencies: []string{"b"}},
			{Name: "b", Source: b, Dependencies: []string{"c"}},
			{Name: "c", Source: c},
			{Name: "d", Source: d},
		},
		InstallOptions: spec.InstallOptions{MaxConcurrent: 3},
	})
	r.NoError(err)
	r.Equal(map[string]Status{
		"a": StatusSkipped,
		"b": StatusSkipped,
		"c": StatusError,
		"d": StatusSuccess,
	}, statuses(report))
	r.Equal(&Report{Successful: 1, Failed: 1, Skipped: 2, Results: report.Results}, report)
	r.Contains(report.Results[0].Error, `"b"`)
	r.Contains(report.Results[1].Error, `"c"`)

	r.NotContains(e.registry.Requests(), "/api/test-repo/a", "skipped plugins are never resolved")
	r.NotContains(e.registry.Requests(), "/api/test-repo/b", "skipped plugins are never resolved")
}

func TestMissingDependency(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	a := e.registry.Add(plugintest.Plugin{Name: "a"})
	b := e.registry.Add(plugintest.Plugin{Name: "b"})

	report, err := e.orch.Apply(t.Context(), &spec.Config{
		Plugins: []spec.Plugin{
			{Name: "a", Source: a, Dependencies: []string{"ghost"}},
			{Name: "b", Source: b},
		},
		InstallOptions: spec.InstallOptions{MaxConcurrent: 3},
	})
	r.NoError(err)
	r.Equal(map[string]Status{"a": StatusSkipped, "b": StatusSuccess}, statuses(report))
	r.Contains(report.Results[0].Error, "ghost")
}

func TestCycleFailsBeforeAnyRequest(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	path := e.writeConfig(t, `
plugins:
  - {name: A, source: "https://artifacthub.io/packages/headlamp/test-repo/a", dependencies: [B]}
  - {name: B, source: "https://artifacthub.io/packages/headlamp/test-repo/b", dependencies: [A]}
`)

	report, err := e.orch.InstallFromConfig(t.Context(), path)
	r.Nil(report)
	var cerr *resolver.CycleError
	r.ErrorAs(err, &cerr)
	r.Equal("B", cerr.At)
	r.Empty(e.registry.Requests())
	r.NoDirExists(e.manager.Destination())
}

func TestInvalidConfigFailsBeforeAnyRequest(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	path := e.writeConfig(t, `
plugins:
  - {name: a, source: s}
  - {name: a, source: s}
`)
	_, err := e.orch.InstallFromConfig(t.Context(), path)
	var derr *spec.DuplicateError
	r.ErrorAs(err, &derr)
	r.Empty(e.registry.Requests())

	_, err = e.orch.InstallFromConfig(t.Context(), filepath.Join(t.TempDir(), "missing.yaml"))
	r.ErrorIs(err, os.ErrNotExist)
}

func TestConcurrencyLimit(t *testing.T) {
	for _, tc := range []struct {
		name     string
		parallel bool
		limit    int
	}{
		{"sequential", false, 1},
		{"parallel", true, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)
			e := setup(t)
			e.registry.Delay = 50 * time.Millisecond

			cfg := &spec.Config{InstallOptions: spec.InstallOptions{Parallel: tc.parallel, MaxConcurrent: 2}}
			for i := range 5 {
				name := fmt.Sprintf("p%d", i)
				cfg.Plugins = append(cfg.Plugins, spec.Plugin{Name: name, Source: e.registry.Add(plugintest.Plugin{Name: name})})
			}

			report, err := e.orch.Apply(t.Context(), cfg)
			r.NoError(err)
			r.Equal(5, report.Successful)
			r.LessOrEqual(e.registry.MaxInFlight(), tc.limit)
		})
	}
}

func TestUpdatePath(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	base := e.registry.Add(plugintest.Plugin{Name: "base", Version: "1.0.0"})
	addon := e.registry.Add(plugintest.Plugin{Name: "addon", Version: "1.0.0"})
	cfg := &spec.Config{
		Plugins: []spec.Plugin{
			{Name: "base", Source: base},
			{Name: "addon", Source: addon, Dependencies: []string{"base"}},
		},
		InstallOptions: spec.InstallOptions{MaxConcurrent: 3},
	}

	report, err := e.orch.Apply(t.Context(), cfg)
	r.NoError(err)
	r.Equal(2, report.Successful)

	report, err = e.orch.Apply(t.Context(), cfg)
	r.NoError(err)
	r.Equal(map[string]Status{"base": StatusUnchanged, "addon": StatusUnchanged}, statuses(report),
		"unchanged dependencies satisfy their dependents")
	r.Equal(2, report.Unchanged)
	r.Equal("1.0.0", report.Results[0].Version)

	e.registry.Add(plugintest.Plugin{Name: "base", Version: "1.1.0"})
	report, err = e.orch.Apply(t.Context(), cfg)
	r.NoError(err)
	r.Equal(map[string]Status{"base": StatusSuccess, "addon": StatusUnchanged}, statuses(report))
	r.Equal("1.1.0", report.Results[0].Version)
}

func TestPinnedVersion(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	e.registry.Add(plugintest.Plugin{Name: "p", Version: "1.0.0"})
	source := e.registry.Add(plugintest.Plugin{Name: "p", Version: "2.0.0"})

	pinned := func(v string) *spec.Config {
		return &spec.Config{
			Plugins:        []spec.Plugin{{Name: "p", Source: source, Version: v}},
			InstallOptions: spec.InstallOptions{MaxConcurrent: 3},
		}
	}

	report, err := e.orch.Apply(t.Context(), pinned("1.0.0"))
	r.NoError(err)
	r.Equal(Result{Name: "p", Status: StatusSuccess, Version: "1.0.0", Folder: filepath.Join(e.manager.Destination(), "p")}, report.Results[0])

	report, err = e.orch.Apply(t.Context(), pinned("1.0.0"))
	r.NoError(err)
	r.Equal(StatusUnchanged, report.Results[0].Status)

	report, err = e.orch.Apply(t.Context(), pinned("2.0.0"))
	r.NoError(err)
	r.Equal(StatusSuccess, report.Results[0].Status)
	r.Equal("2.0.0", report.Results[0].Version)
}

func TestCancelled(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	a := e.registry.Add(plugintest.Plugin{Name: "a"})
	b := e.registry.Add(plugintest.Plugin{Name: "b"})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	report, err := e.orch.Apply(ctx, &spec.Config{
		Plugins:        []spec.Plugin{{Name: "a", Source: a}, {Name: "b", Source: b, Dependencies: []string{"a"}}},
		InstallOptions: spec.InstallOptions{MaxConcurrent: 3},
	})
	r.ErrorIs(err, context.Canceled)
	r.Equal(2, report.Failed)
	for _, res := range report.Results {
		r.Equal(StatusError, res.Status)
		r.Equal("cancelled", res.Error)
	}
	r.Empty(e.registry.Requests())
}

func TestSkippedEventsNamePlugin(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	c := e.registry.Add(plugintest.Plugin{Name: "c", Checksum: badChecksum})
	b := e.registry.Add(plugintest.Plugin{Name: "b"})

	_, err := e.orch.Apply(t.Context(), &spec.Config{
		Plugins:        []spec.Plugin{{Name: "c", Source: c}, {Name: "b", Source: b, Dependencies: []string{"c"}}},
		InstallOptions: spec.InstallOptions{MaxConcurrent: 3},
	})
	r.NoError(err)

	var skipped []progress.Event
	for _, ev := range e.recorder.Events() {
		if strings.HasPrefix(ev.Message, "Plugin Skipped") {
			skipped = append(skipped, ev)
		}
	}
	r.Len(skipped, 1)
	r.Equal("b", skipped[0].Plugin)
}

func TestCancelledDuringLastBatch(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	a := e.registry.Add(plugintest.Plugin{Name: "a"})
	b := e.registry.Add(plugintest.Plugin{Name: "b"})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	orch := New(e.manager, Options{Observer: progress.ObserverFunc(func(ev progress.Event) {
		if ev.Plugin == "b" && ev.Message == "Plugin Installed" {
			cancel()
		}
	})})

	report, err := orch.Apply(ctx, &spec.Config{
		Plugins:        []spec.Plugin{{Name: "a", Source: a}, {Name: "b", Source: b, Dependencies: []string{"a"}}},
		InstallOptions: spec.InstallOptions{MaxConcurrent: 3},
	})
	r.ErrorIs(err, context.Canceled)
	r.NotNil(report)
	r.Equal(map[string]Status{"a": StatusSuccess, "b": StatusSuccess}, statuses(report))
}

func archiveDownloads(reg *plugintest.Registry) []string {
	var out []string
	for _, path := range reg.Requests() {
		if strings.HasPrefix(path, "/releases/") {
			out = append(out, path)
		}
	}
	return out
}

func TestDeclaredSourceReplacesSameNamedPlugin(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	repoA := e.registry.Add(plugintest.Plugin{Repo: "repo-a", Name: "foo"})
	repoB := e.registry.Add(plugintest.Plugin{Repo: "repo-b", Name: "foo"})

	_, err := e.manager.Install(t.Context(), repoA, "")
	r.NoError(err)

	report, err := e.orch.Apply(t.Context(), &spec.Config{
		Plugins:        []spec.Plugin{{Name: "foo", Source: repoB}},
		InstallOptions: spec.InstallOptions{MaxConcurrent: 3},
	})
	r.NoError(err)
	r.Equal(StatusSuccess, report.Results[0].Status)
	r.Equal([]string{"/releases/repo-a/foo/1.0.0.tar.gz", "/releases/repo-b/foo/1.0.0.tar.gz"}, archiveDownloads(e.registry))
	r.NotContains(e.registry.Requests()[1:], "/api/repo-a/foo", "the previous source must not be consulted")

	installed, err := e.manager.Get(t.Context(), "foo")
	r.NoError(err)
	r.Equal(repoB, installed.ArtifactHubURL)
}

func TestConfigNameDiffersFromPluginName(t *testing.T) {
	r := require.New(t)
	e := setup(t)
	source := e.registry.Add(plugintest.Plugin{Name: "headlamp_flux"})
	cfg := &spec.Config{
		Plugins:        []spec.Plugin{{Name: "flux", Source: source + "/"}},
		InstallOptions: spec.InstallOptions{MaxConcurrent: 3},
	}

	report, err := e.orch.Apply(t.Context(), cfg)
	r.NoError(err)
	r.Equal(Result{Name: "flux", Status: StatusSuccess, Version: "1.0.0", Folder: filepath.Join(e.manager.Destination(), "headlamp_flux")}, report.Results[0])

	report, err = e.orch.Apply(t.Context(), cfg)
	r.NoError(err)
	r.Equal(Result{Name: "flux", Status: StatusUnchanged, Version: "1.0.0", Folder: filepath.Join(e.manager.Destination(), "headlamp_flux")}, report.Results[0])
	r.Len(archiveDownloads(e.registry), 1)
}
