package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/folder"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/orchestrator"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/progress"
)

var installed = []folder.Installed{{
	FolderName:         "flux",
	PluginName:         "flux",
	PluginTitle:        "Flux",
	PluginVersion:      "0.2.0",
	ArtifactHubURL:     "https://artifacthub.io/packages/headlamp/headlamp-plugins/flux",
	RepoName:           "headlamp-plugins",
	Author:             "headlamp",
	ArtifactHubVersion: "0.2.0",
}}

func TestInstalled(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		r := require.New(t)
		var buf bytes.Buffer
		r.NoError(Installed(&buf, OutputJSON, installed))
		var decoded []folder.Installed
		r.NoError(json.Unmarshal(buf.Bytes(), &decoded))
		r.Equal(installed, decoded)
	})
	t.Run("json empty is an array", func(t *testing.T) {
		r := require.New(t)
		var buf bytes.Buffer
		r.NoError(Installed(&buf, OutputJSON, nil))
		r.Equal("[]\n", buf.String())
	})
	t.Run("yaml", func(t *testing.T) {
		r := require.New(t)
		var buf bytes.Buffer
		r.NoError(Installed(&buf, OutputYAML, installed))
		var decoded []folder.Installed
		r.NoError(yaml.Unmarshal(buf.Bytes(), &decoded))
		r.Equal(installed, decoded)
	})
	t.Run("table", func(t *testing.T) {
		r := require.New(t)
		var buf bytes.Buffer
		r.NoError(Installed(&buf, OutputTable, installed))
		out := buf.String()
		r.Contains(out, "NAME")
		r.Contains(out, "flux")
		r.Contains(out, "Flux")
		r.Contains(out, "0.2.0")
	})
	t.Run("unknown", func(t *testing.T) {
		require.ErrorContains(t, Installed(&bytes.Buffer{}, "xml", installed), `unknown output format: "xml"`)
	})
}

func TestReport(t *testing.T) {
	report := &orchestrator.Report{
		Successful: 1,
		Failed:     1,
		Results: []orchestrator.Result{
			{Name: "a", Status: orchestrator.StatusSuccess, Version: "1.0.0"},
			{Name: "b", Status: orchestrator.StatusError, Error: "archive checksum mismatch"},
		},
	}
	r := require.New(t)

	var buf bytes.Buffer
	r.NoError(Report(&buf, OutputTable, report))
	out := buf.String()
	r.Contains(out, "archive checksum mismatch")
	r.Contains(strings.ToLower(out), "1 failed")

	buf.Reset()
	r.NoError(Report(&buf, OutputJSON, report))
	var decoded orchestrator.Report
	r.NoError(json.Unmarshal(buf.Bytes(), &decoded))
	r.Equal(*report, decoded)
}

func TestProgressWriter(t *testing.T) {
	r := require.New(t)
	var buf bytes.Buffer
	w := NewProgressWriter(&buf)

	progress.Info(w, "Downloading Plugin")
	progress.Success(progress.ForPlugin(w, "flux"), "Plugin Installed")
	progress.Error(w, errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	r.Len(lines, 3)
	r.Equal("• Downloading Plugin", lines[0])
	r.Equal("✓ flux: Plugin Installed", lines[1])
	r.Equal("✗ boom", lines[2])
}

func TestProgressWriterConcurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewProgressWriter(&buf)
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			progress.Info(w, "Extracting Plugin")
		})
	}
	wg.Wait()
	require.Equal(t, 20, strings.Count(buf.String(), "• Extracting Plugin\n"))
}
