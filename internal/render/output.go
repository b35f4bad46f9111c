// Package render encodes command results for the terminal.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"sigs.k8s.io/yaml"

	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/folder"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/orchestrator"
)

// Output formats
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

var Outputs = []string{OutputTable, OutputJSON, OutputYAML}

// Installed writes the installed plugins to w in the given output format.
func Installed(w io.Writer, output string, plugins []folder.Installed) error {
	if plugins == nil {
		plugins = []folder.Installed{}
	}
	return encode(w, output, plugins, func() ([]byte, error) {
		return installedTable(plugins), nil
	})
}

// Report writes the result of applying a plugin configuration to w.
func Report(w io.Writer, output string, report *orchestrator.Report) error {
	return encode(w, output, report, func() ([]byte, error) {
		return reportTable(report), nil
	})
}

func encode(w io.Writer, output string, v any, asTable func() ([]byte, error)) error {
	var data []byte
	var err error
	switch output {
	case OutputJSON:
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	case OutputYAML:
		data, err = yaml.Marshal(v)
	case OutputTable:
		data, err = asTable()
	default:
		err = fmt.Errorf("unknown output format: %q", output)
	}
	if err != nil {
		return fmt.Errorf("encoding output as %q failed: %w", output, err)
	}
	_, err = w.Write(data)
	return err
}

func installedTable(plugins []folder.Installed) []byte {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(table.Row{"Name", "Title", "Version", "Folder", "Repository", "Author"})
	for _, p := range plugins {
		t.AppendRow(table.Row{p.PluginName, p.PluginTitle, p.ArtifactHubVersion, p.FolderName, p.RepoName, p.Author})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, AutoMerge: true},
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
	return buf.Bytes()
}

func reportTable(report *orchestrator.Report) []byte {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(table.Row{"Plugin", "Status", "Version", "Error"})
	for _, res := range report.Results {
		t.AppendRow(table.Row{res.Name, string(res.Status), res.Version, res.Error})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d successful", report.Successful),
		fmt.Sprintf("%d failed", report.Failed),
		fmt.Sprintf("%d skipped", report.Skipped),
		fmt.Sprintf("%d unchanged", report.Unchanged),
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
	return buf.Bytes()
}
