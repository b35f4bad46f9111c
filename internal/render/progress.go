package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/progress"
)

// ProgressWriter prints progress events as single styled lines.
// Colors are only used when w is a terminal.
type ProgressWriter struct {
	mu sync.Mutex
	w  io.Writer

	info    lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	plugin  lipgloss.Style
}

var _ progress.Observer = (*ProgressWriter)(nil)

func NewProgressWriter(w io.Writer) *ProgressWriter {
	r := lipgloss.NewRenderer(w)
	return &ProgressWriter{
		w:       w,
		info:    r.NewStyle().Foreground(lipgloss.Color("240")),
		success: r.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		plugin:  r.NewStyle().Foreground(lipgloss.Color("86")),
	}
}

func (p *ProgressWriter) Observe(e progress.Event) {
	var marker string
	switch e.Type {
	case progress.TypeSuccess:
		marker = p.success.Render("✓")
	case progress.TypeError:
		marker = p.failure.Render("✗")
	default:
		marker = p.info.Render("•")
	}
	line := marker + " " + e.Message
	if e.Plugin != "" {
		line = marker + " " + p.plugin.Render(e.Plugin) + ": " + e.Message
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.w, line)
}
