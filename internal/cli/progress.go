package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ProgressBar renders drain progress on a single terminal line.
type ProgressBar struct {
	completed int
	total     int
	label     string
	width     int
}

// NewProgressBar creates a new progress bar with the specified total and width.
func NewProgressBar(total int, width int) *ProgressBar {
	if width <= 0 {
		width = 15
	}
	return &ProgressBar{
		total: total,
		width: width,
	}
}

// Update sets the current progress and label.
func (p *ProgressBar) Update(completed int, label string) {
	p.completed = completed
	p.label = label
}

// Render returns the bar in the sync colour.
func (p *ProgressBar) Render() string {
	return p.render("#10B981", "⇡ ")
}

// RenderStalled returns the bar in amber, used once an item has failed and
// the rest of the queue is held back.
func (p *ProgressBar) RenderStalled() string {
	return p.render("#F59E0B", "⏸ ")
}

func (p *ProgressBar) render(color, icon string) string {
	if p.total == 0 {
		return ""
	}

	completed := p.completed
	if completed > p.total {
		completed = p.total
	}
	percent := float64(completed) / float64(p.total)
	filled := int(float64(p.width) * percent)
	empty := p.width - filled

	bar := strings.Repeat("█", filled) + strings.Repeat("░", empty)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color(color)).
		Bold(true)

	barStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color(color))

	countStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B6B6B"))

	return labelStyle.Render(icon) +
		barStyle.Render("["+bar+"]") +
		countStyle.Render(fmt.Sprintf(" %d/%d ", completed, p.total)) +
		labelStyle.Render(p.label)
}

// ClearLine clears the current line for in-place progress updates.
func ClearLine(w io.Writer) {
	_, _ = fmt.Fprint(w, "\r\033[K")
}
