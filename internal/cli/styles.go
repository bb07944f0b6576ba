package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B6B6B"))
)

const ruleWidth = 50

// connectivityLabel renders the online/offline badge.
func connectivityLabel(online bool) string {
	if online {
		return onlineStyle.Render("● online")
	}
	return offlineStyle.Render("○ offline")
}
