// Package cli renders catalog, import and matching output for the terminal.
package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/smeta/internal/model"
)

var (
	accent  = lipgloss.Color("#5B8DEF")
	green   = lipgloss.Color("#4ECDC4")
	yellow  = lipgloss.Color("#FFE66D")
	red     = lipgloss.Color("#FF6B6B")
	teal    = lipgloss.Color("#95E1D3")
	gray    = lipgloss.Color("#666666")
	divider = lipgloss.Color("#333333")
)

// Message styles.
var (
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	WarningStyle = lipgloss.NewStyle().Foreground(yellow)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	InfoStyle    = lipgloss.NewStyle().Foreground(teal)
	SubtleStyle  = lipgloss.NewStyle().Foreground(gray)
	BoldStyle    = lipgloss.NewStyle().Bold(true)

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(divider).
			Padding(1, 2)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(divider)
	cellStyle = lipgloss.NewStyle().PaddingRight(2)
)

// tierStyles colors a candidate by how it was found: exact matches stand
// out, similarity guesses are dimmed.
var tierStyles = map[model.Tier]lipgloss.Style{
	model.TierExact:      SuccessStyle.Bold(true),
	model.TierKeyword:    InfoStyle,
	model.TierSimilarity: WarningStyle,
}

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	CatalogIcon = "📦"
	ChartIcon   = "📊"
	FolderIcon  = "🗄️"
)

func withIcon(style lipgloss.Style, icon, message string) string {
	return style.Render(icon + " " + message)
}

// FormatSuccess prefixes message with a check mark.
func FormatSuccess(message string) string { return withIcon(SuccessStyle, SuccessIcon, message) }

// FormatError prefixes message with a cross.
func FormatError(message string) string { return withIcon(ErrorStyle, ErrorIcon, message) }

// FormatWarning prefixes message with a warning sign.
func FormatWarning(message string) string { return withIcon(WarningStyle, WarningIcon, message) }

// FormatInfo prefixes message with an info sign.
func FormatInfo(message string) string { return withIcon(InfoStyle, InfoIcon, message) }

// FormatTitle renders a section title.
func FormatTitle(title string) string { return withIcon(titleStyle, CatalogIcon, title) }

// FormatPrompt renders a question awaiting input.
func FormatPrompt(prompt string) string {
	return promptStyle.Render(prompt + " → ")
}

// FormatTier renders a match tier name in its tier color.
func FormatTier(tier model.Tier) string {
	style, ok := tierStyles[tier]
	if !ok {
		return string(tier)
	}
	return style.Render(string(tier))
}

// RenderBox frames content under a title.
func RenderBox(title, content string) string {
	heading := titleStyle.UnsetMargins().Render(title)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, heading, content))
}

// RenderTable lays out rows under a header with columns padded to the widest
// cell. Rows shorter than the header are padded with empty cells.
func RenderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	render := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = cellStyle.Width(widths[i] + 2).Render(cell)
		}
		return style.Render(lipgloss.JoinHorizontal(lipgloss.Top, parts...))
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, render(header, headerStyle))
	for _, row := range rows {
		lines = append(lines, render(row, lipgloss.NewStyle()))
	}
	return strings.Join(lines, "\n")
}
