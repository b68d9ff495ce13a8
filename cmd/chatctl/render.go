package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/lexmarket/chatbot/internal/chatbot"
	"github.com/lexmarket/chatbot/internal/domain"
)

var (
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))

	stateStyles = map[domain.ChatState]lipgloss.Style{
		domain.ChatStateConnecting:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		domain.ChatStateAnalyzing:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		domain.ChatStateResearching: lipgloss.NewStyle().Foreground(lipgloss.Color("99")),
		domain.ChatStateDrafting:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domain.ChatStateStreaming:   lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		domain.ChatStateComplete:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
	}
)

// stateLine formats a progress state for the terminal.
func stateLine(state domain.ChatState, message string) string {
	if message == "" {
		message = chatbot.StateLabel(state)
	}
	style, ok := stateStyles[state]
	if !ok {
		style = mutedStyle
	}
	return style.Render(fmt.Sprintf("%-11s %s", state, message))
}

// renderMarkdown renders an answer. style is a glamour standard style
// name, or "auto" to follow the terminal background.
func renderMarkdown(md, style string, width int) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}

	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimRight(out, "\n"), nil
}

// sessionTable lays sessions out one per line under a header.
func sessionTable(sessions []domain.Session) string {
	rows := [][]string{{"ID", "AGENT", "MESSAGES", "INITIALIZED", "LAST ACTIVITY"}}
	for _, s := range sessions {
		rows = append(rows, []string{
			s.ID,
			string(s.AppName),
			strconv.Itoa(s.MessageCount),
			strconv.FormatBool(s.Initialized),
			s.LastActivity.Local().Format("2006-01-02 15:04"),
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	lines := make([]string, 0, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = cell + strings.Repeat(" ", widths[j]-lipgloss.Width(cell))
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if i == 0 {
			line = headerStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
