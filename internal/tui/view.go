package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"mailtriage/internal/triage"
	"mailtriage/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	placeholderStyle = lipgloss.NewStyle().
				Italic(true).
				Foreground(lipgloss.Color("245"))
)

// emailItem wraps EmailSummary for the list display.
type emailItem struct {
	models.EmailSummary
	status string
}

func (e emailItem) FilterValue() string { return e.Sender + " " + e.Subject }
func (e emailItem) Title() string       { return e.Subject }
func (e emailItem) Description() string {
	if e.status != "" {
		return fmt.Sprintf("From: %s  [%s]", e.Sender, e.status)
	}
	return fmt.Sprintf("From: %s", e.Sender)
}

func searchFooter() string {
	return footerStyle.Render("enter: search  tab: results  ctrl+c: quit")
}

func resultsFooter() string {
	return footerStyle.Render("t: trash  a: archive  d: dry run  s: new search  /: filter  q: quit")
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Email Triage"))
	b.WriteString("\n\n")

	switch m.view {
	case viewSearch:
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
		b.WriteString(searchFooter())

	case viewResults:
		if m.page == nil || m.page.Placeholder != "" {
			msg := triage.MsgNoResults
			if m.page != nil {
				msg = m.page.Placeholder
			}
			b.WriteString(placeholderStyle.Render(msg))
			b.WriteString("\n\n")
		} else {
			b.WriteString(m.list.View())
			b.WriteString("\n")
		}
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
		b.WriteString(resultsFooter())
	}

	return b.String()
}
