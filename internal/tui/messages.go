package tui

import (
	"mailtriage/internal/triage"
	"mailtriage/models"
)

// Async message types for Bubble Tea commands.

type searchDoneMsg struct {
	gen  uint64
	page *triage.Page
	err  error
}

type resultsLoadedMsg struct {
	page *triage.Page
	err  error
}

type actionDoneMsg struct {
	id     string
	seq    uint64
	action models.Action
	result *models.ActionResult
	err    error
}
