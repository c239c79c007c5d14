package models

import (
	"errors"
	"fmt"
	"strings"
)

// Action is one of the backend-defined operations on a set of emails.
type Action string

const (
	ActionTrash   Action = "trash"
	ActionArchive Action = "archive"
	ActionDryRun  Action = "dry-run"
)

// Actions lists the supported actions in display order.
var Actions = []Action{ActionTrash, ActionArchive, ActionDryRun}

var ErrUnknownAction = errors.New("unknown action")

// ParseAction accepts the wire name of an action, case-insensitively.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionTrash, ActionArchive, ActionDryRun:
		return true
	}
	return false
}

// Label is the button caption for the action.
func (a Action) Label() string {
	switch a {
	case ActionTrash:
		return "Trash"
	case ActionArchive:
		return "Archive"
	case ActionDryRun:
		return "Dry Run"
	}
	return string(a)
}

func (a Action) String() string {
	return string(a)
}

// ActionRequest is the body of POST /email/action.
type ActionRequest struct {
	EmailIDs []string `json:"email_ids"`
	Action   Action   `json:"action"`
}

// ActionResult is the body returned by POST /email/action. Only Result is
// shown to the user.
type ActionResult struct {
	Result         string   `json:"result"`
	Action         string   `json:"action,omitempty"`
	AffectedEmails []string `json:"affected_emails,omitempty"`
}
