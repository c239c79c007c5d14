// Package tui is a terminal front end for the search, results and action
// workflow.
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"mailtriage/internal/triage"
	"mailtriage/models"
)

// Owner is the handoff slot owner used by the terminal UI.
const Owner = "tui"

type viewState int

const (
	viewSearch  viewState = iota // keyword input
	viewResults                  // results list
)

var actionKeys = map[string]models.Action{
	"t": models.ActionTrash,
	"a": models.ActionArchive,
	"d": models.ActionDryRun,
}

type Model struct {
	ctx     context.Context
	service *triage.Service
	owner   string

	view   viewState
	status string

	input textinput.Model
	list  list.Model

	// gen identifies the latest search started from this UI; completions
	// carrying an older gen are dropped.
	gen   uint64
	page  *triage.Page
	items []models.EmailSummary

	// pending holds the action in flight per email id.
	pending   map[string]models.Action
	rowStatus map[string]string

	width, height int
}

// New creates the model. ctx bounds every backend call the UI makes.
func New(ctx context.Context, service *triage.Service) *Model {
	ti := textinput.New()
	ti.Placeholder = "Keyword"
	ti.Focus()

	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.KeyMap.Quit.SetKeys("q")
	l.SetShowHelp(false)

	return &Model{
		ctx:       ctx,
		service:   service,
		owner:     Owner,
		view:      viewSearch,
		input:     ti,
		list:      l,
		pending:   make(map[string]models.Action),
		rowStatus: make(map[string]string),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadResultsCmd(), textinput.Blink)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(msg.Width, msg.Height-6) // room for title + footer
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case resultsLoadedMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
			return m, nil
		}
		return m, m.showPage(msg.page)

	case searchDoneMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		if msg.err != nil {
			m.status = triage.StatusFor(triage.OpSearch, msg.err)
			return m, nil
		}
		m.status = ""
		m.view = viewResults
		m.input.Blur()
		return m, m.showPage(msg.page)

	case actionDoneMsg:
		return m.finishAction(msg)
	}

	var cmd tea.Cmd
	switch m.view {
	case viewSearch:
		m.input, cmd = m.input.Update(msg)
	case viewResults:
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.view {
	case viewSearch:
		switch key {
		case "enter":
			return m, m.startSearch(m.input.Value())
		case "tab":
			m.view = viewResults
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case viewResults:
		if m.list.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "s", "esc":
			m.view = viewSearch
			return m, m.input.Focus()
		}
		if action, ok := actionKeys[key]; ok {
			return m, m.startAction(action)
		}
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	return m, nil
}

// startSearch validates keyword and issues the search. Every call supersedes
// the previous one.
func (m *Model) startSearch(keyword string) tea.Cmd {
	m.gen++
	gen := m.gen
	m.status = triage.MsgSearching

	ctx, service, owner := m.ctx, m.service, m.owner
	return func() tea.Msg {
		if _, err := service.Search(ctx, owner, keyword); err != nil {
			return searchDoneMsg{gen: gen, err: err}
		}
		page, err := service.Results(owner)
		return searchDoneMsg{gen: gen, page: page, err: err}
	}
}

func (m *Model) startAction(action models.Action) tea.Cmd {
	selected, ok := m.list.SelectedItem().(emailItem)
	if !ok || m.page == nil {
		return nil
	}
	id := selected.ID
	if _, busy := m.pending[id]; busy {
		return nil
	}

	m.pending[id] = action
	m.rowStatus[id] = triage.Performing(action)
	m.status = triage.Performing(action)
	m.refreshItems()

	ctx, service, owner, seq := m.ctx, m.service, m.owner, m.page.Seq
	return func() tea.Msg {
		res, err := service.Act(ctx, owner, seq, id, action)
		return actionDoneMsg{id: id, seq: seq, action: action, result: res, err: err}
	}
}

func (m *Model) finishAction(msg actionDoneMsg) (tea.Model, tea.Cmd) {
	delete(m.pending, msg.id)

	if msg.err != nil {
		m.status = triage.MsgActionFailed
		m.rowStatus[msg.id] = triage.MsgActionFailed
		m.refreshItems()
		return m, nil
	}

	m.status = msg.result.Result
	delete(m.rowStatus, msg.id)
	if m.page != nil && msg.seq == m.page.Seq {
		m.removeItem(msg.id)
	}
	m.refreshItems()
	return m, nil
}

func (m *Model) showPage(page *triage.Page) tea.Cmd {
	m.page = page
	m.items = append([]models.EmailSummary(nil), page.Items...)
	m.pending = make(map[string]models.Action)
	m.rowStatus = make(map[string]string)
	m.list.Title = page.Heading()
	m.list.ResetSelected()
	return m.refreshItems()
}

// removeItem drops the row with the given id, wherever it is now.
func (m *Model) removeItem(id string) {
	for i, e := range m.items {
		if e.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return
		}
	}
}

func (m *Model) refreshItems() tea.Cmd {
	items := make([]list.Item, len(m.items))
	for i, e := range m.items {
		items[i] = emailItem{EmailSummary: e, status: m.rowStatus[e.ID]}
	}
	return m.list.SetItems(items)
}

func (m *Model) loadResultsCmd() tea.Cmd {
	service, owner := m.service, m.owner
	return func() tea.Msg {
		page, err := service.Results(owner)
		return resultsLoadedMsg{page: page, err: err}
	}
}

// Run starts the terminal UI and blocks until the user quits.
func Run(ctx context.Context, service *triage.Service) error {
	p := tea.NewProgram(New(ctx, service), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
