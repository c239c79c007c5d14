// Package triage implements the search, results and action workflow shared
// by the web, CLI and terminal front ends.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"mailtriage/internal/handoff"
	"mailtriage/internal/instrumentation"
	"mailtriage/internal/logging"
	"mailtriage/models"
)

// User-facing status lines.
const (
	MsgEmptyKeyword = "Please enter a keyword before searching."
	MsgSearching    = "Searching..."
	MsgSearchFailed = "Error searching emails. Please try again."
	MsgSuperseded   = "A newer search replaced this one."
	MsgNoResults    = "No results found or search not performed."
	MsgNoMatches    = "No emails matched your search."
	MsgActionFailed = "Error performing action."
)

// ErrEmptyKeyword is returned by Search for blank keywords.
var ErrEmptyKeyword = errors.New("keyword is empty")

// Backend is the part of the email backend the workflow uses.
type Backend interface {
	Search(ctx context.Context, keyword string) (*models.SearchResponse, error)
	Act(ctx context.Context, req models.ActionRequest) (*models.ActionResult, error)
}

// Service runs the workflow against a backend and a handoff store.
type Service struct {
	backend Backend
	store   *handoff.Store
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	flights singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records workflow outcomes on m.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service.
func New(backend Backend, store *handoff.Store, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		store:   store,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithComponent(s.logger, "triage")
	return s
}

// Performing is the status line shown while action runs.
func Performing(action models.Action) string {
	return fmt.Sprintf("Performing %s...", action)
}

// StatusFor maps a Search or Act error onto the line shown to the user.
func StatusFor(op string, err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyKeyword):
		return MsgEmptyKeyword
	case errors.Is(err, handoff.ErrSuperseded) && op == OpSearch:
		return MsgSuperseded
	case op == OpSearch:
		return MsgSearchFailed
	default:
		return MsgActionFailed
	}
}

// Operation names.
const (
	OpSearch = "search"
	OpAction = "action"
)

// SearchResult describes a committed search.
type SearchResult struct {
	Seq     uint64
	Keyword string
	Count   int
}

// Search validates keyword, queries the backend and commits the response to
// owner's slot. A response that arrives after a newer search for the same
// owner has started is dropped with handoff.ErrSuperseded.
func (s *Service) Search(ctx context.Context, owner, keyword string) (*SearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, ErrEmptyKeyword
	}

	logger := logging.WithOperation(s.logger, OpSearch).With(logging.Owner(owner), logging.Keyword(keyword))
	start := time.Now()

	ticket, err := s.store.Begin(owner)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start search", logging.Err(err))
		s.metrics.RecordWorkflow(ctx, OpSearch, instrumentation.ResultError)
		return nil, err
	}
	logger = logger.With(logging.Seq(ticket.Seq))

	resp, err := s.backend.Search(ctx, keyword)
	if err != nil {
		logger.ErrorContext(ctx, "search failed",
			logging.Status(logging.StatusError), logging.Err(err))
		s.metrics.RecordWorkflow(ctx, OpSearch, instrumentation.ResultError)
		return nil, err
	}

	if err := s.store.Commit(ticket, resp); err != nil {
		if errors.Is(err, handoff.ErrSuperseded) {
			logger.InfoContext(ctx, "discarding superseded search response",
				logging.Status(logging.StatusSuperseded))
			s.metrics.RecordWorkflow(ctx, OpSearch, instrumentation.ResultSuperseded)
			return nil, err
		}
		logger.ErrorContext(ctx, "failed to store search response", logging.Err(err))
		s.metrics.RecordWorkflow(ctx, OpSearch, instrumentation.ResultError)
		return nil, err
	}

	logger.InfoContext(ctx, "search completed",
		logging.Status(logging.StatusSuccess),
		slog.Int("results", len(resp.Results)),
		slog.Duration(logging.KeyDuration, time.Since(start)))
	s.metrics.RecordWorkflow(ctx, OpSearch, instrumentation.ResultSuccess)

	return &SearchResult{Seq: ticket.Seq, Keyword: resp.Keyword, Count: len(resp.Results)}, nil
}

// Page is what the results view renders.
type Page struct {
	Seq         uint64
	Keyword     string
	Placeholder string
	Items       []models.EmailSummary
}

// Heading is the title above the list, empty when a placeholder is shown.
func (p *Page) Heading() string {
	if p.Placeholder != "" {
		return ""
	}
	return `Results for "` + p.Keyword + `"`
}

// Results reads owner's slot. It never calls the backend and never writes.
func (s *Service) Results(owner string) (*Page, error) {
	view, err := s.store.Load(owner)
	if errors.Is(err, handoff.ErrNoSlot) {
		return &Page{Placeholder: MsgNoResults}, nil
	}
	if err != nil {
		s.logger.Error("failed to load results",
			logging.Operation("results"), logging.Owner(owner), logging.Err(err))
		return nil, err
	}

	page := &Page{Seq: view.Seq, Keyword: view.Response.Keyword}
	if view.Response.Empty() {
		page.Placeholder = MsgNoMatches
		return page, nil
	}
	page.Items = view.Visible()
	return page, nil
}

// Raw returns owner's stored search body exactly as the backend sent it.
func (s *Service) Raw(owner string) ([]byte, error) {
	return s.store.Raw(owner)
}

// Current returns the sequence of owner's committed search, 0 if none.
func (s *Service) Current(owner string) (uint64, error) {
	return s.store.Current(owner)
}

// Act applies action to emailID. seq is the search the row was rendered
// from; on success the row is hidden from that search's view. Identical
// concurrent calls share one backend request, and each caller removes the
// row for its own seq.
func (s *Service) Act(ctx context.Context, owner string, seq uint64, emailID string, action models.Action) (*models.ActionResult, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownAction, action)
	}
	if emailID == "" {
		return nil, fmt.Errorf("email id is empty")
	}

	logger := logging.WithOperation(s.logger, OpAction).With(
		logging.Owner(owner),
		logging.EmailID(emailID),
		logging.Action(action.String()),
		logging.Seq(seq))

	key := owner + "\x00" + emailID + "\x00" + action.String()
	v, err, shared := s.flights.Do(key, func() (interface{}, error) {
		start := time.Now()
		res, err := s.backend.Act(ctx, models.ActionRequest{
			EmailIDs: []string{emailID},
			Action:   action,
		})
		if err != nil {
			logger.ErrorContext(ctx, "action failed",
				logging.Status(logging.StatusError), logging.Err(err))
			s.metrics.RecordWorkflow(ctx, OpAction, instrumentation.ResultError)
			return nil, err
		}

		logger.InfoContext(ctx, "action completed",
			logging.Status(logging.StatusSuccess),
			slog.Duration(logging.KeyDuration, time.Since(start)))
		s.metrics.RecordWorkflow(ctx, OpAction, instrumentation.ResultSuccess)
		return res, nil
	})
	if shared {
		logger.DebugContext(ctx, "action coalesced with an identical request in flight")
	}
	if err != nil {
		return nil, err
	}

	// The backend already applied the action; a failed removal only
	// leaves the stored view stale.
	switch err := s.store.Remove(owner, seq, emailID); {
	case err == nil:
	case errors.Is(err, handoff.ErrNoSlot), errors.Is(err, handoff.ErrSuperseded):
		logger.DebugContext(ctx, "acted row is not part of the current results", logging.Err(err))
	default:
		logger.WarnContext(ctx, "action succeeded but row was not removed from stored results",
			logging.Err(err))
	}
	return v.(*models.ActionResult), nil
}
