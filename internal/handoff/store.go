// Package handoff keeps the most recent search result per session.
//
// Each owner (a browser session, the CLI, the terminal UI) has exactly one
// slot. A search takes a Ticket before it calls the backend and commits the
// response with it; a commit whose ticket has been superseded by a newer
// search is rejected, so an old response that resolves late can never
// overwrite a newer one.
package handoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"mailtriage/models"
)

var (
	// ErrSuperseded is returned when a newer search was started for the
	// same owner after the ticket was issued.
	ErrSuperseded = errors.New("search superseded by a newer search")

	// ErrNoSlot is returned when the owner has never committed a search.
	ErrNoSlot = errors.New("no search result stored")
)

const keyPrefix = "handoff_"

// Storage is the subset of fiber.Storage the store needs.
type Storage interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
	Delete(key string) error
}

// Ticket identifies one search attempt.
type Ticket struct {
	Owner string
	Seq   uint64
}

type record struct {
	Issued   uint64   `json:"issued"`
	Seq      uint64   `json:"seq"`
	Response []byte   `json:"response,omitempty"` // base64 keeps the body byte-exact
	Removed  []string `json:"removed,omitempty"`
}

// View is a decoded slot.
type View struct {
	Seq      uint64
	Response *models.SearchResponse
	Removed  []string
}

// Visible returns the results not yet removed by a successful action.
func (v *View) Visible() []models.EmailSummary {
	if v == nil || v.Response == nil {
		return nil
	}
	out := make([]models.EmailSummary, 0, len(v.Response.Results))
	for _, e := range v.Response.Results {
		if !slices.Contains(v.Removed, e.ID) {
			out = append(out, e)
		}
	}
	return out
}

// Store is a single-slot-per-owner store on top of a key/value Storage.
type Store struct {
	storage Storage
	ttl     time.Duration
	mu      sync.Mutex
}

// NewStore creates a store. ttl bounds how long an untouched slot lives.
func NewStore(storage Storage, ttl time.Duration) *Store {
	return &Store{storage: storage, ttl: ttl}
}

// Begin issues a ticket for a new search by owner. Every earlier ticket for
// the same owner becomes stale.
func (s *Store) Begin(owner string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(owner)
	if err != nil {
		return Ticket{}, err
	}
	rec.Issued++
	if err := s.write(owner, rec); err != nil {
		return Ticket{}, err
	}
	return Ticket{Owner: owner, Seq: rec.Issued}, nil
}

// Commit stores resp as the owner's current result. The raw body is kept
// byte for byte. It fails with ErrSuperseded if a newer ticket exists.
func (s *Store) Commit(t Ticket, resp *models.SearchResponse) error {
	if resp == nil {
		return fmt.Errorf("commit: nil response")
	}
	raw := resp.Raw
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(resp); err != nil {
			return fmt.Errorf("commit: encode response: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(t.Owner)
	if err != nil {
		return err
	}
	if t.Seq != rec.Issued {
		return ErrSuperseded
	}
	rec.Seq = t.Seq
	rec.Response = raw
	rec.Removed = nil
	return s.write(t.Owner, rec)
}

// Load returns the owner's current result, or ErrNoSlot.
func (s *Store) Load(owner string) (*View, error) {
	s.mu.Lock()
	rec, err := s.read(owner)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(rec.Response) == 0 {
		return nil, ErrNoSlot
	}

	resp, err := models.DecodeSearchResponse(rec.Response)
	if err != nil {
		return nil, err
	}
	return &View{Seq: rec.Seq, Response: resp, Removed: rec.Removed}, nil
}

// Raw returns the stored body exactly as the backend sent it.
func (s *Store) Raw(owner string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(owner)
	if err != nil {
		return nil, err
	}
	if len(rec.Response) == 0 {
		return nil, ErrNoSlot
	}
	return json.RawMessage(rec.Response), nil
}

// Remove hides emailID from the owner's view. seq is the search the row was
// rendered from; a row from an older search is not touched and
// ErrSuperseded is returned.
func (s *Store) Remove(owner string, seq uint64, emailID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(owner)
	if err != nil {
		return err
	}
	if len(rec.Response) == 0 {
		return ErrNoSlot
	}
	if seq != rec.Seq {
		return ErrSuperseded
	}
	if slices.Contains(rec.Removed, emailID) {
		return nil
	}
	rec.Removed = append(rec.Removed, emailID)
	return s.write(owner, rec)
}

// Current returns the sequence of the committed search, 0 if none.
func (s *Store) Current(owner string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(owner)
	if err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

func (s *Store) read(owner string) (*record, error) {
	data, err := s.storage.Get(keyPrefix + owner)
	if err != nil {
		return nil, fmt.Errorf("read handoff slot: %w", err)
	}
	rec := &record{}
	if len(data) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode handoff slot: %w", err)
	}
	return rec, nil
}

func (s *Store) write(owner string, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode handoff slot: %w", err)
	}
	if err := s.storage.Set(keyPrefix+owner, data, s.ttl); err != nil {
		return fmt.Errorf("write handoff slot: %w", err)
	}
	return nil
}
