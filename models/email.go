package models

import (
	"encoding/json"
	"fmt"
)

// EmailSummary is one search hit as returned by the backend.
// The fields are passed through to the views untouched.
type EmailSummary struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
}

// SearchResponse is the body of GET /email/search.
type SearchResponse struct {
	Keyword string         `json:"keyword"`
	Results []EmailSummary `json:"results"`

	// Raw is the exact body the response was decoded from.
	Raw json.RawMessage `json:"-"`
}

// DecodeSearchResponse parses a search body and keeps a copy of the raw bytes.
func DecodeSearchResponse(body []byte) (*SearchResponse, error) {
	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	resp.Raw = append(json.RawMessage(nil), body...)
	return &resp, nil
}

// Empty reports whether the search matched nothing.
func (r *SearchResponse) Empty() bool {
	return r == nil || len(r.Results) == 0
}

