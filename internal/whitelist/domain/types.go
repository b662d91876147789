// Package domain contains the business logic for the proof-gated token
// whitelist.
package domain

import (
	"github.com/pendergraft/trustgate/internal/circuit"
)

// Whitelist lifecycle states.
const (
	StateUnlisted    = "unlisted"
	StatePending     = "pending_verification"
	StateWhitelisted = "whitelisted"
	StateDelisted    = "delisted"
)

// SubmitRequest carries a certified proof and its revealed outputs for one
// token. Score, Signature and the address parts are 0x-prefixed field
// elements.
type SubmitRequest struct {
	Address      string         `json:"address"`
	Score        string         `json:"score"`
	Signature    string         `json:"signature"`
	AddressPart1 string         `json:"addressPart1"`
	AddressPart2 string         `json:"addressPart2"`
	Proof        *circuit.Proof `json:"proof"`
}

// Entry is the public whitelist state of one token.
type Entry struct {
	Address       string `json:"address"`
	State         string `json:"state"`
	IsWhitelisted bool   `json:"isWhitelisted"`
	LastScore     string `json:"lastScore,omitempty"`
	LastUpdatedAt string `json:"lastUpdatedAt,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// ListFilter contains filter options for listing entries.
type ListFilter struct {
	State       string
	Whitelisted *bool
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult is one page of whitelist entries.
type ListResult struct {
	Entries    []Entry `json:"entries"`
	HasMore    bool    `json:"hasMore"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// Threshold is the submission threshold in wire form.
type Threshold struct {
	Value string `json:"threshold"`
}
