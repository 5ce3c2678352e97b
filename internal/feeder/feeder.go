// Package feeder supplies form identifiers to sessions in round-robin order.
//
// The IDFeeder cursor is the only mutable state shared between sessions.
package feeder

import (
	"strings"
	"sync/atomic"

	"github.com/alphagov/forms-load-tests/internal/config"
)

// IDFeeder cycles through a fixed, non-empty list of form ids.
// It is safe for concurrent use and never blocks.
type IDFeeder struct {
	ids    []string
	cursor atomic.Uint64
}

// New creates a feeder over ids. Blank entries are ignored; an empty list is a
// configuration error.
func New(ids []string) (*IDFeeder, error) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return nil, &config.ConfigurationError{Field: config.KeyFormIDs, Message: "form id list is empty"}
	}
	return &IDFeeder{ids: cleaned}, nil
}

// Next returns the next id, wrapping to the first after the last.
// Each call advances the cursor exactly once.
func (f *IDFeeder) Next() string {
	n := f.cursor.Add(1) - 1
	return f.ids[n%uint64(len(f.ids))]
}

// Len returns the number of ids in one full cycle.
func (f *IDFeeder) Len() int {
	return len(f.ids)
}

// IDs returns a copy of the configured ids.
func (f *IDFeeder) IDs() []string {
	out := make([]string, len(f.ids))
	copy(out, f.ids)
	return out
}
