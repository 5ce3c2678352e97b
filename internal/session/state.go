package session

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/alphagov/forms-load-tests/internal/scrape"
)

// Stage is a point in a session's state machine.
type Stage int32

const (
	StageStart Stage = iota
	StageAnswering
	StageSubmitting
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageAnswering:
		return "answering"
	case StageSubmitting:
		return "submitting"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("Stage(%d)", int32(s))
	}
}

// State is what a session remembers between pages.
type State struct {
	FormID     string
	AuthToken  string
	ActionPath string
	InputName  string

	// QuestionNumber labels requests only. It never drives control flow.
	QuestionNumber int
}

// apply copies a scraped page into the state. The token and action are kept
// from earlier pages when the new page does not carry them.
func (s *State) apply(page scrape.Page) {
	s.InputName = page.InputName
	if page.AuthToken != "" {
		s.AuthToken = page.AuthToken
	}
	if page.ActionPath != "" {
		s.ActionPath = page.ActionPath
	}
}

// ThinkTime is the pause between answering one question and the next.
type ThinkTime struct {
	Min time.Duration
	Max time.Duration
}

// Draw returns a duration uniformly distributed in [Min, Max].
func (t ThinkTime) Draw() time.Duration {
	diff := t.Max - t.Min
	if diff <= 0 {
		return t.Min
	}
	return t.Min + time.Duration(rand.Int63n(int64(diff)+1))
}
