// Package question holds the per-question answer/validation state: a locked
// single selection for multiple-choice questions and a guarded server-side
// check for command-execution questions.
package question

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/workspace/lab-client/internal/api"
)

// Checker runs the server-side validation for check-type questions.
// *api.Client satisfies it.
type Checker interface {
	CheckQuestion(ctx context.Context, sessionID, questionID int) (*api.CheckResult, error)
}

var (
	// ErrLocked means an answer was already recorded; selections are final.
	ErrLocked = errors.New("question: answer already locked")
	// ErrUnknownOption means the selected id is not one of the options.
	ErrUnknownOption = errors.New("question: unknown answer option")
	// ErrCheckInFlight means a validation request is already running.
	ErrCheckInFlight = errors.New("question: check already in flight")
	// ErrNotCheckable is returned when Check is called on a multiple-choice
	// question.
	ErrNotCheckable = errors.New("question: not a check-type question")
	// ErrCheckSuperseded means the panel switched questions while the
	// check was running; the result was discarded.
	ErrCheckSuperseded = errors.New("question: check superseded by question change")
)

// Mark is the decoration applied to one answer option after answering.
type Mark int

const (
	// MarkNeutral: not yet answered, option still selectable.
	MarkNeutral Mark = iota
	// MarkCorrect: this is the right answer (always revealed once locked).
	MarkCorrect
	// MarkIncorrectSelected: the user picked this and it was wrong.
	MarkIncorrectSelected
	// MarkDisabled: locked, neither correct nor the wrong pick.
	MarkDisabled
)

// Decoration pairs an answer option with its mark.
type Decoration struct {
	Answer api.Answer
	Mark   Mark
}

// Panel is the state of one rendered question. Not safe for concurrent use
// except for Check, which guards itself.
type Panel struct {
	sessionID int
	checker   Checker

	mu       sync.Mutex
	q        api.Question
	selected int // answer id, 0 = none
	checking bool
}

// NewPanel creates the state for one question within a lab session.
func NewPanel(q api.Question, sessionID int, checker Checker) *Panel {
	return &Panel{q: q, sessionID: sessionID, checker: checker}
}

// Question returns the question currently shown.
func (p *Panel) Question() api.Question {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.q
}

// SetQuestion switches the panel to a new question. All selection and check
// state resets when the question id changes.
func (p *Panel) SetQuestion(q api.Question) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.q.ID == q.ID {
		return
	}
	p.q = q
	p.selected = 0
	p.checking = false
}

// Select records the single multiple-choice pick. The first selection locks
// the question; later calls return ErrLocked.
func (p *Panel) Select(answerID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.q.TypeQuestion != api.QuestionTypeNonCheck {
		return fmt.Errorf("question %d: selections only apply to multiple choice", p.q.ID)
	}
	if p.selected != 0 {
		return ErrLocked
	}
	for _, a := range p.q.Answers {
		if a.ID == answerID {
			p.selected = answerID
			return nil
		}
	}
	return ErrUnknownOption
}

// Answered reports whether a selection has been locked in.
func (p *Panel) Answered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected != 0
}

// Correct reports whether the locked selection was the right answer.
func (p *Panel) Correct() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.q.Answers {
		if a.ID == p.selected {
			return a.IsRightAns
		}
	}
	return false
}

// Decorations returns the per-option marks in option order. Before a
// selection everything is neutral; after, the correct answer is revealed,
// the wrong pick is flagged and the rest are disabled.
func (p *Panel) Decorations() []Decoration {
	p.mu.Lock()
	defer p.mu.Unlock()

	decorations := make([]Decoration, 0, len(p.q.Answers))
	for _, a := range p.q.Answers {
		mark := MarkNeutral
		if p.selected != 0 {
			switch {
			case a.IsRightAns:
				mark = MarkCorrect
			case a.ID == p.selected:
				mark = MarkIncorrectSelected
			default:
				mark = MarkDisabled
			}
		}
		decorations = append(decorations, Decoration{Answer: a, Mark: mark})
	}
	return decorations
}

// Check runs the server-side validation for a check-type question. Only one
// check may be in flight at a time; concurrent calls get ErrCheckInFlight.
// A transport failure is returned as an error, distinct from a CheckResult
// with Success=false (the command check itself failing).
func (p *Panel) Check(ctx context.Context) (*api.CheckResult, error) {
	p.mu.Lock()
	if p.q.TypeQuestion != api.QuestionTypeCheck {
		p.mu.Unlock()
		return nil, ErrNotCheckable
	}
	if p.checking {
		p.mu.Unlock()
		return nil, ErrCheckInFlight
	}
	p.checking = true
	questionID := p.q.ID
	p.mu.Unlock()

	result, err := p.checker.CheckQuestion(ctx, p.sessionID, questionID)

	p.mu.Lock()
	// Ignore a result that arrives after the panel moved on.
	stale := p.q.ID != questionID
	p.checking = false
	p.mu.Unlock()

	if stale {
		return nil, ErrCheckSuperseded
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
