package question

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workspace/lab-client/internal/api"
)

func choiceQuestion() api.Question {
	return api.Question{
		ID:           1,
		Question:     "Which option is right?",
		TypeQuestion: api.QuestionTypeNonCheck,
		Answers: []api.Answer{
			{ID: 1, Content: "A", IsRightAns: false},
			{ID: 2, Content: "B", IsRightAns: true},
		},
	}
}

func checkQuestion() api.Question {
	return api.Question{
		ID:           5,
		Question:     "Create /tmp/flag",
		TypeQuestion: api.QuestionTypeCheck,
	}
}

// stubChecker lets tests control when the validation request finishes.
type stubChecker struct {
	mu      sync.Mutex
	calls   int
	result  *api.CheckResult
	err     error
	release chan struct{} // when non-nil, CheckQuestion blocks until closed
}

func (s *stubChecker) CheckQuestion(ctx context.Context, sessionID, questionID int) (*api.CheckResult, error) {
	s.mu.Lock()
	s.calls++
	release := s.release
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	return s.result, s.err
}

func TestSelectionLocksAndReveals(t *testing.T) {
	p := NewPanel(choiceQuestion(), 42, nil)

	for _, d := range p.Decorations() {
		assert.Equal(t, MarkNeutral, d.Mark)
	}

	// Pick the wrong answer.
	require.NoError(t, p.Select(1))
	assert.True(t, p.Answered())
	assert.False(t, p.Correct())

	decorations := p.Decorations()
	require.Len(t, decorations, 2)
	assert.Equal(t, MarkIncorrectSelected, decorations[0].Mark)
	assert.Equal(t, MarkCorrect, decorations[1].Mark, "the right answer is revealed")

	// Locked: no resubmission.
	assert.ErrorIs(t, p.Select(2), ErrLocked)
	assert.False(t, p.Correct())
}

func TestSelectUnknownOption(t *testing.T) {
	p := NewPanel(choiceQuestion(), 42, nil)
	assert.ErrorIs(t, p.Select(99), ErrUnknownOption)
	assert.False(t, p.Answered())
}

func TestSelectOnCheckQuestion(t *testing.T) {
	p := NewPanel(checkQuestion(), 42, nil)
	assert.Error(t, p.Select(1))
}

func TestCheckSuccessAndFailureAreDistinctFromErrors(t *testing.T) {
	checker := &stubChecker{result: &api.CheckResult{Success: false, Message: "file missing"}}
	p := NewPanel(checkQuestion(), 42, checker)

	result, err := p.Check(context.Background())
	require.NoError(t, err, "a failed check is not a transport error")
	assert.False(t, result.Success)
	assert.Equal(t, "file missing", result.Message)

	checker.result = &api.CheckResult{Success: true, Message: "well done"}
	result, err = p.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)

	checker.result = nil
	checker.err = errors.New("connection refused")
	_, err = p.Check(context.Background())
	require.Error(t, err)
}

func TestConcurrentCheckIsRejected(t *testing.T) {
	checker := &stubChecker{
		result:  &api.CheckResult{Success: true},
		release: make(chan struct{}),
	}
	p := NewPanel(checkQuestion(), 42, checker)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Check(context.Background())
	}()

	// Wait for the first check to be in flight.
	require.Eventually(t, func() bool {
		checker.mu.Lock()
		defer checker.mu.Unlock()
		return checker.calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err := p.Check(context.Background())
	assert.ErrorIs(t, err, ErrCheckInFlight)

	close(checker.release)
	<-done

	checker.mu.Lock()
	assert.Equal(t, 1, checker.calls, "second check never reached the server")
	checker.mu.Unlock()
}

func TestCheckOnChoiceQuestion(t *testing.T) {
	p := NewPanel(choiceQuestion(), 42, &stubChecker{})
	_, err := p.Check(context.Background())
	assert.ErrorIs(t, err, ErrNotCheckable)
}

func TestSetQuestionResetsState(t *testing.T) {
	p := NewPanel(choiceQuestion(), 42, nil)
	require.NoError(t, p.Select(2))
	require.True(t, p.Answered())

	next := choiceQuestion()
	next.ID = 2
	p.SetQuestion(next)

	assert.False(t, p.Answered(), "selection resets on question change")
	for _, d := range p.Decorations() {
		assert.Equal(t, MarkNeutral, d.Mark)
	}

	// Same id: state is kept.
	require.NoError(t, p.Select(1))
	p.SetQuestion(next)
	assert.True(t, p.Answered())
}

func TestCheckSupersededByQuestionChange(t *testing.T) {
	checker := &stubChecker{
		result:  &api.CheckResult{Success: true},
		release: make(chan struct{}),
	}
	p := NewPanel(checkQuestion(), 42, checker)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Check(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		checker.mu.Lock()
		defer checker.mu.Unlock()
		return checker.calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	other := checkQuestion()
	other.ID = 6
	p.SetQuestion(other)
	close(checker.release)

	assert.ErrorIs(t, <-errCh, ErrCheckSuperseded)
}
