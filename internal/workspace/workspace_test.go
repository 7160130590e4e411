package workspace

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

type stubAPI struct {
	mu sync.Mutex

	lab    *api.Lab
	labErr error

	questions    []api.Question
	questionsErr error

	submitErr error
	submits   int
	release   chan struct{} // when non-nil, SubmitLabSession blocks until closed
}

func (s *stubAPI) GetLab(ctx context.Context, labID int) (*api.Lab, error) {
	return s.lab, s.labErr
}

func (s *stubAPI) ListQuestions(ctx context.Context, labID int) ([]api.Question, error) {
	return s.questions, s.questionsErr
}

func (s *stubAPI) SubmitLabSession(ctx context.Context, sessionID int) error {
	s.mu.Lock()
	s.submits++
	release := s.release
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	return s.submitErr
}

func (s *stubAPI) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

func threeQuestions() []api.Question {
	return []api.Question{
		{ID: 1, Question: "first"},
		{ID: 2, Question: "second"},
		{ID: 3, Question: "third"},
	}
}

func TestLoadFetchesLabAndQuestions(t *testing.T) {
	stub := &stubAPI{
		lab:       &api.Lab{ID: 3, Title: "Intro to pipes", EstimatedTime: 30},
		questions: threeQuestions(),
	}
	c := New(Options{LabID: 3, SessionID: 9, API: stub})

	_, err := c.Lab()
	assert.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, c.Load(context.Background()))

	lab, err := c.Lab()
	require.NoError(t, err)
	assert.Equal(t, "Intro to pipes", lab.Title)
	assert.Len(t, c.Questions(), 3)

	q, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, 1, q.ID)
}

func TestLoadFailsWhenEitherFetchFails(t *testing.T) {
	stub := &stubAPI{
		lab:          &api.Lab{ID: 3},
		questionsErr: errors.New("boom"),
	}
	c := New(Options{LabID: 3, SessionID: 9, API: stub})
	require.Error(t, c.Load(context.Background()))

	stub = &stubAPI{
		labErr:    errors.New("boom"),
		questions: threeQuestions(),
	}
	c = New(Options{LabID: 3, SessionID: 9, API: stub})
	require.Error(t, c.Load(context.Background()))
}

func TestNavigationClampsAtBothEnds(t *testing.T) {
	stub := &stubAPI{lab: &api.Lab{ID: 3}, questions: threeQuestions()}
	c := New(Options{LabID: 3, SessionID: 9, API: stub})
	require.NoError(t, c.Load(context.Background()))

	c.Prev()
	assert.Equal(t, 0, c.Index(), "no wrap below zero")

	c.Next()
	c.Next()
	assert.Equal(t, 2, c.Index())

	c.Next()
	assert.Equal(t, 2, c.Index(), "no wrap past the last question")

	c.Prev()
	assert.Equal(t, 1, c.Index())
}

func TestCurrentWithNoQuestions(t *testing.T) {
	stub := &stubAPI{lab: &api.Lab{ID: 3}}
	c := New(Options{LabID: 3, SessionID: 9, API: stub})
	require.NoError(t, c.Load(context.Background()))

	_, ok := c.Current()
	assert.False(t, ok)
	c.Next() // must not panic
	assert.Equal(t, 0, c.Index())
}

func TestSubmitHonorsConfirm(t *testing.T) {
	stub := &stubAPI{}
	c := New(Options{SessionID: 9, API: stub, Confirm: func() bool { return false }})

	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, 0, stub.submitCount(), "declined confirmation never reaches the server")
	assert.False(t, c.Submitted())
}

func TestSubmitReachesResultEvenOnFailure(t *testing.T) {
	stub := &stubAPI{submitErr: errors.New("503 from the platform")}
	resultShown := false
	c := New(Options{SessionID: 9, API: stub, OnResult: func() { resultShown = true }})

	require.NoError(t, c.Submit(context.Background()))
	assert.True(t, resultShown, "the result view opens regardless of the submit outcome")
	assert.True(t, c.Submitted())
}

func TestSubmitOnlyOnce(t *testing.T) {
	stub := &stubAPI{}
	c := New(Options{SessionID: 9, API: stub})

	require.NoError(t, c.Submit(context.Background()))
	assert.ErrorIs(t, c.Submit(context.Background()), ErrAlreadySubmitted)
	assert.Equal(t, 1, stub.submitCount())
}

func TestConcurrentSubmitIsRejected(t *testing.T) {
	stub := &stubAPI{release: make(chan struct{})}
	c := New(Options{SessionID: 9, API: stub})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Submit(context.Background())
	}()

	require.Eventually(t, func() bool {
		return stub.submitCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, c.Submit(context.Background()), ErrSubmitInFlight)

	close(stub.release)
	<-done
	assert.Equal(t, 1, stub.submitCount())
}

func TestExpiryTriggersAutoSubmitOnce(t *testing.T) {
	stub := &stubAPI{}
	results := 0
	c := New(Options{SessionID: 9, API: stub, OnResult: func() { results++ }})

	expired := make(chan struct{})
	c.WatchExpiry(context.Background(), expired)
	close(expired)

	require.Eventually(t, func() bool { return c.Submitted() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, stub.submitCount())
	assert.Equal(t, 1, results)

	// A manual submit after expiry does not submit again.
	assert.ErrorIs(t, c.Submit(context.Background()), ErrAlreadySubmitted)
	assert.Equal(t, 1, stub.submitCount())
}

func TestWatchExpiryStopsOnContextCancel(t *testing.T) {
	stub := &stubAPI{}
	c := New(Options{SessionID: 9, API: stub})

	ctx, cancel := context.WithCancel(context.Background())
	expired := make(chan struct{})
	c.WatchExpiry(ctx, expired)
	cancel()

	time.Sleep(50 * time.Millisecond)
	close(expired)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, stub.submitCount())
	assert.False(t, c.Submitted())
}
