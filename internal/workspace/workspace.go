// Package workspace coordinates one open lab session: it loads the lab and
// its questions, tracks which question is shown and owns the single
// submission of the session.
package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/workspace/lab-client/internal/api"
)

// API is the slice of the platform client the controller needs.
// *api.Client satisfies it.
type API interface {
	GetLab(ctx context.Context, labID int) (*api.Lab, error)
	ListQuestions(ctx context.Context, labID int) ([]api.Question, error)
	SubmitLabSession(ctx context.Context, sessionID int) error
}

var (
	// ErrSubmitInFlight means a submission request is already running.
	ErrSubmitInFlight = errors.New("workspace: submit already in flight")
	// ErrAlreadySubmitted means the session was submitted before.
	ErrAlreadySubmitted = errors.New("workspace: session already submitted")
	// ErrNotLoaded means Load has not completed yet.
	ErrNotLoaded = errors.New("workspace: lab not loaded")
)

// Options configures a Controller.
type Options struct {
	LabID     int
	SessionID int
	API       API
	Logger    *slog.Logger

	// Confirm is asked before a manual submission. Nil means always yes.
	Confirm func() bool
	// OnResult fires once the session is submitted, whether or not the
	// submission request itself succeeded.
	OnResult func()
}

// Controller is the state of one lab workspace.
type Controller struct {
	labID     int
	sessionID int
	client    API
	logger    *slog.Logger
	confirm   func() bool
	onResult  func()

	mu         sync.Mutex
	lab        *api.Lab
	questions  []api.Question
	index      int
	submitting bool
	submitted  bool
}

// New creates a workspace controller. Call Load before using the accessors.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		labID:     opts.LabID,
		sessionID: opts.SessionID,
		client:    opts.API,
		logger:    opts.Logger,
		confirm:   opts.Confirm,
		onResult:  opts.OnResult,
	}
}

// Load fetches the lab and its question list concurrently. Either failure
// fails the load; the terminal and timer clients run independently of it.
func (c *Controller) Load(ctx context.Context) error {
	var (
		lab       *api.Lab
		questions []api.Question
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lab, err = c.client.GetLab(ctx, c.labID)
		return err
	})
	g.Go(func() error {
		var err error
		questions, err = c.client.ListQuestions(ctx, c.labID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	c.lab = lab
	c.questions = questions
	c.index = 0
	c.mu.Unlock()
	return nil
}

// Lab returns the loaded lab metadata.
func (c *Controller) Lab() (*api.Lab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lab == nil {
		return nil, ErrNotLoaded
	}
	return c.lab, nil
}

// Questions returns the loaded question list.
func (c *Controller) Questions() []api.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.questions
}

// Current returns the question at the navigation index, or false when the
// lab has no questions.
func (c *Controller) Current() (api.Question, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.questions) == 0 {
		return api.Question{}, false
	}
	return c.questions[c.index], true
}

// Index returns the current question index.
func (c *Controller) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Next advances to the next question. The index clamps at the last question,
// it never wraps around.
func (c *Controller) Next() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index < len(c.questions)-1 {
		c.index++
	}
}

// Prev moves to the previous question, clamping at the first.
func (c *Controller) Prev() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index > 0 {
		c.index--
	}
}

// Submit ends the session after asking for confirmation. At most one
// submission runs at a time and a session is only ever submitted once.
func (c *Controller) Submit(ctx context.Context) error {
	if c.confirm != nil && !c.confirm() {
		return nil
	}
	return c.submit(ctx)
}

// WatchExpiry submits the session as soon as expired fires. The context
// stops the watch without submitting.
func (c *Controller) WatchExpiry(ctx context.Context, expired <-chan struct{}) {
	go func() {
		select {
		case <-ctx.Done():
		case <-expired:
			if err := c.submit(ctx); err != nil {
				c.logger.Warn("auto submit skipped", "session", c.sessionID, "error", err)
			}
		}
	}()
}

// Submitted reports whether the session has been submitted.
func (c *Controller) Submitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted
}

func (c *Controller) submit(ctx context.Context) error {
	c.mu.Lock()
	if c.submitted {
		c.mu.Unlock()
		return ErrAlreadySubmitted
	}
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	c.submitting = true
	c.mu.Unlock()

	err := c.client.SubmitLabSession(ctx, c.sessionID)

	c.mu.Lock()
	c.submitting = false
	c.submitted = true
	c.mu.Unlock()

	// The session is over either way; a failed submission is only logged
	// and the user still lands on the result view.
	if err != nil {
		c.logger.Error("submit lab session", "session", c.sessionID, "error", err)
	}
	if c.onResult != nil {
		c.onResult()
	}
	return nil
}
