// Lab client - terminal access to learning platform lab sessions
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workspace/lab-client/internal/api"
	"github.com/workspace/lab-client/internal/config"
	"github.com/workspace/lab-client/internal/devserver"
	"github.com/workspace/lab-client/internal/logging"
	"github.com/workspace/lab-client/internal/question"
	"github.com/workspace/lab-client/internal/terminal"
	"github.com/workspace/lab-client/internal/timer"
	"github.com/workspace/lab-client/internal/workspace"
)

const usage = `Usage: lab-client <command> [flags]

Commands:
  courses     list courses (paginated, filterable)
  questions   show the questions of a lab
  start       provision a lab session and attach to it
  attach      attach to an existing lab session
  check       run the server-side check of a question
  submit      submit a lab session for grading
  devserver   run the local development platform
`

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var cmdErr error
	switch os.Args[1] {
	case "courses":
		cmdErr = runCourses(cfg, os.Args[2:])
	case "questions":
		cmdErr = runQuestions(cfg, os.Args[2:])
	case "start":
		cmdErr = runStart(cfg, os.Args[2:])
	case "attach":
		cmdErr = runAttach(cfg, os.Args[2:])
	case "check":
		cmdErr = runCheck(cfg, os.Args[2:])
	case "submit":
		cmdErr = runSubmit(cfg, os.Args[2:])
	case "devserver":
		cmdErr = runDevServer(cfg, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if cmdErr != nil {
		log.Fatalf("%v", cmdErr)
	}
}

func runCourses(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("courses", flag.ExitOnError)
	page := fs.Int("page", 1, "page number")
	pageSize := fs.Int("page-size", 10, "courses per page")
	search := fs.String("search", "", "search in title and description")
	category := fs.String("category", "all", "category filter")
	level := fs.String("level", "all", "level filter")
	_ = fs.Parse(args)

	client := api.New(cfg.ServerURL, cfg.HTTPTimeout)
	result, err := client.ListCoursesPage(context.Background(), api.CourseQuery{
		Page:     *page,
		PageSize: *pageSize,
		Search:   *search,
		Category: *category,
		Level:    *level,
	})
	if err != nil {
		return err
	}

	for _, course := range result.Data {
		fmt.Printf("%4d  %-40s  %-12s  %s\n", course.ID, course.Title, course.Category, course.Level)
	}
	fmt.Printf("\npage %d of %d (%d courses)\n", result.CurrentPage, result.TotalPages, result.TotalItems)
	return nil
}

func runQuestions(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("questions", flag.ExitOnError)
	labID := fs.Int("lab", 0, "lab id")
	sessionID := fs.Int("session", 0, "lab session id (enables answering and checks)")
	showHints := fs.Bool("hints", false, "show hints")
	_ = fs.Parse(args)
	if *labID <= 0 {
		return fmt.Errorf("questions: -lab is required")
	}

	client := api.New(cfg.ServerURL, cfg.HTTPTimeout)
	if *sessionID > 0 {
		return runQuestionLoop(client, *labID, *sessionID)
	}

	questions, err := client.ListQuestions(context.Background(), *labID)
	if err != nil {
		return err
	}
	for i, q := range questions {
		fmt.Printf("%d. [%s] %s\n", i+1, q.TypeQuestion, q.Question)
		for _, a := range q.Answers {
			fmt.Printf("     (%d) %s\n", a.ID, a.Content)
		}
		if *showHints && q.Hint != "" {
			fmt.Printf("     hint: %s\n", q.Hint)
		}
	}
	return nil
}

// runQuestionLoop is the interactive answer/check flow for one session.
func runQuestionLoop(client *api.Client, labID, sessionID int) error {
	ctx := context.Background()
	stdin := bufio.NewScanner(os.Stdin)
	confirm := func() bool {
		fmt.Print("submit the lab session? [y/N] ")
		return stdin.Scan() && strings.EqualFold(strings.TrimSpace(stdin.Text()), "y")
	}

	ctrl := workspace.New(workspace.Options{
		LabID:     labID,
		SessionID: sessionID,
		API:       client,
		Confirm:   confirm,
		OnResult: func() {
			fmt.Printf("lab session %d submitted\n", sessionID)
		},
	})
	if err := ctrl.Load(ctx); err != nil {
		return err
	}
	current, ok := ctrl.Current()
	if !ok {
		fmt.Println("this lab has no questions")
		return nil
	}
	panel := question.NewPanel(current, sessionID, client)

	for {
		printQuestion(ctrl.Index(), panel)
		fmt.Print("> ")
		if !stdin.Scan() {
			return stdin.Err()
		}
		input := strings.TrimSpace(stdin.Text())

		switch input {
		case "n", "next":
			ctrl.Next()
		case "p", "prev":
			ctrl.Prev()
		case "h", "hint":
			fmt.Printf("hint: %s\n\n", panel.Question().Hint)
			continue
		case "s", "solution":
			fmt.Printf("solution: %s\n\n", panel.Question().Solution)
			continue
		case "c", "check":
			result, err := panel.Check(ctx)
			if err != nil {
				fmt.Printf("check error: %v\n\n", err)
			} else if result.Success {
				fmt.Printf("PASS: %s\n\n", result.Message)
			} else {
				fmt.Printf("FAIL: %s\n\n", result.Message)
			}
			continue
		case "submit":
			if err := ctrl.Submit(ctx); err != nil {
				fmt.Printf("submit: %v\n\n", err)
			}
			if ctrl.Submitted() {
				return nil
			}
			continue
		case "q", "quit":
			return nil
		case "":
			continue
		default:
			answerID, err := strconv.Atoi(input)
			if err != nil {
				fmt.Println("commands: <option id>, check, hint, solution, next, prev, submit, quit")
				continue
			}
			if err := panel.Select(answerID); err != nil {
				fmt.Printf("select: %v\n\n", err)
				continue
			}
			if panel.Correct() {
				fmt.Print("correct!\n\n")
			} else {
				fmt.Print("not quite; the right answer is now highlighted\n\n")
			}
			continue
		}

		if q, ok := ctrl.Current(); ok {
			panel.SetQuestion(q)
		}
	}
}

func printQuestion(index int, panel *question.Panel) {
	q := panel.Question()
	fmt.Printf("question %d [%s]: %s\n", index+1, q.TypeQuestion, q.Question)
	for _, d := range panel.Decorations() {
		mark := " "
		switch d.Mark {
		case question.MarkCorrect:
			mark = "✓"
		case question.MarkIncorrectSelected:
			mark = "✗"
		case question.MarkDisabled:
			mark = "-"
		}
		fmt.Printf("  [%s] (%d) %s\n", mark, d.Answer.ID, d.Answer.Content)
	}
}

func runStart(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	labID := fs.Int("lab", 0, "lab id")
	userID := fs.Int("user", cfg.UserID, "user id")
	detach := fs.Bool("detach", false, "create the session but do not attach")
	_ = fs.Parse(args)
	if *labID <= 0 {
		return fmt.Errorf("start: -lab is required")
	}

	client := api.New(cfg.ServerURL, cfg.HTTPTimeout)
	sessionID, err := client.CreateLabSession(context.Background(), *labID, *userID)
	if err != nil {
		return err
	}
	fmt.Printf("lab session %d created\n", sessionID)
	if *detach {
		return nil
	}
	return runSession(cfg, client, *labID, sessionID)
}

func runAttach(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	sessionID := fs.Int("session", 0, "lab session id")
	labID := fs.Int("lab", 0, "lab id (enables question/lab loading)")
	_ = fs.Parse(args)
	if *sessionID <= 0 {
		return fmt.Errorf("attach: -session is required")
	}

	client := api.New(cfg.ServerURL, cfg.HTTPTimeout)
	return runSession(cfg, client, *labID, *sessionID)
}

func runCheck(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	sessionID := fs.Int("session", 0, "lab session id")
	questionID := fs.Int("question", 0, "question id")
	_ = fs.Parse(args)
	if *sessionID <= 0 || *questionID <= 0 {
		return fmt.Errorf("check: -session and -question are required")
	}

	client := api.New(cfg.ServerURL, cfg.HTTPTimeout)
	result, err := client.CheckQuestion(context.Background(), *sessionID, *questionID)
	if err != nil {
		return err
	}
	if result.Success {
		fmt.Printf("PASS: %s\n", result.Message)
	} else {
		fmt.Printf("FAIL: %s\n", result.Message)
	}
	return nil
}

func runSubmit(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	sessionID := fs.Int("session", 0, "lab session id")
	_ = fs.Parse(args)
	if *sessionID <= 0 {
		return fmt.Errorf("submit: -session is required")
	}

	client := api.New(cfg.ServerURL, cfg.HTTPTimeout)
	if err := client.SubmitLabSession(context.Background(), *sessionID); err != nil {
		return err
	}
	fmt.Printf("lab session %d submitted\n", *sessionID)
	return nil
}

// runSession attaches the local terminal to a lab session: the shell socket,
// the countdown socket and the auto-submit on expiry.
func runSession(cfg *config.Config, client *api.Client, labID, sessionID int) error {
	logger := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := workspace.New(workspace.Options{
		LabID:     labID,
		SessionID: sessionID,
		API:       client,
		Logger:    logger,
		OnResult: func() {
			logger.Info("lab session submitted", "session", sessionID)
		},
	})
	if labID > 0 {
		if err := ctrl.Load(ctx); err != nil {
			// The terminal still works without the lab metadata.
			logger.Warn("loading lab metadata failed", "lab", labID, "error", err)
		} else if lab, err := ctrl.Lab(); err == nil {
			fmt.Printf("attaching to %q (%d questions, ~%d min)\n",
				lab.Title, len(ctrl.Questions()), lab.EstimatedTime)
		}
	}

	countdown := timer.New(timer.Options{
		SessionID: sessionID,
		WSBaseURL: cfg.WSBaseURL,
		Logger:    logger,
		OnDisplay: func(display string) {
			// The terminal runs raw; surface the countdown in the window title.
			fmt.Fprintf(os.Stdout, "\x1b]0;lab %d - %s\x07", sessionID, display)
		},
	})
	if err := countdown.Start(); err != nil {
		logger.Warn("timer unavailable", "session", sessionID, "error", err)
	}
	defer countdown.Close()
	ctrl.WatchExpiry(ctx, countdown.Expired())

	tty, err := terminal.OpenTTY()
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer tty.Close()

	resize, stopResize := terminal.ResizeEvents()
	defer stopResize()

	failed := make(chan struct{})
	session := terminal.New(terminal.Options{
		SessionID:   sessionID,
		WSBaseURL:   cfg.WSBaseURL,
		NewSurface:  tty.NewSurface,
		Keys:        tty,
		Resize:      resize,
		MaxAttempts: cfg.ReconnectMaxAttempts,
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxDelay:    cfg.ReconnectMaxDelay,
		Dialer:      newDialer(cfg),
		Logger:      logger,
		OnState: func(s terminal.State) {
			if s == terminal.StateFailed {
				close(failed)
			}
		},
	})
	if err := session.Start(); err != nil {
		return err
	}
	defer session.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		logger.Info("detaching from lab session", "session", sessionID)
	case <-failed:
		_ = tty.Close()
		return fmt.Errorf("lab session %d is unavailable", sessionID)
	case <-countdown.Expired():
		// Give the auto-submit a moment, then leave.
		waitFor(ctrl.Submitted, 5*time.Second)
		_ = tty.Close()
		fmt.Printf("\ntime is up; lab session %d closed\n", sessionID)
	}
	return nil
}

func runDevServer(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("devserver", flag.ExitOnError)
	addr := fs.String("addr", fmt.Sprintf("%s:%d", cfg.DevHost, cfg.DevPort), "listen address")
	dbPath := fs.String("db", cfg.DevDBPath, "sqlite database path")
	seed := fs.Bool("seed", true, "seed an empty catalog with demo data")
	_ = fs.Parse(args)

	store, err := devserver.OpenStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if *seed {
		if err := store.Seed(); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	srv := devserver.New(devserver.Options{
		Addr:              *addr,
		Store:             store,
		Shell:             cfg.DevShell,
		SessionDuration:   time.Duration(cfg.DevLabMinutes) * time.Minute,
		WSReadBufferSize:  cfg.WSReadBufferSize,
		WSWriteBufferSize: cfg.WSWriteBufferSize,
		Logger:            slog.Default(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx)
}

// newDialer applies the configured handshake timeout and buffer sizes.
func newDialer(cfg *config.Config) *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: cfg.WSHandshakeTimeout,
		ReadBufferSize:   cfg.WSReadBufferSize,
		WriteBufferSize:  cfg.WSWriteBufferSize,
	}
}

// waitFor polls a condition for up to the given duration.
func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
