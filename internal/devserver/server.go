package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/workspace/lab-client/internal/api"
)

// Options configures the dev platform server.
type Options struct {
	Addr  string
	Store *Store

	// Shell is the program run for terminal sessions. Defaults to /bin/bash.
	Shell string

	// SessionDuration overrides the per-lab estimated time as the countdown
	// length. Zero means use the lab's estimated time.
	SessionDuration time.Duration

	// TimerTick is the countdown broadcast interval. Defaults to one second.
	TimerTick time.Duration

	// ProvisionDelay is how long the terminal endpoint pretends to provision
	// before the shell starts.
	ProvisionDelay time.Duration

	// FailProvisioning makes every terminal connection end with the setup
	// failure close reason instead of starting a shell.
	FailProvisioning bool

	WSReadBufferSize  int
	WSWriteBufferSize int

	Logger *slog.Logger
}

// Server is the dev platform: REST API plus the terminal and timer sockets.
type Server struct {
	store      *Store
	logger     *slog.Logger
	httpServer *http.Server
	upgrader   websocket.Upgrader

	shell            string
	sessionDuration  time.Duration
	timerTick        time.Duration
	provisionDelay   time.Duration
	failProvisioning bool
}

// New creates the server. Call Start (or use Handler with httptest).
func New(opts Options) *Server {
	if opts.Shell == "" {
		opts.Shell = "/bin/bash"
	}
	if opts.TimerTick <= 0 {
		opts.TimerTick = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WSReadBufferSize <= 0 {
		opts.WSReadBufferSize = 1024
	}
	if opts.WSWriteBufferSize <= 0 {
		opts.WSWriteBufferSize = 1024
	}

	s := &Server{
		store:  opts.Store,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.WSReadBufferSize,
			WriteBufferSize: opts.WSWriteBufferSize,
			// Local dev tool: every origin is fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		shell:            opts.Shell,
		sessionDuration:  opts.SessionDuration,
		timerTick:        opts.TimerTick,
		provisionDelay:   opts.ProvisionDelay,
		failProvisioning: opts.FailProvisioning,
	}
	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/courses", s.handleListCourses)
	mux.HandleFunc("POST /api/courses", s.handleCreateCourse)
	mux.HandleFunc("GET /api/courses/{id}", s.handleGetCourse)
	mux.HandleFunc("GET /api/courses/{id}/detail", s.handleGetCourseDetail)
	mux.HandleFunc("PATCH /api/courses/{id}", s.handleUpdateCourse)
	mux.HandleFunc("DELETE /api/courses/{id}", s.handleDeleteCourse)

	mux.HandleFunc("GET /api/labs/{id}", s.handleGetLab)
	mux.HandleFunc("GET /api/labs/{id}/questions", s.handleListQuestions)

	mux.HandleFunc("POST /api/lab-sessions", s.handleCreateSession)
	mux.HandleFunc("POST /api/lab-sessions/{id}/submit", s.handleSubmitSession)
	mux.HandleFunc("POST /api/lab-validation/{sessionId}/check/{questionId}", s.handleCheckQuestion)

	mux.HandleFunc("GET /api/terminal/{id}", s.handleTerminalWS)
	mux.HandleFunc("GET /ws/lab-timer/{id}", s.handleTimerWS)

	return mux
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dev platform listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	q := api.CourseQuery{
		Search:   r.URL.Query().Get("search"),
		Category: r.URL.Query().Get("category"),
		Level:    r.URL.Query().Get("level"),
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.PageSize, _ = strconv.Atoi(r.URL.Query().Get("pageSize"))

	page, err := s.store.ListCourses(q)
	if err != nil {
		s.logger.Error("list courses", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list courses")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req api.CreateCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	course, err := s.store.CreateCourse(req)
	if err != nil {
		s.logger.Error("create course", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create course")
		return
	}
	writeJSON(w, http.StatusCreated, course)
}

func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	course, err := s.store.GetCourse(id)
	if err != nil {
		s.logger.Error("get course", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get course")
		return
	}
	if course == nil {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	writeJSON(w, http.StatusOK, course)
}

func (s *Server) handleGetCourseDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := s.store.GetCourseDetail(id)
	if err != nil {
		s.logger.Error("get course detail", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get course")
		return
	}
	if detail == nil {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req api.UpdateCourseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	course, err := s.store.UpdateCourse(id, req)
	if err != nil {
		s.logger.Error("update course", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update course")
		return
	}
	if course == nil {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	writeJSON(w, http.StatusOK, course)
}

func (s *Server) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	existed, err := s.store.DeleteCourse(id)
	if err != nil {
		s.logger.Error("delete course", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete course")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetLab(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	lab, err := s.store.GetLab(id)
	if err != nil {
		s.logger.Error("get lab", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get lab")
		return
	}
	if lab == nil {
		writeError(w, http.StatusNotFound, "lab not found")
		return
	}
	writeJSON(w, http.StatusOK, lab)
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	questions, err := s.store.ListQuestions(id)
	if err != nil {
		s.logger.Error("list questions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list questions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": questions})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LabID  int `json:"labId"`
		UserID int `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lab, err := s.store.GetLab(body.LabID)
	if err != nil {
		s.logger.Error("get lab for session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if lab == nil {
		writeError(w, http.StatusNotFound, "lab not found")
		return
	}

	duration := s.sessionDuration
	if duration <= 0 {
		duration = time.Duration(lab.EstimatedTime) * time.Minute
	}
	session, err := s.store.CreateSession(body.LabID, body.UserID, duration)
	if err != nil {
		s.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if s.failProvisioning {
		if err := s.store.SetSessionStatus(session.ID, SessionFailed); err != nil {
			s.logger.Error("mark session failed", "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sessionId": session.ID})
}

func (s *Server) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	session, err := s.store.GetSession(id)
	if err != nil {
		s.logger.Error("get session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to submit session")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := s.store.SetSessionStatus(id, SessionSubmitted); err != nil {
		s.logger.Error("submit session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to submit session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleCheckQuestion runs the question's validation command in a local
// shell. Exit code zero means the check passed; a non-zero exit is a failed
// check, not an HTTP error.
func (s *Server) handleCheckQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionId")
	if !ok {
		return
	}
	questionID, ok := pathID(w, r, "questionId")
	if !ok {
		return
	}

	session, err := s.store.GetSession(sessionID)
	if err != nil {
		s.logger.Error("get session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to run check")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	checkCmd, err := s.store.CheckCommand(questionID)
	if err != nil {
		s.logger.Error("get check command", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to run check")
		return
	}
	if checkCmd == "" {
		writeError(w, http.StatusBadRequest, "question has no check")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "sh", "-c", checkCmd).Run(); err != nil {
		s.logger.Info("check failed", "session", sessionID, "question", questionID, "error", err)
		writeJSON(w, http.StatusOK, api.CheckResult{
			Success: false,
			Message: "Check failed. Review the task and try again.",
		})
		return
	}
	writeJSON(w, http.StatusOK, api.CheckResult{Success: true, Message: "Well done!"})
}

// pathID parses a numeric path segment, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
