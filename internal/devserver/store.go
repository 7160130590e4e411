// Package devserver is a self-contained emulation of the learning platform
// backend: the REST API, the terminal WebSocket and the session timer, backed
// by a local SQLite database and real shell processes. It exists so the
// client can be exercised end to end without a platform deployment.
package devserver

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/workspace/lab-client/internal/api"
)

// Session statuses.
const (
	SessionRunning   = "running"
	SessionFailed    = "failed"
	SessionSubmitted = "submitted"
)

// Session is one provisioned lab environment.
type Session struct {
	ID        int
	LabID     int
	UserID    int
	Status    string
	Deadline  time.Time
	CreatedAt time.Time
}

// Store is the SQLite-backed state of the dev platform.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenStore creates or opens the database at the given path. ":memory:"
// works for tests.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies schema migrations.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}

	for i := version; i < len(migrations); i++ {
		slog.Info("Applying devserver migration", "version", i+1)
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

// migrateV1 creates the catalog tables.
func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS courses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			short_description TEXT NOT NULL DEFAULT '',
			image TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS labs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			course_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			estimated_time INTEGER NOT NULL DEFAULT 30
		);
		CREATE INDEX IF NOT EXISTS idx_labs_course ON labs(course_id);
		CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lab_id INTEGER NOT NULL,
			question TEXT NOT NULL,
			hint TEXT NOT NULL DEFAULT '',
			solution TEXT NOT NULL DEFAULT '',
			type_question TEXT NOT NULL,
			check_cmd TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_questions_lab ON questions(lab_id);
		CREATE TABLE IF NOT EXISTS answers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			question_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			is_right_ans INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(question_id);
	`)
	return err
}

// migrateV2 creates the lab session table.
func migrateV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS lab_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lab_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			deadline TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	return err
}

// ListCourses returns one page of courses matching the query. Zero page and
// page size fall back to the server defaults.
func (s *Store) ListCourses(q api.CourseQuery) (*api.PaginatedCourses, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page := q.Page
	if page <= 0 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}

	where := "WHERE 1=1"
	var args []any
	if search := strings.TrimSpace(q.Search); search != "" {
		where += " AND (title LIKE ? OR description LIKE ?)"
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	if q.Category != "" && q.Category != "all" {
		where += " AND category = ?"
		args = append(args, q.Category)
	}
	if q.Level != "" && q.Level != "all" {
		where += " AND level = ?"
		args = append(args, q.Level)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM courses "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count courses: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT id, title, description, short_description, image, category, level, price FROM courses "+
			where+" ORDER BY id ASC LIMIT ? OFFSET ?",
		append(args, pageSize, (page-1)*pageSize)...,
	)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	courses := []api.Course{}
	for rows.Next() {
		var c api.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.ShortDescription, &c.Image, &c.Category, &c.Level, &c.Price); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	return &api.PaginatedCourses{
		Data:        courses,
		CurrentPage: page,
		TotalItems:  total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}, nil
}

// GetCourse returns a single course, or nil when it does not exist.
func (s *Store) GetCourse(id int) (*api.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCourseLocked(id)
}

func (s *Store) getCourseLocked(id int) (*api.Course, error) {
	var c api.Course
	err := s.db.QueryRow(
		"SELECT id, title, description, short_description, image, category, level, price FROM courses WHERE id = ?",
		id,
	).Scan(&c.ID, &c.Title, &c.Description, &c.ShortDescription, &c.Image, &c.Category, &c.Level, &c.Price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

// GetCourseDetail returns a course with its labs, or nil when it does not
// exist.
func (s *Store) GetCourseDetail(id int) (*api.CourseDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	course, err := s.getCourseLocked(id)
	if err != nil || course == nil {
		return nil, err
	}

	rows, err := s.db.Query("SELECT id, title, estimated_time FROM labs WHERE course_id = ? ORDER BY id ASC", id)
	if err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}
	defer rows.Close()

	detail := &api.CourseDetail{Course: *course, Labs: []api.Lab{}}
	for rows.Next() {
		var lab api.Lab
		if err := rows.Scan(&lab.ID, &lab.Title, &lab.EstimatedTime); err != nil {
			return nil, fmt.Errorf("scan lab: %w", err)
		}
		detail.Labs = append(detail.Labs, lab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labs: %w", err)
	}
	return detail, nil
}

// CreateCourse inserts a course and returns it with its assigned id.
func (s *Store) CreateCourse(req api.CreateCourseRequest) (*api.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"INSERT INTO courses (title, description, category, level, price) VALUES (?, ?, ?, ?, ?)",
		req.Title, req.Description, req.Category, req.Level, req.Price,
	)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("course id: %w", err)
	}
	return s.getCourseLocked(int(id))
}

// UpdateCourse applies a partial update and returns the updated course, or
// nil when the course does not exist.
func (s *Store) UpdateCourse(id int, req api.UpdateCourseRequest) (*api.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	course, err := s.getCourseLocked(id)
	if err != nil || course == nil {
		return nil, err
	}

	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Category != nil {
		course.Category = *req.Category
	}
	if req.Level != nil {
		course.Level = *req.Level
	}
	if req.Price != nil {
		course.Price = *req.Price
	}

	if _, err := s.db.Exec(
		"UPDATE courses SET title = ?, description = ?, category = ?, level = ?, price = ? WHERE id = ?",
		course.Title, course.Description, course.Category, course.Level, course.Price, id,
	); err != nil {
		return nil, fmt.Errorf("update course: %w", err)
	}
	return course, nil
}

// DeleteCourse removes a course and its labs. It reports whether the course
// existed.
func (s *Store) DeleteCourse(id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM courses WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete course: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete course: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM labs WHERE course_id = ?", id); err != nil {
		return false, fmt.Errorf("delete course labs: %w", err)
	}
	return affected > 0, nil
}

// GetLab returns a lab, or nil when it does not exist.
func (s *Store) GetLab(id int) (*api.Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lab api.Lab
	err := s.db.QueryRow("SELECT id, title, estimated_time FROM labs WHERE id = ?", id).
		Scan(&lab.ID, &lab.Title, &lab.EstimatedTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lab: %w", err)
	}
	return &lab, nil
}

// CreateLab inserts a lab under a course.
func (s *Store) CreateLab(courseID int, title string, estimatedTime int) (*api.Lab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"INSERT INTO labs (course_id, title, estimated_time) VALUES (?, ?, ?)",
		courseID, title, estimatedTime,
	)
	if err != nil {
		return nil, fmt.Errorf("insert lab: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("lab id: %w", err)
	}
	return &api.Lab{ID: int(id), Title: title, EstimatedTime: estimatedTime}, nil
}

// ListQuestions returns the questions of a lab with their answer options.
func (s *Store) ListQuestions(labID int) ([]api.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, question, hint, solution, type_question FROM questions WHERE lab_id = ? ORDER BY id ASC",
		labID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	questions := []api.Question{}
	for rows.Next() {
		var q api.Question
		if err := rows.Scan(&q.ID, &q.Question, &q.Hint, &q.Solution, &q.TypeQuestion); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}

	for i := range questions {
		answers, err := s.listAnswersLocked(questions[i].ID)
		if err != nil {
			return nil, err
		}
		questions[i].Answers = answers
	}
	return questions, nil
}

func (s *Store) listAnswersLocked(questionID int) ([]api.Answer, error) {
	rows, err := s.db.Query(
		"SELECT id, content, is_right_ans FROM answers WHERE question_id = ? ORDER BY id ASC",
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	answers := []api.Answer{}
	for rows.Next() {
		var a api.Answer
		if err := rows.Scan(&a.ID, &a.Content, &a.IsRightAns); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// CreateQuestion inserts a question with its options. checkCmd is the shell
// command the validation endpoint runs for check-type questions; it is never
// served to clients.
func (s *Store) CreateQuestion(labID int, q api.Question, checkCmd string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		"INSERT INTO questions (lab_id, question, hint, solution, type_question, check_cmd) VALUES (?, ?, ?, ?, ?, ?)",
		labID, q.Question, q.Hint, q.Solution, q.TypeQuestion, checkCmd,
	)
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("question id: %w", err)
	}
	for _, a := range q.Answers {
		if _, err := s.db.Exec(
			"INSERT INTO answers (question_id, content, is_right_ans) VALUES (?, ?, ?)",
			id, a.Content, a.IsRightAns,
		); err != nil {
			return 0, fmt.Errorf("insert answer: %w", err)
		}
	}
	return int(id), nil
}

// CheckCommand returns the validation command of a question, or "" when the
// question does not exist or has none.
func (s *Store) CheckCommand(questionID int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cmd string
	err := s.db.QueryRow("SELECT check_cmd FROM questions WHERE id = ?", questionID).Scan(&cmd)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get check command: %w", err)
	}
	return cmd, nil
}

// CreateSession provisions a session for a lab and returns it. The deadline
// is the lab's estimated time from now.
func (s *Store) CreateSession(labID, userID int, duration time.Duration) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	deadline := now.Add(duration)
	result, err := s.db.Exec(
		"INSERT INTO lab_sessions (lab_id, user_id, status, deadline, created_at) VALUES (?, ?, ?, ?, ?)",
		labID, userID, SessionRunning, deadline.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &Session{ID: int(id), LabID: labID, UserID: userID, Status: SessionRunning, Deadline: deadline, CreatedAt: now}, nil
}

// GetSession returns a session, or nil when it does not exist.
func (s *Store) GetSession(id int) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sess                Session
		deadline, createdAt string
	)
	err := s.db.QueryRow(
		"SELECT id, lab_id, user_id, status, deadline, created_at FROM lab_sessions WHERE id = ?",
		id,
	).Scan(&sess.ID, &sess.LabID, &sess.UserID, &sess.Status, &deadline, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.Deadline, err = time.Parse(time.RFC3339Nano, deadline); err != nil {
		return nil, fmt.Errorf("parse session deadline: %w", err)
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse session created_at: %w", err)
	}
	return &sess, nil
}

// SetSessionStatus updates a session's status.
func (s *Store) SetSessionStatus(id int, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("UPDATE lab_sessions SET status = ? WHERE id = ?", status, id); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// Seed fills an empty catalog with a small demo course so the server is
// usable out of the box. A non-empty catalog is left alone.
func (s *Store) Seed() error {
	s.mu.RLock()
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM courses").Scan(&count)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("count courses: %w", err)
	}
	if count > 0 {
		return nil
	}

	course, err := s.CreateCourse(api.CreateCourseRequest{
		Title:       "Linux Fundamentals",
		Description: "Working with files, processes and pipes on the command line.",
		Category:    "linux",
		Level:       "beginner",
		Price:       "0",
	})
	if err != nil {
		return err
	}
	lab, err := s.CreateLab(course.ID, "Files and directories", 30)
	if err != nil {
		return err
	}

	if _, err := s.CreateQuestion(lab.ID, api.Question{
		Question:     "Which command lists files including hidden ones?",
		Hint:         "The flag is short for \"all\".",
		TypeQuestion: api.QuestionTypeNonCheck,
		Answers: []api.Answer{
			{Content: "ls -la", IsRightAns: true},
			{Content: "ls -r"},
			{Content: "dir /a"},
		},
	}, ""); err != nil {
		return err
	}
	if _, err := s.CreateQuestion(lab.ID, api.Question{
		Question:     "Create an empty file at /tmp/lab-check",
		Hint:         "touch creates empty files.",
		Solution:     "touch /tmp/lab-check",
		TypeQuestion: api.QuestionTypeCheck,
	}, "test -f /tmp/lab-check"); err != nil {
		return err
	}
	return nil
}
