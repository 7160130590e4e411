package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the platform REST API. The zero value is not usable;
// construct with New.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the given base URL (e.g. "http://localhost:8080").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// apiError is the error envelope the platform returns on non-2xx responses.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusError is returned when the server responds with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
}

// ListCourses fetches the full course list without pagination.
func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	var envelope struct {
		Data []Course `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/courses", nil, &envelope); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return envelope.Data, nil
}

// ListCoursesPage fetches one page of courses with optional search and filters.
func (c *Client) ListCoursesPage(ctx context.Context, q CourseQuery) (*PaginatedCourses, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		params.Set("search", s)
	}
	if q.Category != "" && q.Category != "all" {
		params.Set("category", q.Category)
	}
	if q.Level != "" && q.Level != "all" {
		params.Set("level", q.Level)
	}

	path := "/api/courses"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page PaginatedCourses
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("list courses page: %w", err)
	}
	return &page, nil
}

// GetCourse fetches a single course by id.
func (c *Client) GetCourse(ctx context.Context, id int) (*Course, error) {
	var course Course
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/courses/%d", id), nil, &course); err != nil {
		return nil, fmt.Errorf("get course %d: %w", id, err)
	}
	return &course, nil
}

// GetCourseDetail fetches a course together with its lab curriculum.
func (c *Client) GetCourseDetail(ctx context.Context, id int) (*CourseDetail, error) {
	var detail CourseDetail
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/courses/%d/detail", id), nil, &detail); err != nil {
		return nil, fmt.Errorf("get course detail %d: %w", id, err)
	}
	return &detail, nil
}

// CreateCourse creates a new course.
func (c *Client) CreateCourse(ctx context.Context, req CreateCourseRequest) (*Course, error) {
	var course Course
	if err := c.do(ctx, http.MethodPost, "/api/courses", req, &course); err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}
	return &course, nil
}

// UpdateCourse applies a partial update to an existing course.
func (c *Client) UpdateCourse(ctx context.Context, id int, req UpdateCourseRequest) (*Course, error) {
	var course Course
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/courses/%d", id), req, &course); err != nil {
		return nil, fmt.Errorf("update course %d: %w", id, err)
	}
	return &course, nil
}

// DeleteCourse removes a course.
func (c *Client) DeleteCourse(ctx context.Context, id int) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/courses/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete course %d: %w", id, err)
	}
	return nil
}

// GetLab fetches lab metadata by lab id.
func (c *Client) GetLab(ctx context.Context, labID int) (*Lab, error) {
	var lab Lab
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/labs/%d", labID), nil, &lab); err != nil {
		return nil, fmt.Errorf("get lab %d: %w", labID, err)
	}
	return &lab, nil
}

// ListQuestions fetches the question set for a lab.
func (c *Client) ListQuestions(ctx context.Context, labID int) ([]Question, error) {
	var envelope struct {
		Data []Question `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/labs/%d/questions", labID), nil, &envelope); err != nil {
		return nil, fmt.Errorf("list questions for lab %d: %w", labID, err)
	}
	return envelope.Data, nil
}

// CreateLabSession asks the platform to provision a lab environment and
// returns the new session id.
func (c *Client) CreateLabSession(ctx context.Context, labID, userID int) (int, error) {
	req := map[string]int{"labId": labID, "userId": userID}
	var resp struct {
		SessionID int `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/lab-sessions", req, &resp); err != nil {
		return 0, fmt.Errorf("create lab session: %w", err)
	}
	if resp.SessionID == 0 {
		return 0, fmt.Errorf("create lab session: server returned no sessionId")
	}
	return resp.SessionID, nil
}

// SubmitLabSession submits a lab session for grading. The caller treats this
// as best-effort: a failure is reported but does not block leaving the lab.
func (c *Client) SubmitLabSession(ctx context.Context, sessionID int) error {
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/lab-sessions/%d/submit", sessionID), nil, nil); err != nil {
		return fmt.Errorf("submit lab session %d: %w", sessionID, err)
	}
	return nil
}

// CheckQuestion runs the server-side validation for a check-type question.
func (c *Client) CheckQuestion(ctx context.Context, sessionID, questionID int) (*CheckResult, error) {
	var result CheckResult
	path := fmt.Sprintf("/api/lab-validation/%d/check/%d", sessionID, questionID)
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, fmt.Errorf("check question %d: %w", questionID, err)
	}
	return &result, nil
}

// do issues one request and decodes the JSON response into out (when non-nil).
// Non-2xx responses become a *StatusError carrying the server's error message
// when one is present in the body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var envelope apiError
		if jsonErr := json.Unmarshal(data, &envelope); jsonErr == nil {
			if envelope.Error != "" {
				statusErr.Message = envelope.Error
			} else if envelope.Message != "" {
				statusErr.Message = envelope.Message
			}
		}
		return statusErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
