package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, 5*time.Second)
}

func TestListCoursesPage(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/courses", r.URL.Path)
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(PaginatedCourses{
			Data:        []Course{{ID: 1, Title: "Linux Basics"}},
			CurrentPage: 2,
			TotalItems:  11,
			TotalPages:  6,
			HasNext:     true,
			HasPrevious: true,
		})
	})

	page, err := client.ListCoursesPage(context.Background(), CourseQuery{
		Page:     2,
		PageSize: 2,
		Search:   "  linux ",
		Category: "all", // "all" means no filter and must be omitted
		Level:    "beginner",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, page.CurrentPage)
	assert.Len(t, page.Data, 1)
	assert.Contains(t, gotQuery, "page=2")
	assert.Contains(t, gotQuery, "pageSize=2")
	assert.Contains(t, gotQuery, "search=linux")
	assert.Contains(t, gotQuery, "level=beginner")
	assert.NotContains(t, gotQuery, "category")
}

func TestListQuestionsUnwrapsEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/labs/7/questions", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":1,"question":"What is 2+2?","typeQuestion":"non-check","answers":[{"id":10,"content":"4","isRightAns":true}]}]}`))
	})

	questions, err := client.ListQuestions(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, QuestionTypeNonCheck, questions[0].TypeQuestion)
	assert.True(t, questions[0].Answers[0].IsRightAns)
}

func TestCreateLabSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/lab-sessions", r.URL.Path)

		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 3, body["labId"])
		assert.Equal(t, 1, body["userId"])

		_, _ = w.Write([]byte(`{"sessionId":42}`))
	})

	sessionID, err := client.CreateLabSession(context.Background(), 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 42, sessionID)
}

func TestCreateLabSessionMissingID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.CreateLabSession(context.Background(), 3, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sessionId")
}

func TestStatusErrorCarriesServerMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"lab is already running"}`))
	})

	_, err := client.CreateLabSession(context.Background(), 3, 1)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusConflict, statusErr.StatusCode)
	assert.Contains(t, statusErr.Message, "already running")
}

func TestCheckQuestion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/lab-validation/42/check/9", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"message":"file exists"}`))
	})

	result, err := client.CheckQuestion(context.Background(), 42, 9)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "file exists", result.Message)
}

func TestDeleteCourse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/courses/5", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.DeleteCourse(context.Background(), 5))
}
