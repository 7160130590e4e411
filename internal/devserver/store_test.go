package devserver

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workspace/lab-client/internal/api"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "dev.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCourseCRUD(t *testing.T) {
	store := openTestStore(t)

	course, err := store.CreateCourse(api.CreateCourseRequest{
		Title:    "Networking Basics",
		Category: "networking",
		Level:    "beginner",
		Price:    "0",
	})
	require.NoError(t, err)
	require.NotZero(t, course.ID)

	got, err := store.GetCourse(course.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Networking Basics", got.Title)

	newTitle := "Networking Fundamentals"
	updated, err := store.UpdateCourse(course.ID, api.UpdateCourseRequest{Title: &newTitle})
	require.NoError(t, err)
	assert.Equal(t, newTitle, updated.Title)
	assert.Equal(t, "networking", updated.Category, "unset fields keep their value")

	existed, err := store.DeleteCourse(course.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	got, err = store.GetCourse(course.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	existed, err = store.DeleteCourse(course.ID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestUpdateMissingCourse(t *testing.T) {
	store := openTestStore(t)
	title := "x"
	course, err := store.UpdateCourse(999, api.UpdateCourseRequest{Title: &title})
	require.NoError(t, err)
	assert.Nil(t, course)
}

func TestListCoursesPaginationAndFilters(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 12; i++ {
		level := "beginner"
		if i%2 == 1 {
			level = "advanced"
		}
		_, err := store.CreateCourse(api.CreateCourseRequest{
			Title:    "Course " + string(rune('A'+i)),
			Category: "linux",
			Level:    level,
		})
		require.NoError(t, err)
	}

	page, err := store.ListCourses(api.CourseQuery{Page: 1, PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, page.Data, 5)
	assert.Equal(t, 12, page.TotalItems)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrevious)

	page, err = store.ListCourses(api.CourseQuery{Page: 3, PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.False(t, page.HasNext)
	assert.True(t, page.HasPrevious)

	page, err = store.ListCourses(api.CourseQuery{Level: "advanced"})
	require.NoError(t, err)
	assert.Equal(t, 6, page.TotalItems)

	// "all" means no filter.
	page, err = store.ListCourses(api.CourseQuery{Level: "all", Category: "all"})
	require.NoError(t, err)
	assert.Equal(t, 12, page.TotalItems)

	page, err = store.ListCourses(api.CourseQuery{Search: "Course B"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.TotalItems)
}

func TestLabAndQuestions(t *testing.T) {
	store := openTestStore(t)

	course, err := store.CreateCourse(api.CreateCourseRequest{Title: "c"})
	require.NoError(t, err)
	lab, err := store.CreateLab(course.ID, "Pipes", 45)
	require.NoError(t, err)

	_, err = store.CreateQuestion(lab.ID, api.Question{
		Question:     "pick one",
		TypeQuestion: api.QuestionTypeNonCheck,
		Answers: []api.Answer{
			{Content: "right", IsRightAns: true},
			{Content: "wrong"},
		},
	}, "")
	require.NoError(t, err)
	checkID, err := store.CreateQuestion(lab.ID, api.Question{
		Question:     "make a file",
		TypeQuestion: api.QuestionTypeCheck,
	}, "test -f /tmp/x")
	require.NoError(t, err)

	got, err := store.GetLab(lab.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, got.EstimatedTime)

	detail, err := store.GetCourseDetail(course.ID)
	require.NoError(t, err)
	require.Len(t, detail.Labs, 1)
	assert.Equal(t, "Pipes", detail.Labs[0].Title)

	questions, err := store.ListQuestions(lab.ID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Len(t, questions[0].Answers, 2)
	assert.True(t, questions[0].Answers[0].IsRightAns)
	assert.Empty(t, questions[1].Answers)

	cmd, err := store.CheckCommand(checkID)
	require.NoError(t, err)
	assert.Equal(t, "test -f /tmp/x", cmd)

	cmd, err = store.CheckCommand(999)
	require.NoError(t, err)
	assert.Empty(t, cmd)
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t)

	session, err := store.CreateSession(3, 7, 30*time.Minute)
	require.NoError(t, err)
	require.NotZero(t, session.ID)
	assert.Equal(t, SessionRunning, session.Status)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), session.Deadline, 5*time.Second)

	got, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.LabID, got.LabID)
	assert.WithinDuration(t, session.Deadline, got.Deadline, time.Millisecond)

	require.NoError(t, store.SetSessionStatus(session.ID, SessionSubmitted))
	got, err = store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionSubmitted, got.Status)

	got, err = store.GetSession(999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSeedIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Seed())
	page, err := store.ListCourses(api.CourseQuery{})
	require.NoError(t, err)
	seeded := page.TotalItems
	require.Greater(t, seeded, 0)

	require.NoError(t, store.Seed())
	page, err = store.ListCourses(api.CourseQuery{})
	require.NoError(t, err)
	assert.Equal(t, seeded, page.TotalItems)
}
