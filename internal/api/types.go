// Package api is the JSON-over-HTTP client for the learning platform backend.
package api

// Course is a course as served by the platform.
type Course struct {
	ID               int    `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	ShortDescription string `json:"shortDescription"`
	Image            string `json:"image"`
	Category         string `json:"category"`
	Level            string `json:"level"`
	Price            string `json:"price"`
}

// CourseDetail is the expanded course view including its curriculum.
type CourseDetail struct {
	Course
	Labs []Lab `json:"labs"`
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Level       string `json:"level"`
	Price       string `json:"price"`
}

// UpdateCourseRequest carries a partial course update. Nil fields are omitted.
type UpdateCourseRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
	Level       *string `json:"level,omitempty"`
	Price       *string `json:"price,omitempty"`
}

// CourseQuery holds pagination and filter parameters for course listing.
// Zero values are omitted from the request; the server applies its defaults.
type CourseQuery struct {
	Page     int
	PageSize int
	Search   string
	Category string
	Level    string
}

// PaginatedCourses is one page of the course list.
type PaginatedCourses struct {
	Data        []Course `json:"data"`
	CurrentPage int      `json:"currentPage"`
	TotalItems  int      `json:"totalItems"`
	TotalPages  int      `json:"totalPages"`
	HasNext     bool     `json:"hasNext"`
	HasPrevious bool     `json:"hasPrevious"`
}

// Lab describes one lab exercise.
type Lab struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	EstimatedTime int    `json:"estimatedTime"` // minutes
}

// Question type markers. "check" questions are validated server-side by
// inspecting the lab environment; "non-check" questions are multiple choice
// answered locally.
const (
	QuestionTypeCheck    = "check"
	QuestionTypeNonCheck = "non-check"
)

// Question is one lab question with its answer options.
type Question struct {
	ID           int      `json:"id"`
	Question     string   `json:"question"`
	Hint         string   `json:"hint"`
	Solution     string   `json:"solution"`
	TypeQuestion string   `json:"typeQuestion"`
	Answers      []Answer `json:"answers"`
}

// Answer is a single multiple-choice option. IsRightAns is only meaningful
// for non-check questions; the server never reveals it for check questions.
type Answer struct {
	ID         int    `json:"id"`
	Content    string `json:"content"`
	IsRightAns bool   `json:"isRightAns"`
}

// CheckResult is the outcome of a server-side validation check.
type CheckResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
