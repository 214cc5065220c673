package canvas

import "time"

// Course is a simplified view of an enrolled course.
type Course struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CourseCode   string `json:"course_code"`
	Term         string `json:"enrollment_term"`
	CurrentGrade string `json:"current_grade,omitempty"`
}

// Assignment carries due-date and submission status for one assignment.
type Assignment struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	PointsPossible  float64    `json:"points_possible"`
	SubmissionTypes []string   `json:"submission_types,omitempty"`
	Submitted       bool       `json:"submitted"`
	Grade           string     `json:"grade,omitempty"`
	Score           *float64   `json:"score,omitempty"`
}

// UpcomingAssignment is an assignment annotated with its course.
type UpcomingAssignment struct {
	Assignment
	CourseName string `json:"course_name"`
	CourseCode string `json:"course_code"`
}

// Quiz is one quiz in a course, including LTI/external-tool quizzes.
type Quiz struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	QuizType       string     `json:"quiz_type,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	PointsPossible float64    `json:"points_possible"`
}

// QuizSubmission is the caller's graded attempt at one quiz.
type QuizSubmission struct {
	QuizID        int64    `json:"quiz_id"`
	QuizTitle     string   `json:"quiz_title"`
	Attempt       int      `json:"attempt"`
	Score         *float64 `json:"score,omitempty"`
	KeptScore     *float64 `json:"kept_score,omitempty"`
	WorkflowState string   `json:"workflow_state,omitempty"`
}

// GradeSummary is the enrollment-level grade picture for one course.
type GradeSummary struct {
	CurrentScore         *float64 `json:"current_score,omitempty"`
	CurrentGrade         string   `json:"current_grade,omitempty"`
	FinalScore           *float64 `json:"final_score,omitempty"`
	FinalGrade           string   `json:"final_grade,omitempty"`
	UnpostedCurrentScore *float64 `json:"unposted_current_score,omitempty"`
	UnpostedCurrentGrade string   `json:"unposted_current_grade,omitempty"`
}

// Announcement is one course announcement.
type Announcement struct {
	ID       int64      `json:"id"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	PostedAt *time.Time `json:"posted_at,omitempty"`
	Author   string     `json:"author"`
	CourseID string     `json:"course_id"`
}

// Discussion is one discussion topic in a course.
type Discussion struct {
	ID         int64      `json:"id"`
	Title      string     `json:"title"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	Author     string     `json:"author"`
	ReplyCount int        `json:"reply_count"`
}

// Module is one entry in a course's module structure.
type Module struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	ItemCount int    `json:"items_count"`
	State     string `json:"state,omitempty"`
}

// File is one file attached to a course.
type File struct {
	ID          int64      `json:"id"`
	DisplayName string     `json:"display_name"`
	ContentType string     `json:"content-type,omitempty"`
	Size        int64      `json:"size"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	URL         string     `json:"url,omitempty"`
}

// CalendarEvent is one upcoming calendar entry across enrolled courses.
type CalendarEvent struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	ContextCode string     `json:"context_code,omitempty"`
	Location    string     `json:"location_name,omitempty"`
}
