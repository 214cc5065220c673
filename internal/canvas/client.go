// Package canvas is a thin client for the Canvas LMS REST API, scoped to the
// read-only views a student assistant needs: courses, assignments, quizzes,
// grades, announcements, discussions, modules, files and calendar events.
package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Client talks to one Canvas instance on behalf of one student token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a Canvas client. baseURL is the instance root
// (https://school.instructure.com); the /api/v1 prefix is added here.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "canvas"),
	}
}

// get performs a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("canvas request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return fmt.Errorf("unauthorized: check your Canvas access token")
	case http.StatusForbidden:
		return fmt.Errorf("forbidden: insufficient permissions for %s", endpoint)
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s", endpoint)
	default:
		return fmt.Errorf("canvas HTTP %d for %s", resp.StatusCode, endpoint)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// rawCourse matches the Canvas payload with term and enrollment includes.
type rawCourse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
	Term       struct {
		Name string `json:"name"`
	} `json:"term"`
	Enrollments []struct {
		ComputedCurrentGrade string `json:"computed_current_grade"`
	} `json:"enrollments"`
}

// ListCourses returns all actively enrolled courses.
func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	params := url.Values{
		"enrollment_state": {"active"},
		"include[]":        {"term", "total_scores"},
	}

	var raw []rawCourse
	if err := c.get(ctx, "courses", params, &raw); err != nil {
		return nil, err
	}

	courses := make([]Course, 0, len(raw))
	for _, rc := range raw {
		course := Course{
			ID:         rc.ID,
			Name:       rc.Name,
			CourseCode: rc.CourseCode,
			Term:       rc.Term.Name,
		}
		if len(rc.Enrollments) > 0 {
			course.CurrentGrade = rc.Enrollments[0].ComputedCurrentGrade
		}
		courses = append(courses, course)
	}
	return courses, nil
}

type rawAssignment struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	DueAt           *time.Time `json:"due_at"`
	PointsPossible  float64    `json:"points_possible"`
	SubmissionTypes []string   `json:"submission_types"`
	Submission      *struct {
		SubmittedAt *time.Time `json:"submitted_at"`
		Grade       string     `json:"grade"`
		Score       *float64   `json:"score"`
	} `json:"submission"`
}

// ListAssignments returns all assignments for a course with submission status.
func (c *Client) ListAssignments(ctx context.Context, courseID string) ([]Assignment, error) {
	params := url.Values{"include[]": {"submission"}}

	var raw []rawAssignment
	if err := c.get(ctx, "courses/"+courseID+"/assignments", params, &raw); err != nil {
		return nil, err
	}

	assignments := make([]Assignment, 0, len(raw))
	for _, ra := range raw {
		a := Assignment{
			ID:              ra.ID,
			Name:            ra.Name,
			DueAt:           ra.DueAt,
			PointsPossible:  ra.PointsPossible,
			SubmissionTypes: ra.SubmissionTypes,
		}
		if ra.Submission != nil {
			a.Submitted = ra.Submission.SubmittedAt != nil
			a.Grade = ra.Submission.Grade
			a.Score = ra.Submission.Score
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

// UpcomingAssignments returns assignments due within the next `days` days
// across all enrolled courses, sorted by due date. A course whose assignment
// fetch fails is skipped rather than failing the whole view.
func (c *Client) UpcomingAssignments(ctx context.Context, days int) ([]UpcomingAssignment, error) {
	if days <= 0 {
		days = 7
	}

	courses, err := c.ListCourses(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	future := now.AddDate(0, 0, days)

	var upcoming []UpcomingAssignment
	for _, course := range courses {
		assignments, err := c.ListAssignments(ctx, fmt.Sprint(course.ID))
		if err != nil {
			c.logger.Warn("skipping course in upcoming view", "course", course.Name, "error", err)
			continue
		}
		for _, a := range assignments {
			if a.DueAt == nil {
				continue
			}
			due := a.DueAt.UTC()
			if due.Before(now) || due.After(future) {
				continue
			}
			upcoming = append(upcoming, UpcomingAssignment{
				Assignment: a,
				CourseName: course.Name,
				CourseCode: course.CourseCode,
			})
		}
	}

	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].DueAt.Before(*upcoming[j].DueAt)
	})
	return upcoming, nil
}

// ListQuizzes returns all quizzes for a course.
func (c *Client) ListQuizzes(ctx context.Context, courseID string) ([]Quiz, error) {
	var quizzes []Quiz
	if err := c.get(ctx, "courses/"+courseID+"/quizzes", nil, &quizzes); err != nil {
		return nil, err
	}
	return quizzes, nil
}

// QuizSubmissions returns the caller's submissions for every quiz in the
// course. Quizzes without an accessible submission are skipped.
func (c *Client) QuizSubmissions(ctx context.Context, courseID string) ([]QuizSubmission, error) {
	quizzes, err := c.ListQuizzes(ctx, courseID)
	if err != nil {
		return nil, err
	}

	var subs []QuizSubmission
	for _, quiz := range quizzes {
		endpoint := fmt.Sprintf("courses/%s/quizzes/%d/submissions", courseID, quiz.ID)
		var raw struct {
			QuizSubmissions []QuizSubmission `json:"quiz_submissions"`
		}
		if err := c.get(ctx, endpoint, nil, &raw); err != nil {
			c.logger.Warn("skipping quiz submissions", "quiz", quiz.Title, "error", err)
			continue
		}
		for _, qs := range raw.QuizSubmissions {
			qs.QuizTitle = quiz.Title
			subs = append(subs, qs)
		}
	}
	return subs, nil
}

// Grades returns the caller's enrollment grades for a course.
func (c *Client) Grades(ctx context.Context, courseID string) (*GradeSummary, error) {
	params := url.Values{"user_id": {"self"}}

	var enrollments []struct {
		Grades GradeSummary `json:"grades"`
	}
	if err := c.get(ctx, "courses/"+courseID+"/enrollments", params, &enrollments); err != nil {
		return nil, err
	}
	if len(enrollments) == 0 {
		return nil, fmt.Errorf("no enrollment found for course %s", courseID)
	}
	grades := enrollments[0].Grades
	return &grades, nil
}

type rawAnnouncement struct {
	ID       int64      `json:"id"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	PostedAt *time.Time `json:"posted_at"`
	Author   struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
	ContextCode string `json:"context_code"`
}

// Announcements returns announcements posted within the last `days` days
// across all enrolled courses.
func (c *Client) Announcements(ctx context.Context, days int) ([]Announcement, error) {
	if days <= 0 {
		days = 7
	}

	courses, err := c.ListCourses(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"start_date": {time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)},
	}
	for _, course := range courses {
		params.Add("context_codes[]", fmt.Sprintf("course_%d", course.ID))
	}

	var raw []rawAnnouncement
	if err := c.get(ctx, "announcements", params, &raw); err != nil {
		return nil, err
	}

	anns := make([]Announcement, 0, len(raw))
	for _, ra := range raw {
		author := ra.Author.DisplayName
		if author == "" {
			author = "Unknown"
		}
		anns = append(anns, Announcement{
			ID:       ra.ID,
			Title:    ra.Title,
			Message:  ra.Message,
			PostedAt: ra.PostedAt,
			Author:   author,
			CourseID: strings.TrimPrefix(ra.ContextCode, "course_"),
		})
	}
	return anns, nil
}

// Discussions returns the discussion topics for a course.
func (c *Client) Discussions(ctx context.Context, courseID string) ([]Discussion, error) {
	var raw []struct {
		ID       int64      `json:"id"`
		Title    string     `json:"title"`
		PostedAt *time.Time `json:"posted_at"`
		Author   struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
		DiscussionSubentryCount int `json:"discussion_subentry_count"`
	}
	if err := c.get(ctx, "courses/"+courseID+"/discussion_topics", nil, &raw); err != nil {
		return nil, err
	}

	topics := make([]Discussion, 0, len(raw))
	for _, rt := range raw {
		topics = append(topics, Discussion{
			ID:         rt.ID,
			Title:      rt.Title,
			PostedAt:   rt.PostedAt,
			Author:     rt.Author.DisplayName,
			ReplyCount: rt.DiscussionSubentryCount,
		})
	}
	return topics, nil
}

// Modules returns the module structure of a course.
func (c *Client) Modules(ctx context.Context, courseID string) ([]Module, error) {
	var modules []Module
	if err := c.get(ctx, "courses/"+courseID+"/modules", nil, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// CourseFiles returns the files attached to a course.
func (c *Client) CourseFiles(ctx context.Context, courseID string) ([]File, error) {
	var files []File
	if err := c.get(ctx, "courses/"+courseID+"/files", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// CalendarEvents returns calendar events for all enrolled courses within the
// next `days` days.
func (c *Client) CalendarEvents(ctx context.Context, days int) ([]CalendarEvent, error) {
	if days <= 0 {
		days = 7
	}

	courses, err := c.ListCourses(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	params := url.Values{
		"type":       {"event"},
		"start_date": {now.Format(time.RFC3339)},
		"end_date":   {now.AddDate(0, 0, days).Format(time.RFC3339)},
	}
	for _, course := range courses {
		params.Add("context_codes[]", fmt.Sprintf("course_%d", course.ID))
	}

	var events []CalendarEvent
	if err := c.get(ctx, "calendar_events", params, &events); err != nil {
		return nil, err
	}
	return events, nil
}
