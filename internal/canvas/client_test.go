package canvas

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", 5*time.Second, testLogger()), srv
}

func TestListCourses(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/courses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `[
			{"id": 101, "name": "Agile Methods", "course_code": "CS 555",
			 "term": {"name": "Fall 2025"},
			 "enrollments": [{"computed_current_grade": "A"}]},
			{"id": 102, "name": "Computer Vision", "course_code": "CS 559",
			 "term": {"name": "Fall 2025"}, "enrollments": []}
		]`)
	}))

	courses, err := client.ListCourses(context.Background())
	if err != nil {
		t.Fatalf("list courses: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if len(courses) != 2 {
		t.Fatalf("expected 2 courses, got %d", len(courses))
	}
	if courses[0].CourseCode != "CS 555" || courses[0].CurrentGrade != "A" {
		t.Errorf("unexpected first course: %+v", courses[0])
	}
	if courses[1].CurrentGrade != "" {
		t.Errorf("course without enrollment should have empty grade, got %q", courses[1].CurrentGrade)
	}
}

func TestListAssignmentsSubmissionStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "name": "HW1", "points_possible": 10,
			 "submission": {"submitted_at": "2025-10-01T12:00:00Z", "grade": "9", "score": 9.0}},
			{"id": 2, "name": "HW2", "points_possible": 10, "submission": {}}
		]`)
	}))

	assignments, err := client.ListAssignments(context.Background(), "101")
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if !assignments[0].Submitted {
		t.Error("HW1 should be submitted")
	}
	if assignments[1].Submitted {
		t.Error("HW2 should not be submitted")
	}
}

func TestUpcomingAssignmentsWindowAndOrder(t *testing.T) {
	soon := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	sooner := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	past := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	far := time.Now().UTC().AddDate(0, 0, 30).Format(time.RFC3339)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses":
			fmt.Fprint(w, `[{"id": 1, "name": "A", "course_code": "CS 555"},
				{"id": 2, "name": "B", "course_code": "CS 559"}]`)
		case "/api/v1/courses/1/assignments":
			fmt.Fprintf(w, `[
				{"id": 10, "name": "due-soon", "due_at": %q},
				{"id": 11, "name": "past", "due_at": %q},
				{"id": 12, "name": "far", "due_at": %q},
				{"id": 13, "name": "no-due"}
			]`, soon, past, far)
		case "/api/v1/courses/2/assignments":
			fmt.Fprintf(w, `[{"id": 20, "name": "due-sooner", "due_at": %q}]`, sooner)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	upcoming, err := client.UpcomingAssignments(context.Background(), 7)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(upcoming) != 2 {
		t.Fatalf("expected 2 upcoming assignments, got %d", len(upcoming))
	}
	if upcoming[0].Name != "due-sooner" || upcoming[1].Name != "due-soon" {
		t.Errorf("expected due-date order, got %q then %q", upcoming[0].Name, upcoming[1].Name)
	}
	if upcoming[0].CourseCode != "CS 559" {
		t.Errorf("expected course annotation, got %q", upcoming[0].CourseCode)
	}
}

func TestUpcomingSkipsFailingCourse(t *testing.T) {
	due := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses":
			fmt.Fprint(w, `[{"id": 1, "name": "Broken"}, {"id": 2, "name": "OK"}]`)
		case "/api/v1/courses/1/assignments":
			w.WriteHeader(http.StatusForbidden)
		case "/api/v1/courses/2/assignments":
			fmt.Fprintf(w, `[{"id": 20, "name": "hw", "due_at": %q}]`, due)
		}
	}))

	upcoming, err := client.UpcomingAssignments(context.Background(), 7)
	if err != nil {
		t.Fatalf("a failing course must not fail the whole view: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].CourseName != "OK" {
		t.Errorf("expected only the healthy course's assignment, got %+v", upcoming)
	}
}

func TestGradesNoEnrollment(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))

	if _, err := client.Grades(context.Background(), "101"); err == nil {
		t.Fatal("expected error for empty enrollments")
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusForbidden, "forbidden"},
		{http.StatusNotFound, "not found"},
	}
	for _, tc := range cases {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := client.ListCourses(context.Background())
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := err.Error(); !strings.Contains(strings.ToLower(got), tc.want) {
			t.Errorf("status %d: error %q should mention %q", tc.status, got, tc.want)
		}
	}
}

func TestAnnouncementsContextCodes(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses":
			fmt.Fprint(w, `[{"id": 7, "name": "A"}]`)
		case "/api/v1/announcements":
			if got := r.URL.Query().Get("context_codes[]"); got != "course_7" {
				t.Errorf("expected context code course_7, got %q", got)
			}
			fmt.Fprint(w, `[{"id": 1, "title": "Midterm moved", "message": "now Friday",
				"context_code": "course_7", "author": {}}]`)
		}
	}))

	anns, err := client.Announcements(context.Background(), 7)
	if err != nil {
		t.Fatalf("announcements: %v", err)
	}
	if len(anns) != 1 || anns[0].CourseID != "7" || anns[0].Author != "Unknown" {
		t.Errorf("unexpected announcement mapping: %+v", anns)
	}
}
