package tools

import (
	"context"
	"fmt"

	"github.com/canvasmate/canvasmate/internal/canvas"
)

// RegisterCanvasTools loads the embedded catalog and registers every tool
// with an executor bound to the given Canvas client. The catalog and this
// binder must stay in sync: a catalog entry without an executor is a
// startup error, not a silent gap.
func RegisterCanvasTools(reg *Registry, client *canvas.Client) error {
	defs, err := loadCatalog()
	if err != nil {
		return err
	}

	for _, def := range defs {
		spec := specFromCatalog(def)
		exec, err := canvasExecutor(def.Name, client)
		if err != nil {
			return err
		}
		spec.Exec = exec
		if err := reg.Register(&spec); err != nil {
			return err
		}
	}
	return nil
}

// canvasExecutor binds one catalog name to a Canvas client call. Arguments
// arrive already validated and defaulted by the registry.
func canvasExecutor(name string, client *canvas.Client) (func(context.Context, map[string]any) (any, error), error) {
	switch name {
	case "get_courses":
		return func(ctx context.Context, _ map[string]any) (any, error) {
			return client.ListCourses(ctx)
		}, nil
	case "get_assignments":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.ListAssignments(ctx, stringArg(args, "course_id"))
		}, nil
	case "get_upcoming_assignments":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.UpcomingAssignments(ctx, intArg(args, "days", 7))
		}, nil
	case "get_quizzes":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.ListQuizzes(ctx, stringArg(args, "course_id"))
		}, nil
	case "get_quiz_submissions":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.QuizSubmissions(ctx, stringArg(args, "course_id"))
		}, nil
	case "get_grades":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.Grades(ctx, stringArg(args, "course_id"))
		}, nil
	case "get_announcements":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.Announcements(ctx, intArg(args, "days", 7))
		}, nil
	case "get_discussions":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.Discussions(ctx, stringArg(args, "course_id"))
		}, nil
	case "get_modules":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.Modules(ctx, stringArg(args, "course_id"))
		}, nil
	case "get_course_files":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.CourseFiles(ctx, stringArg(args, "course_id"))
		}, nil
	case "get_calendar_events":
		return func(ctx context.Context, args map[string]any) (any, error) {
			return client.CalendarEvents(ctx, intArg(args, "days", 7))
		}, nil
	default:
		return nil, fmt.Errorf("catalog tool %q has no executor binding", name)
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
