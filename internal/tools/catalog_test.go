package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canvasmate/canvasmate/internal/canvas"
)

func TestCatalogLoads(t *testing.T) {
	defs, err := loadCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if len(defs) != 11 {
		t.Fatalf("expected 11 catalog tools, got %d", len(defs))
	}
	for _, def := range defs {
		if def.Name == "" || def.Description == "" {
			t.Errorf("catalog entry missing name or description: %+v", def)
		}
	}
}

func TestRegisterCanvasToolsBindsEveryEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client := canvas.NewClient(srv.URL, "tok", 5*time.Second, testLogger())
	reg := NewRegistry(testLogger())
	if err := RegisterCanvasTools(reg, client); err != nil {
		t.Fatalf("register canvas tools: %v", err)
	}

	specs := reg.Specs()
	if len(specs) != 11 {
		t.Fatalf("expected 11 registered tools, got %d", len(specs))
	}
	if specs[0].Name != "get_courses" {
		t.Errorf("catalog order should be preserved; first tool is %s", specs[0].Name)
	}

	// Every bound executor is actually invocable end to end.
	result, err := reg.Invoke(context.Background(), "get_courses", map[string]any{})
	if err != nil {
		t.Fatalf("invoke get_courses: %v", err)
	}
	if courses, ok := result.([]canvas.Course); !ok || len(courses) != 0 {
		t.Errorf("unexpected result %v", result)
	}
}

func TestCatalogDefaultsNormalized(t *testing.T) {
	defs, err := loadCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	for _, def := range defs {
		if def.Name != "get_upcoming_assignments" {
			continue
		}
		spec := specFromCatalog(def)
		if len(spec.Params) != 1 {
			t.Fatalf("expected 1 param, got %d", len(spec.Params))
		}
		if got, ok := spec.Params[0].Default.(int); !ok || got != 7 {
			t.Errorf("expected int default 7, got %v (%T)", spec.Params[0].Default, spec.Params[0].Default)
		}
		return
	}
	t.Fatal("get_upcoming_assignments not found in catalog")
}
