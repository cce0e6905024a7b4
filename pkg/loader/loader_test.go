package loader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coursekit/coursekit/pkg/models"
	"github.com/coursekit/coursekit/pkg/retry"
	"github.com/coursekit/coursekit/pkg/store"
)

func materialsServer(t *testing.T, courseID string, materials []Material) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/api/v1/courses/" + courseID + "/materials"
		if r.URL.Path != want {
			t.Errorf("path = %s, want %s", r.URL.Path, want)
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"materials": materials})
	}))
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestFetchMaterials(t *testing.T) {
	srv := materialsServer(t, "c1", []Material{
		{ID: "mat-1", Module: 1, Chapter: 1, Type: "slide", SlideNumber: 1, Title: "Intro"},
	})
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	got, err := c.FetchMaterials(context.Background(), "c1")
	if err != nil {
		t.Fatalf("FetchMaterials: %v", err)
	}
	if len(got) != 1 || got[0].ID != "mat-1" {
		t.Fatalf("materials = %+v", got)
	}
}

func TestFetchMaterials_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"materials": []Material{}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	if _, err := c.FetchMaterials(context.Background(), "c1"); err != nil {
		t.Fatalf("FetchMaterials: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetchMaterials_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	if _, err := c.FetchMaterials(context.Background(), "c1"); err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not retry)", calls.Load())
	}
}

func TestReconcile_BuildsContentSubtree(t *testing.T) {
	srv := materialsServer(t, "c1", []Material{
		{
			ID: "mat-1", Module: 1, Chapter: 1, Type: "slide", SlideNumber: 1,
			Title: "Intro", ContentStatus: "completed", Content: "# Intro",
		},
		{
			ID: "mat-2", Module: 1, Chapter: 1, Type: "assessment", SlideNumber: 1,
			Title: "Quiz", ContentStatus: "completed", Content: "# Quiz",
		},
		{
			ID: "mat-3", Module: 2, Chapter: 1, Type: "slide", SlideNumber: 1,
			Title: "Advanced", ContentStatus: "generating",
		},
	})
	defer srv.Close()

	st := store.New("c1", store.WithNotifyInterval(time.Hour))
	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	if err := c.Reconcile(context.Background(), st, "c1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	n, ok := st.Node("/content/module-1/chapter-1-1/slide-1.md")
	if !ok {
		t.Fatal("slide node missing")
	}
	if n.Content != "# Intro" || n.Status != models.StatusSaved {
		t.Errorf("slide node: %+v", n)
	}
	if n.DisplayTitle != "Slide 1" {
		t.Errorf("displayTitle = %q, want Slide 1", n.DisplayTitle)
	}
	if n.MaterialID != "mat-1" {
		t.Errorf("materialID = %q", n.MaterialID)
	}

	if _, ok := st.Node("/content/module-1/chapter-1-1/assessment-1.md"); !ok {
		t.Error("assessment node missing")
	}
	gen, _ := st.Node("/content/module-2/chapter-2-1/slide-1.md")
	if gen.Status != models.StatusGenerating {
		t.Errorf("generating material status = %s", gen.Status)
	}
}

func TestReconcile_ReplacesStaleContentOnly(t *testing.T) {
	srv := materialsServer(t, "c1", []Material{
		{ID: "mat-1", Module: 1, Chapter: 1, Type: "slide", SlideNumber: 1, ContentStatus: "completed"},
	})
	defer srv.Close()

	st := store.New("c1", store.WithNotifyInterval(time.Hour))
	st.UpsertFile("/content/ghost.md", models.Patch{Content: models.Ptr("stale")})
	st.UpsertFile("/cover.png", models.Patch{Content: models.Ptr("outside")})

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	if err := c.Reconcile(context.Background(), st, "c1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if _, ok := st.Node("/content/ghost.md"); ok {
		t.Error("stale content node survived the rebuild")
	}
	if _, ok := st.Node("/cover.png"); !ok {
		t.Error("node outside the content subtree was removed")
	}
}

func TestReconcile_StaleCourseBeforeFetch(t *testing.T) {
	st := store.New("c2", store.WithNotifyInterval(time.Hour))
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0", RetryConfig: fastRetry()})
	if err := c.Reconcile(context.Background(), st, "c1"); !errors.Is(err, ErrStaleCourse) {
		t.Fatalf("err = %v, want ErrStaleCourse", err)
	}
}

func TestReconcile_CourseSwitchMidFlightDiscardsResponse(t *testing.T) {
	st := store.New("c1", store.WithNotifyInterval(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The user switches courses while the request is in flight.
		st.SwitchCourse("c2")
		json.NewEncoder(w).Encode(map[string]any{"materials": []Material{
			{ID: "mat-1", Module: 1, Chapter: 1, Type: "slide", SlideNumber: 1, ContentStatus: "completed"},
		}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, RetryConfig: fastRetry()})
	err := c.Reconcile(context.Background(), st, "c1")
	if !errors.Is(err, ErrStaleCourse) {
		t.Fatalf("err = %v, want ErrStaleCourse", err)
	}
	if _, ok := st.Node("/content/module-1/chapter-1-1/slide-1.md"); ok {
		t.Error("stale response contaminated the new course")
	}
}

func TestMaterialPath(t *testing.T) {
	cases := []struct {
		m    Material
		want string
	}{
		{Material{Module: 1, Chapter: 2, Type: "slide", SlideNumber: 3},
			"/content/module-1/chapter-1-2/slide-3.md"},
		{Material{Module: 2, Chapter: 1, Type: "assessment", SlideNumber: 1},
			"/content/module-2/chapter-2-1/assessment-1.md"},
		{Material{Module: 1, Chapter: 1, Type: "image", Title: "Course Cover!"},
			"/content/module-1/chapter-1-1/course-cover.png"},
		{Material{Module: 1, Chapter: 1, Type: "document", Title: ""},
			"/content/module-1/chapter-1-1/untitled.md"},
	}
	for _, c := range cases {
		if got := MaterialPath(c.m); got != c.want {
			t.Errorf("MaterialPath(%+v) = %q, want %q", c.m, got, c.want)
		}
	}
}

func TestDisplayTitle(t *testing.T) {
	if got := DisplayTitle(Material{Type: "slide", SlideNumber: 4}); got != "Slide 4" {
		t.Errorf("slide title = %q", got)
	}
	if got := DisplayTitle(Material{Type: "assessment", SlideNumber: 2}); got != "Assessment 2" {
		t.Errorf("assessment title = %q", got)
	}
	if got := DisplayTitle(Material{Type: "document", Title: "Research Notes"}); got != "Research Notes" {
		t.Errorf("document title = %q", got)
	}
}
