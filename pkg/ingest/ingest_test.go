package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/coursekit/coursekit/pkg/models"
	"github.com/coursekit/coursekit/pkg/store"
)

func newFixture() (*store.Store, *Ingester) {
	st := store.New("course-1", store.WithNotifyInterval(time.Hour))
	return st, New(st)
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{
		"type": "material_content_complete",
		"file_path": "/content/slide-1.md",
		"material_id": "mat-1",
		"content": "# Done",
		"public_url": "https://cdn/x",
		"r2_key": "courses/c1/slide-1.md"
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cc, ok := ev.(ContentComplete)
	if !ok {
		t.Fatalf("decoded %T, want ContentComplete", ev)
	}
	if cc.Path != "/content/slide-1.md" || cc.MaterialID != "mat-1" ||
		cc.Content != "# Done" || cc.URL != "https://cdn/x" {
		t.Errorf("decoded fields: %+v", cc)
	}
}

func TestDecode_Invalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{oops`},
		{"missing file_path", `{"type": "material_content_stream"}`},
		{"unknown type", `{"type": "nonsense", "file_path": "/a.md"}`},
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c.data)); err == nil {
			t.Errorf("%s: Decode should fail", c.name)
		}
	}
}

func TestApplyRaw_MalformedIsNoop(t *testing.T) {
	st, in := newFixture()
	before := st.Len()
	in.ApplyRaw([]byte(`{broken`))
	in.ApplyRaw([]byte(`{"type": "nonsense", "file_path": "/a.md"}`))
	if st.Len() != before {
		t.Error("malformed events mutated the store")
	}
}

func TestFolderCreated(t *testing.T) {
	st, in := newFixture()
	in.Apply(FolderCreated{Path: "/content/module-1"})
	n, ok := st.Node("/content/module-1")
	if !ok || n.Kind != models.KindFolder {
		t.Fatalf("folder = (%+v, %v)", n, ok)
	}
}

func TestMaterialCreated_NewNodeGetsPlaceholder(t *testing.T) {
	st, in := newFixture()
	in.Apply(MaterialCreated{
		Path:        "/content/slide-1.md",
		MaterialID:  "mat-1",
		Title:       "Slide 1",
		Description: "An introduction",
		SlideNumber: 1,
	})
	n, ok := st.Node("/content/slide-1.md")
	if !ok {
		t.Fatal("node not created")
	}
	if n.Status != models.StatusGenerating {
		t.Errorf("status = %s, want generating", n.Status)
	}
	if !strings.Contains(n.Content, "# Slide 1") || !strings.Contains(n.Content, "An introduction") {
		t.Errorf("placeholder content = %q", n.Content)
	}
	if n.MaterialID != "mat-1" || n.SlideNumber != 1 {
		t.Errorf("identity fields: %+v", n)
	}
}

func TestMaterialCreated_DoesNotOverwriteStreamedState(t *testing.T) {
	st, in := newFixture()
	// Streaming got there first and established title and content.
	in.Apply(ContentStream{Path: "/content/slide-1.md", MaterialID: "mat-1", Chunk: "# Real content"})
	st.UpsertFile("/content/slide-1.md", models.Patch{DisplayTitle: models.Ptr("Streamed Title")})

	in.Apply(MaterialCreated{
		Path:       "/content/slide-1.md",
		MaterialID: "mat-other",
		Title:      "Database Title",
	})

	n, _ := st.Node("/content/slide-1.md")
	if n.DisplayTitle != "Streamed Title" {
		t.Errorf("displayTitle = %q, want Streamed Title", n.DisplayTitle)
	}
	if n.MaterialID != "mat-1" {
		t.Errorf("materialID = %q, want mat-1", n.MaterialID)
	}
}

func TestMaterialCreated_SavedStatus(t *testing.T) {
	st, in := newFixture()
	in.Apply(MaterialCreated{Path: "/content/slide-1.md", Saved: true})
	n, _ := st.Node("/content/slide-1.md")
	if n.Status != models.StatusSaved {
		t.Errorf("status = %s, want saved", n.Status)
	}
}

func TestContentStream_AppendsAndFollows(t *testing.T) {
	st, in := newFixture()
	in.Apply(ContentStream{Path: "/content/slide-1.md", Chunk: "# He"})
	in.Apply(ContentStream{Path: "/content/slide-1.md", Chunk: "llo"})

	n, _ := st.Node("/content/slide-1.md")
	if n.Content != "# Hello" {
		t.Errorf("content = %q", n.Content)
	}
	if n.Status != models.StatusStreaming {
		t.Errorf("status = %s, want streaming", n.Status)
	}
	if st.SelectedPath() != "/content/slide-1.md" {
		t.Errorf("selection = %q, want the streaming path", st.SelectedPath())
	}
}

func TestResolve_MaterialIDFallbackMutatesOriginalPath(t *testing.T) {
	st, in := newFixture()
	// Node created while streaming under the original path.
	in.Apply(ContentStream{Path: "/content/draft.md", MaterialID: "mat-9", Chunk: "body"})

	// Completion arrives addressed to a renamed path; the materialId
	// still identifies the node at its original location.
	in.Apply(ContentComplete{
		Path:       "/content/final.md",
		MaterialID: "mat-9",
		Content:    "final body",
		URL:        "https://cdn/final",
		StorageKey: "k/final",
	})

	if _, ok := st.Node("/content/final.md"); ok {
		t.Error("fallback created a duplicate at the event path")
	}
	n, ok := st.Node("/content/draft.md")
	if !ok {
		t.Fatal("original node vanished")
	}
	if n.Content != "final body" || n.Status != models.StatusSaved || n.URL != "https://cdn/final" {
		t.Errorf("original node not finalized: %+v", n)
	}
}

func TestContentProgress_DoesNotChangeStatus(t *testing.T) {
	st, in := newFixture()
	in.Apply(ContentStart{Path: "/content/slide-1.md", MaterialID: "mat-1"})
	in.Apply(ContentProgress{Path: "/content/slide-1.md", Note: "researching"})
	in.Apply(ContentProgress{Path: "/content/slide-1.md", Note: "outlining"})

	n, _ := st.Node("/content/slide-1.md")
	if n.Status != models.StatusGenerating {
		t.Errorf("status = %s, want generating untouched by progress", n.Status)
	}
	if !strings.Contains(n.Content, "researching\n") || !strings.Contains(n.Content, "outlining\n") {
		t.Errorf("notes not accumulated: %q", n.Content)
	}
}

func TestContentComplete_SlideGetsRemoteRefs(t *testing.T) {
	st, in := newFixture()
	in.Apply(ContentComplete{
		Path:       "/content/slide-1.md",
		Content:    "# Done",
		URL:        "https://cdn/slide-1",
		StorageKey: "k/slide-1",
	})
	n, _ := st.Node("/content/slide-1.md")
	if n.Status != models.StatusSaved || n.URL == "" || n.StorageKey == "" {
		t.Errorf("slide finalization: %+v", n)
	}
}

func TestContentComplete_AssessmentSkipsRemoteRefs(t *testing.T) {
	st, in := newFixture()
	in.Apply(ContentComplete{
		Path:       "/content/assessment-1.md",
		Content:    "# Quiz",
		URL:        "https://cdn/assessment-1",
		StorageKey: "k/assessment-1",
	})
	n, _ := st.Node("/content/assessment-1.md")
	if n.Status != models.StatusSaved {
		t.Errorf("status = %s, want saved", n.Status)
	}
	if n.URL != "" || n.StorageKey != "" {
		t.Errorf("assessment must not carry remote refs: url=%q key=%q", n.URL, n.StorageKey)
	}
	if n.Content != "# Quiz" {
		t.Errorf("content = %q", n.Content)
	}
}

func TestContentError(t *testing.T) {
	st, in := newFixture()
	in.Apply(ContentStream{Path: "/content/slide-1.md", MaterialID: "mat-1", Chunk: "partial"})
	in.Apply(ContentError{Path: "/content/slide-1.md", Message: "model timeout"})

	n, _ := st.Node("/content/slide-1.md")
	if n.Status != models.StatusError {
		t.Errorf("status = %s, want error", n.Status)
	}
	if !strings.Contains(n.Content, "# Generation Failed") || !strings.Contains(n.Content, "model timeout") {
		t.Errorf("error content = %q", n.Content)
	}
	if n.MaterialID != "mat-1" {
		t.Errorf("materialID lost on error: %q", n.MaterialID)
	}
}

func TestImageLifecycle(t *testing.T) {
	st, in := newFixture()
	in.Apply(ImageStart{Path: "/content/diagram.png", Title: "Diagram"})
	n, _ := st.Node("/content/diagram.png")
	if n.FileType != models.FileImage || n.Status != models.StatusGenerating {
		t.Fatalf("after start: %+v", n)
	}

	in.Apply(ImageComplete{Path: "/content/diagram.png", URL: "https://cdn/d.png", StorageKey: "k/d.png"})
	n, _ = st.Node("/content/diagram.png")
	if n.Status != models.StatusSaved || n.URL == "" {
		t.Errorf("after complete: %+v", n)
	}
}

func TestImageError_RoutesToContentError(t *testing.T) {
	st, in := newFixture()
	in.Apply(ImageStart{Path: "/content/diagram.png"})
	in.Apply(ImageError{Path: "/content/diagram.png", Message: "render failed"})
	n, _ := st.Node("/content/diagram.png")
	if n.Status != models.StatusError {
		t.Errorf("status = %s, want error", n.Status)
	}
}

func TestIdempotentReplay(t *testing.T) {
	st, in := newFixture()
	complete := ContentComplete{
		Path:       "/content/slide-1.md",
		Content:    "# Done",
		URL:        "https://cdn/x",
		StorageKey: "k/x",
	}
	in.Apply(complete)
	first, _ := st.Node("/content/slide-1.md")
	in.Apply(complete)
	second, _ := st.Node("/content/slide-1.md")

	if second.Content != first.Content || second.Status != first.Status ||
		second.URL != first.URL || second.CreatedAt != first.CreatedAt {
		t.Errorf("replay changed the node:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if st.Len() != 3 { // root, /content, slide
		t.Errorf("Len = %d, want 3", st.Len())
	}
}
