package snapshot

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/coursekit/coursekit/pkg/kvcache"
	"github.com/coursekit/coursekit/pkg/models"
	"github.com/coursekit/coursekit/pkg/store"
)

func testState(courseID string) store.State {
	return store.State{
		CourseID: courseID,
		Nodes: map[string]models.FileNode{
			"/": {
				Path: "/", Kind: models.KindFolder,
				Status: models.StatusSaved, ParentPath: "/",
			},
			"/content": {
				Path: "/content", Kind: models.KindFolder,
				Status: models.StatusSaved, ParentPath: "/", CreatedAt: 1,
			},
			"/content/slide-1.md": {
				Path: "/content/slide-1.md", Kind: models.KindFile,
				Status: models.StatusSaved, ParentPath: "/content",
				Content: "# Intro", CreatedAt: 2, SlideNumber: 1,
				MaterialID: "mat-1", DisplayTitle: "Slide 1",
			},
		},
		SelectedPath: "/content/slide-1.md",
	}
}

func TestPersister_Roundtrip(t *testing.T) {
	cache := kvcache.NewMemory(0)
	p := New(cache)
	st := testState("c1")

	p.Save(st)
	got, ok := p.Load("c1")
	if !ok {
		t.Fatal("Load found nothing after Save")
	}
	if got.SelectedPath != "/content/slide-1.md" {
		t.Errorf("selectedPath = %q", got.SelectedPath)
	}
	n, ok := got.Nodes["/content/slide-1.md"]
	if !ok {
		t.Fatal("node missing after roundtrip")
	}
	if n.Content != "# Intro" || n.MaterialID != "mat-1" || n.SlideNumber != 1 {
		t.Errorf("node fields lost: %+v", n)
	}
	if n.CreatedAt != 2 {
		t.Errorf("createdAt = %d, want 2", n.CreatedAt)
	}
}

func TestPersister_EntryWireFormat(t *testing.T) {
	cache := kvcache.NewMemory(0)
	p := New(cache)
	p.Save(testState("c1"))

	raw, ok := cache.Get(Key("c1"))
	if !ok {
		t.Fatal("nothing stored")
	}
	var payload struct {
		NodesByPath []json.RawMessage `json:"nodesByPath"`
		Version     string            `json:"version"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Version != FormatVersion {
		t.Errorf("version = %q, want %q", payload.Version, FormatVersion)
	}
	// Each entry is a two-element [path, node] array.
	for _, e := range payload.NodesByPath {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(e, &pair); err != nil {
			t.Fatalf("entry is not a pair: %s", e)
		}
	}
}

func TestPersister_ContentLimitDropsLargeContent(t *testing.T) {
	cache := kvcache.NewMemory(0)
	p := New(cache, WithContentLimit(4))
	st := testState("c1") // slide content "# Intro" exceeds the 4-byte cap

	p.Save(st)
	got, _ := p.Load("c1")
	if got.Nodes["/content/slide-1.md"].Content != "" {
		t.Error("over-limit content survived the full-tier projection")
	}
}

func TestPersister_CleanedTierKeepsLocalOnlyContent(t *testing.T) {
	cache := kvcache.NewMemory(0)
	// Budget sits between the cleaned and full serializations, so Save
	// must settle on the cleaned tier.
	p := New(cache, WithBudget(1000))
	st := testState("c1")
	st.Nodes["/content/slide-2.md"] = models.FileNode{
		Path: "/content/slide-2.md", Kind: models.KindFile,
		Status: models.StatusSaved, ParentPath: "/content",
		Content: strings.Repeat("remote copy exists ", 150),
		URL:     "https://cdn/x", CreatedAt: 3,
	}

	p.Save(st)
	raw, _ := cache.Get(Key("c1"))
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !payload.Cleaned {
		t.Fatalf("cleaned = false, emergency = %v; want the cleaned tier", payload.Emergency)
	}
	for _, e := range payload.NodesByPath {
		if e.Path == "/content/slide-2.md" && e.Node.Content != "" {
			t.Error("cleaned tier kept content for a remotely-backed node")
		}
		if e.Path == "/content/slide-1.md" && e.Node.Content == "" {
			t.Error("cleaned tier dropped content with no remote copy")
		}
	}
}

// quotaCache rejects every Put whose payload exceeds its limit,
// recording attempted sizes so tests can check degradation order.
type quotaCache struct {
	kvcache.Cache
	limit    int
	attempts []int
}

func newQuotaCache(limit int) *quotaCache {
	return &quotaCache{Cache: kvcache.NewMemory(0), limit: limit}
}

func (q *quotaCache) Put(key string, value []byte) error {
	q.attempts = append(q.attempts, len(value))
	if len(value) > q.limit {
		return kvcache.ErrQuotaExceeded
	}
	return q.Cache.Put(key, value)
}

func TestPersister_QuotaDegradesToSmallerTier(t *testing.T) {
	// High serialization budget so the full tier is attempted; the cache
	// itself rejects anything over 600 bytes.
	cache := newQuotaCache(600)
	p := New(cache, WithBudget(1<<20))
	st := testState("c1")
	st.Nodes["/content/slide-1.md"] = func() models.FileNode {
		n := st.Nodes["/content/slide-1.md"]
		n.Content = strings.Repeat("x", 2000)
		n.URL = "https://cdn/slide-1"
		return n
	}()

	p.Save(st) // must not panic or error

	if len(cache.attempts) < 2 {
		t.Fatalf("attempts = %v, want a retry after quota rejection", cache.attempts)
	}
	for i := 1; i < len(cache.attempts); i++ {
		if cache.attempts[i] >= cache.attempts[i-1] {
			t.Errorf("attempt %d (%d bytes) not smaller than previous (%d bytes)",
				i, cache.attempts[i], cache.attempts[i-1])
		}
	}
	if _, ok := p.Load("c1"); !ok {
		t.Error("no snapshot persisted despite a fitting smaller tier")
	}
}

func TestPersister_QuotaRetryShrinksWithoutRemoteRefs(t *testing.T) {
	// With no url-bearing nodes the cleaned tier keeps the same content
	// set as the full tier, so it cannot shrink; Save must skip it
	// rather than retry with a payload at least as large. The quota
	// limit sits between the emergency and full serialization sizes.
	cache := newQuotaCache(600)
	p := New(cache, WithBudget(1<<20))

	st := testState("c1") // all content is local-only
	n := st.Nodes["/content/slide-1.md"]
	n.Content = strings.Repeat("local only ", 40)
	st.Nodes["/content/slide-1.md"] = n

	p.Save(st)

	if len(cache.attempts) < 2 {
		t.Fatalf("attempts = %v, want a retry after quota rejection", cache.attempts)
	}
	for i := 1; i < len(cache.attempts); i++ {
		if cache.attempts[i] >= cache.attempts[i-1] {
			t.Errorf("attempt %d (%d bytes) not smaller than previous (%d bytes)",
				i, cache.attempts[i], cache.attempts[i-1])
		}
	}
	got, ok := p.Load("c1")
	if !ok {
		t.Fatal("no snapshot persisted despite a fitting smaller tier")
	}
	if got.Nodes["/content/slide-1.md"].MaterialID != "mat-1" {
		t.Error("structure lost in the degraded snapshot")
	}
}

func TestPersister_QuotaPurgesInactiveCourses(t *testing.T) {
	mem := kvcache.NewMemory(0)
	// Pre-populate slots for other courses.
	mem.Put(Key("old-1"), []byte(`{}`))
	mem.Put(Key("old-2"), []byte(`{}`))

	cache := &quotaCache{Cache: mem, limit: 0} // reject everything
	p := New(cache, WithBudget(1<<20))

	p.Save(testState("active"))

	if _, ok := mem.Get(Key("old-1")); ok {
		t.Error("inactive slot old-1 survived quota recovery")
	}
	if _, ok := mem.Get(Key("old-2")); ok {
		t.Error("inactive slot old-2 survived quota recovery")
	}
	// Every tier rejected: the active slot must be cleared, not left stale.
	if _, ok := mem.Get(Key("active")); ok {
		t.Error("active slot left behind after all tiers failed")
	}
}

func TestPersister_LoadCorruptDataTreatedAsAbsent(t *testing.T) {
	cache := kvcache.NewMemory(0)
	cache.Put(Key("c1"), []byte("{not json"))
	p := New(cache)

	if _, ok := p.Load("c1"); ok {
		t.Fatal("corrupt snapshot loaded")
	}
	if _, ok := cache.Get(Key("c1")); ok {
		t.Error("corrupt slot not cleared")
	}
}

func TestPersister_LoadMissing(t *testing.T) {
	p := New(kvcache.NewMemory(0))
	if _, ok := p.Load("absent"); ok {
		t.Error("Load reported a hit for a missing course")
	}
}

func TestPersister_StoreIntegration(t *testing.T) {
	p := New(kvcache.NewMemory(0))
	s := store.New("c1", store.WithSaver(p))
	s.UpsertFile("/content/slide-1.md", models.Patch{
		Content:    models.Ptr("# Intro"),
		MaterialID: models.Ptr("mat-1"),
	})

	// A fresh store for the same course restores the persisted tree.
	s2 := store.New("c1", store.WithSaver(p))
	n, ok := s2.Node("/content/slide-1.md")
	if !ok || n.Content != "# Intro" {
		t.Fatalf("restore = (%q, %v)", n.Content, ok)
	}
}
