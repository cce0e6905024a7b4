// Package store implements the client-side virtual file tree for
// generated course materials. A Store owns a flat path-keyed node map
// (the source of truth), a throttled change notifier, and a best-effort
// persistence hook. All mutations are synchronous and safe for
// concurrent use; they are idempotent and order-tolerant so that
// streaming events, periodic refreshes, and user fetches may interleave
// in any order.
package store

import (
	"sync"
	"time"

	"github.com/coursekit/coursekit/internal/logging"
	"github.com/coursekit/coursekit/internal/metrics"
	"github.com/coursekit/coursekit/pkg/models"
	"github.com/coursekit/coursekit/pkg/vpath"
)

// DefaultNotifyInterval is the notification throttle window. A
// character-by-character stream can produce hundreds of mutations per
// second; subscribers see at most one flush per window.
const DefaultNotifyInterval = 50 * time.Millisecond

// Saver persists and restores store state. Save is best-effort and must
// never panic; persistence failures are handled internally by the
// implementation (see the snapshot package).
type Saver interface {
	Save(State)
	Load(courseID string) (State, bool)
}

// State is a copy of the store's persistable state.
type State struct {
	CourseID     string
	Nodes        map[string]models.FileNode
	SelectedPath string
	Seq          int64
}

// Snapshot is the pull-based view handed to UI bindings.
type Snapshot struct {
	Tree         *TreeNode
	NodesByPath  map[string]models.FileNode
	SelectedPath string
}

// Finalize carries the attributes merged by FinalizeFile. Empty fields
// are left untouched; Status defaults to saved.
type Finalize struct {
	URL        string
	StorageKey string
	Status     models.NodeStatus
}

// Store is the virtual file tree for one active course.
type Store struct {
	mu       sync.RWMutex
	courseID string
	nodes    map[string]models.FileNode
	selected string
	seq      int64
	tree     *TreeNode // cached nested view, nil when invalidated

	saver    Saver
	notifier *notifier
}

// Option configures a Store.
type Option func(*Store)

// WithSaver attaches a persistence hook. The store saves after every
// mutation and loads the course snapshot on construction and on
// SwitchCourse.
func WithSaver(saver Saver) Option {
	return func(s *Store) { s.saver = saver }
}

// WithNotifyInterval overrides the notification throttle window.
func WithNotifyInterval(d time.Duration) Option {
	return func(s *Store) { s.notifier.interval = d }
}

// New creates a store for the given course, restoring any persisted
// snapshot when a saver is attached.
func New(courseID string, opts ...Option) *Store {
	s := &Store{
		courseID: courseID,
		notifier: newNotifier(DefaultNotifyInterval),
	}
	s.resetLocked()
	for _, opt := range opts {
		opt(s)
	}
	if s.saver != nil {
		if st, ok := s.saver.Load(courseID); ok {
			s.adoptLocked(st)
			logging.Info("restored snapshot",
				logging.String("course", courseID),
				logging.Int("nodes", len(s.nodes)))
		}
	}
	metrics.SetTreeSize(len(s.nodes))
	return s
}

// resetLocked reinitializes the node map to just the root folder.
func (s *Store) resetLocked() {
	s.seq = 1
	s.nodes = map[string]models.FileNode{
		"/": {
			Path:       "/",
			Kind:       models.KindFolder,
			Status:     models.StatusSaved,
			ParentPath: "/",
		},
	}
	s.selected = ""
	s.tree = nil
}

// adoptLocked replaces store state with a restored snapshot.
func (s *Store) adoptLocked(st State) {
	if len(st.Nodes) == 0 {
		return
	}
	nodes := make(map[string]models.FileNode, len(st.Nodes)+1)
	var maxSeq int64
	for p, n := range st.Nodes {
		nodes[p] = n
		if n.CreatedAt > maxSeq {
			maxSeq = n.CreatedAt
		}
	}
	if _, ok := nodes["/"]; !ok {
		nodes["/"] = models.FileNode{
			Path:       "/",
			Kind:       models.KindFolder,
			Status:     models.StatusSaved,
			ParentPath: "/",
		}
	}
	s.nodes = nodes
	s.seq = maxSeq + 1
	if st.Seq > s.seq {
		s.seq = st.Seq
	}
	if _, ok := nodes[st.SelectedPath]; ok {
		s.selected = st.SelectedPath
	} else {
		s.selected = ""
	}
	s.tree = nil
}

func (s *Store) nextSeq() int64 {
	v := s.seq
	s.seq++
	return v
}

// committed runs the post-mutation pipeline: metrics, best-effort
// persistence, throttled notification. Called without the lock held.
func (s *Store) committed(op string) {
	metrics.RecordMutation(op)
	metrics.SetTreeSize(s.Len())
	if s.saver != nil {
		s.saver.Save(s.Export())
	}
	s.notifier.Mark()
}

// CourseID returns the active course identifier.
func (s *Store) CourseID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.courseID
}

// SelectedPath returns the currently selected path, or "".
func (s *Store) SelectedPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Len returns the number of nodes, including the root.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Node returns the node at path, if present.
func (s *Store) Node(path string) (models.FileNode, bool) {
	norm, err := vpath.Normalize(path)
	if err != nil {
		return models.FileNode{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[norm]
	return n, ok
}

// FindByMaterialID returns the node carrying the given material id.
// Material identity survives path changes between streaming and
// finalization, so this is the authoritative cross-reference.
func (s *Store) FindByMaterialID(materialID string) (models.FileNode, bool) {
	if materialID == "" {
		return models.FileNode{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.MaterialID == materialID {
			return n, true
		}
	}
	return models.FileNode{}, false
}

// HasActiveGeneration reports whether any node is still streaming or
// generating. Callers use this to keep a periodic refresh running.
func (s *Store) HasActiveGeneration() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.Status == models.StatusStreaming || n.Status == models.StatusGenerating {
			return true
		}
	}
	return false
}

// Export returns a copy of the persistable state.
func (s *Store) Export() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make(map[string]models.FileNode, len(s.nodes))
	for p, n := range s.nodes {
		nodes[p] = n
	}
	return State{
		CourseID:     s.courseID,
		Nodes:        nodes,
		SelectedPath: s.selected,
		Seq:          s.seq,
	}
}

// GetSnapshot returns the current tree view, node map copy, and
// selection for pull-based UI bindings.
func (s *Store) GetSnapshot() Snapshot {
	tree := s.Tree()
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make(map[string]models.FileNode, len(s.nodes))
	for p, n := range s.nodes {
		nodes[p] = n
	}
	return Snapshot{
		Tree:         tree,
		NodesByPath:  nodes,
		SelectedPath: s.selected,
	}
}

// Subscribe registers a change callback and returns its unsubscribe
// function. Callbacks fire at most once per throttle window.
func (s *Store) Subscribe(cb func()) func() {
	return s.notifier.Subscribe(cb)
}

// EnsureFolder idempotently creates every missing ancestor folder
// segment of path. No-op for the root.
func (s *Store) EnsureFolder(path string) {
	norm, err := vpath.Normalize(path)
	if err != nil {
		logging.Debug("ensure folder: invalid path", logging.String("path", path))
		return
	}
	if norm == "/" {
		return
	}
	s.mu.Lock()
	changed := s.ensureFolderLocked(norm)
	s.mu.Unlock()
	if changed {
		s.committed("ensure_folder")
	}
}

// ensureFolderLocked creates the folder chain up to and including path.
// Returns true when any node was created.
func (s *Store) ensureFolderLocked(path string) bool {
	changed := false
	for _, p := range append(vpath.Ancestors(path), path) {
		if _, ok := s.nodes[p]; ok {
			continue
		}
		s.nodes[p] = models.FileNode{
			Path:       p,
			Kind:       models.KindFolder,
			Status:     models.StatusSaved,
			ParentPath: vpath.Parent(p),
			CreatedAt:  s.nextSeq(),
		}
		changed = true
	}
	if changed {
		s.tree = nil
	}
	return changed
}

// UpsertFile merges patch onto the node at path, creating it (and any
// missing parent folders) if needed. A new node's CreatedAt is assigned
// once and never overwritten. When the patch carries a streaming
// status, selection auto-follows the active stream.
func (s *Store) UpsertFile(path string, patch models.Patch) {
	norm, err := vpath.Normalize(path)
	if err != nil || norm == "/" {
		logging.Debug("upsert file: invalid path", logging.String("path", path))
		return
	}
	s.mu.Lock()
	s.ensureFolderLocked(vpath.Parent(norm))
	n, ok := s.nodes[norm]
	if !ok {
		n = models.FileNode{
			Path:       norm,
			Kind:       models.KindFile,
			Status:     models.StatusPending,
			Source:     models.SourceStream,
			ParentPath: vpath.Parent(norm),
			CreatedAt:  s.nextSeq(),
		}
	}
	n = models.Apply(n, patch)
	n.Kind = models.KindFile
	s.nodes[norm] = n
	if patch.Status != nil && *patch.Status == models.StatusStreaming {
		s.selected = norm
	}
	s.tree = nil
	s.mu.Unlock()
	s.committed("upsert_file")
}

// AppendContent concatenates chunk onto the node's content and marks it
// streaming. Appending to a missing node signals an ordering bug in the
// caller and is logged, not fatal.
func (s *Store) AppendContent(path, chunk string) {
	norm, err := vpath.Normalize(path)
	if err != nil {
		logging.Debug("append content: invalid path", logging.String("path", path))
		return
	}
	s.mu.Lock()
	n, ok := s.nodes[norm]
	if !ok {
		s.mu.Unlock()
		logging.Warn("append content: node does not exist", logging.String("path", norm))
		return
	}
	n.Content += chunk
	n.Status = models.StatusStreaming
	n.Version++
	s.nodes[norm] = n
	s.tree = nil
	s.mu.Unlock()
	s.committed("append_content")
}

// SetContent replaces the node's content wholesale and marks it
// streaming. No-op for missing nodes.
func (s *Store) SetContent(path, content string) {
	norm, err := vpath.Normalize(path)
	if err != nil {
		logging.Debug("set content: invalid path", logging.String("path", path))
		return
	}
	s.mu.Lock()
	n, ok := s.nodes[norm]
	if !ok {
		s.mu.Unlock()
		logging.Warn("set content: node does not exist", logging.String("path", norm))
		return
	}
	n.Content = content
	n.Status = models.StatusStreaming
	n.Version++
	s.nodes[norm] = n
	s.tree = nil
	s.mu.Unlock()
	s.committed("set_content")
}

// FinalizeFile merges the finalization attributes onto an existing
// node. Status defaults to saved; a URL marks the node as backed by
// remote object storage.
func (s *Store) FinalizeFile(path string, fin Finalize) {
	norm, err := vpath.Normalize(path)
	if err != nil {
		logging.Debug("finalize file: invalid path", logging.String("path", path))
		return
	}
	s.mu.Lock()
	n, ok := s.nodes[norm]
	if !ok {
		s.mu.Unlock()
		logging.Warn("finalize file: node does not exist", logging.String("path", norm))
		return
	}
	if fin.Status != "" {
		n.Status = fin.Status
	} else {
		n.Status = models.StatusSaved
	}
	if fin.URL != "" {
		n.URL = fin.URL
		n.Source = models.SourceRemoteStore
	}
	if fin.StorageKey != "" {
		n.StorageKey = fin.StorageKey
	}
	s.nodes[norm] = n
	s.tree = nil
	s.mu.Unlock()
	s.committed("finalize_file")
}

// RemoveNode deletes the node at path and, for folders, every
// descendant. The root is never deleted. A dangling selection is
// cleared.
func (s *Store) RemoveNode(path string) {
	norm, err := vpath.Normalize(path)
	if err != nil || norm == "/" {
		return
	}
	s.mu.Lock()
	n, ok := s.nodes[norm]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.nodes, norm)
	if n.Kind == models.KindFolder {
		for p := range s.nodes {
			if vpath.IsDescendant(norm, p) {
				delete(s.nodes, p)
			}
		}
	}
	if _, ok := s.nodes[s.selected]; !ok {
		s.selected = ""
	}
	s.tree = nil
	s.mu.Unlock()
	s.committed("remove_node")
}

// SetSelectedPath changes the selection. An empty path clears it; a
// path that does not resolve to an existing node is ignored.
func (s *Store) SetSelectedPath(path string) {
	if path == "" {
		s.mu.Lock()
		s.selected = ""
		s.mu.Unlock()
		s.committed("set_selected_path")
		return
	}
	norm, err := vpath.Normalize(path)
	if err != nil {
		logging.Debug("select: invalid path", logging.String("path", path))
		return
	}
	s.mu.Lock()
	if _, ok := s.nodes[norm]; !ok {
		s.mu.Unlock()
		logging.Debug("select: node does not exist", logging.String("path", norm))
		return
	}
	s.selected = norm
	s.mu.Unlock()
	s.committed("set_selected_path")
}

// Clear resets the node map to just the root and clears the selection.
func (s *Store) Clear() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	s.committed("clear")
}

// SwitchCourse atomically clears the store, activates the new course,
// and restores its persisted snapshot if one exists. In-flight fetches
// for the old course are discarded by the course-id guard on arrival.
func (s *Store) SwitchCourse(courseID string) {
	s.mu.Lock()
	s.courseID = courseID
	s.resetLocked()
	if s.saver != nil {
		if st, ok := s.saver.Load(courseID); ok {
			s.adoptLocked(st)
		}
	}
	s.mu.Unlock()
	s.committed("switch_course")
	logging.Info("switched course", logging.String("course", courseID))
}
