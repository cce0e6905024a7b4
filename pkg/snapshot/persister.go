package snapshot

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/coursekit/coursekit/internal/logging"
	"github.com/coursekit/coursekit/internal/metrics"
	"github.com/coursekit/coursekit/pkg/kvcache"
	"github.com/coursekit/coursekit/pkg/models"
	"github.com/coursekit/coursekit/pkg/store"
)

const (
	// DefaultBudget caps the serialized snapshot size before the
	// degradation ladder kicks in.
	DefaultBudget = 4 << 20
	// DefaultContentLimit caps per-node inline content in the base tier.
	DefaultContentLimit = 10_000

	keyPrefix = "coursekit:tree:"
)

// serialization tiers, most to least complete
const (
	tierFull = iota
	tierCleaned
	tierEmergency
)

var tierNames = [...]string{"full", "cleaned", "emergency"}

// Persister saves and restores store snapshots through a quota-limited
// cache. It implements store.Saver.
type Persister struct {
	cache        kvcache.Cache
	budget       int
	contentLimit int
}

// Option configures a Persister.
type Option func(*Persister)

// WithBudget overrides the serialized-size budget.
func WithBudget(bytes int) Option {
	return func(p *Persister) { p.budget = bytes }
}

// WithContentLimit overrides the per-node inline content cap.
func WithContentLimit(bytes int) Option {
	return func(p *Persister) { p.contentLimit = bytes }
}

// New creates a Persister on top of cache.
func New(cache kvcache.Cache, opts ...Option) *Persister {
	p := &Persister{
		cache:        cache,
		budget:       DefaultBudget,
		contentLimit: DefaultContentLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Key returns the storage slot for a course.
func Key(courseID string) string {
	return keyPrefix + courseID
}

// Save persists st, walking the degradation ladder until a tier fits:
// full projection, then content dropped for remotely-recoverable nodes,
// then structure only. A quota error purges inactive course slots and
// retries; as a last resort the slot is cleared rather than left
// holding partially-written data. Save never returns an error.
func (p *Persister) Save(st store.State) {
	key := Key(st.CourseID)
	purged := false
	rejected := -1 // size of the last quota-rejected attempt

	for tier := tierFull; tier <= tierEmergency; tier++ {
		data, err := p.marshal(st, tier)
		if err != nil {
			logging.Warn("snapshot marshal failed", logging.Err(err))
			break
		}
		if tier < tierEmergency && len(data) > p.budget {
			continue
		}
		// A tier that does not shrink below the rejected size would be
		// rejected again; skip it so every retry is strictly smaller.
		if rejected >= 0 && len(data) >= rejected {
			continue
		}

		putErr := p.cache.Put(key, data)
		if putErr == nil {
			metrics.RecordSnapshotSave(tierNames[tier], len(data), true)
			return
		}
		metrics.RecordSnapshotSave(tierNames[tier], len(data), false)

		if errors.Is(putErr, kvcache.ErrQuotaExceeded) {
			rejected = len(data)
			if !purged {
				p.purgeInactive(st.CourseID)
				purged = true
			}
			continue // degrade to a strictly smaller tier
		}

		logging.Warn("snapshot save failed",
			logging.String("course", st.CourseID), logging.Err(putErr))
	}

	// Last resort: an empty slot beats a corrupt one.
	p.cache.Delete(key)
	logging.Warn("snapshot slot cleared after save exhausted all tiers",
		logging.String("course", st.CourseID))
}

// Load restores the persisted state for a course. Corrupt or
// unparsable data is treated as absent: the slot is cleared and the
// store starts empty.
func (p *Persister) Load(courseID string) (store.State, bool) {
	key := Key(courseID)
	data, ok := p.cache.Get(key)
	if !ok {
		return store.State{}, false
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		logging.Warn("discarding corrupt snapshot",
			logging.String("course", courseID), logging.Err(err))
		p.cache.Delete(key)
		return store.State{}, false
	}
	if len(payload.NodesByPath) == 0 {
		return store.State{}, false
	}

	nodes := make(map[string]models.FileNode, len(payload.NodesByPath))
	for _, e := range payload.NodesByPath {
		if e.Path == "" {
			continue
		}
		nodes[e.Path] = inflate(e.Path, e.Node)
	}
	return store.State{
		CourseID:     courseID,
		Nodes:        nodes,
		SelectedPath: payload.SelectedPath,
	}, true
}

// Delete clears the snapshot slot for a course.
func (p *Persister) Delete(courseID string) {
	p.cache.Delete(Key(courseID))
}

// SlotSizes returns persisted snapshot sizes keyed by course id.
func (p *Persister) SlotSizes() map[string]int {
	out := make(map[string]int)
	for _, key := range p.cache.Keys(keyPrefix) {
		if data, ok := p.cache.Get(key); ok {
			out[key[len(keyPrefix):]] = len(data)
		}
	}
	return out
}

// marshal serializes st at the given degradation tier.
func (p *Persister) marshal(st store.State, tier int) ([]byte, error) {
	paths := make([]string, 0, len(st.Nodes))
	for path := range st.Nodes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	entries := make([]Entry, 0, len(paths))
	for _, path := range paths {
		entries = append(entries, Entry{
			Path: path,
			Node: p.project(st.Nodes[path], tier),
		})
	}

	return json.Marshal(Payload{
		NodesByPath:  entries,
		SelectedPath: st.SelectedPath,
		Timestamp:    time.Now().UnixMilli(),
		Version:      FormatVersion,
		Cleaned:      tier == tierCleaned,
		Emergency:    tier == tierEmergency,
	})
}

// project reduces a node to its persisted form for a tier.
func (p *Persister) project(n models.FileNode, tier int) LightNode {
	light := LightNode{
		Kind:         string(n.Kind),
		Status:       string(n.Status),
		FileType:     string(n.FileType),
		URL:          n.URL,
		StorageKey:   n.StorageKey,
		Source:       string(n.Source),
		ParentPath:   n.ParentPath,
		CreatedAt:    n.CreatedAt,
		SlideNumber:  n.SlideNumber,
		MaterialID:   n.MaterialID,
		DisplayTitle: n.DisplayTitle,
		Version:      n.Version,
	}
	switch {
	case tier >= tierEmergency:
		// structure only
	case tier >= tierCleaned:
		// content recoverable from remote storage is dropped
		if n.URL == "" && len(n.Content) <= p.contentLimit {
			light.Content = n.Content
		}
	default:
		if len(n.Content) <= p.contentLimit {
			light.Content = n.Content
		}
	}
	return light
}

// inflate rebuilds a FileNode from its persisted form.
func inflate(path string, l LightNode) models.FileNode {
	return models.FileNode{
		Path:         path,
		Kind:         models.NodeKind(l.Kind),
		Status:       models.NodeStatus(l.Status),
		FileType:     models.FileType(l.FileType),
		Content:      l.Content,
		URL:          l.URL,
		StorageKey:   l.StorageKey,
		Source:       models.Source(l.Source),
		ParentPath:   l.ParentPath,
		CreatedAt:    l.CreatedAt,
		SlideNumber:  l.SlideNumber,
		MaterialID:   l.MaterialID,
		DisplayTitle: l.DisplayTitle,
		Version:      l.Version,
	}
}

// purgeInactive frees quota by deleting snapshots of other courses.
func (p *Persister) purgeInactive(activeCourseID string) {
	active := Key(activeCourseID)
	for _, key := range p.cache.Keys(keyPrefix) {
		if key != active {
			p.cache.Delete(key)
		}
	}
	metrics.RecordSnapshotQuotaRecovery()
	logging.Info("purged inactive course snapshots",
		logging.String("active", activeCourseID))
}
