package ingest

import (
	"fmt"

	"github.com/coursekit/coursekit/internal/logging"
	"github.com/coursekit/coursekit/internal/metrics"
	"github.com/coursekit/coursekit/pkg/models"
	"github.com/coursekit/coursekit/pkg/store"
	"github.com/coursekit/coursekit/pkg/vpath"
)

// Ingester applies decoded events to a store.
type Ingester struct {
	store *store.Store
}

// New creates an Ingester for st.
func New(st *store.Store) *Ingester {
	return &Ingester{store: st}
}

// ApplyRaw decodes and applies a raw event payload. Malformed payloads
// are dropped with a log line; no error reaches the transport.
func (in *Ingester) ApplyRaw(data []byte) {
	ev, err := Decode(data)
	if err != nil {
		metrics.RecordMalformedEvent()
		logging.Debug("dropping malformed event", logging.Err(err))
		return
	}
	in.Apply(ev)
}

// Apply dispatches one event to its handler.
func (in *Ingester) Apply(ev Event) {
	metrics.RecordEvent(string(ev.Kind()))
	switch e := ev.(type) {
	case FolderCreated:
		in.store.EnsureFolder(e.Path)
	case MaterialCreated:
		in.materialCreated(e)
	case ContentStart:
		in.contentStart(e)
	case ContentProgress:
		in.contentProgress(e)
	case ContentStream:
		in.contentStream(e)
	case ContentComplete:
		in.contentComplete(e)
	case ContentError:
		in.contentError(e)
	case ImageStart:
		in.imageStart(e)
	case ImageProgress:
		in.contentProgress(ContentProgress{Path: e.Path, Note: e.Note})
	case ImageComplete:
		in.imageComplete(e)
	case ImageError:
		in.contentError(ContentError{Path: e.Path, Message: e.Message})
	}
}

// resolve maps an event's target to the node it should mutate. The
// literal path wins when it matches; otherwise a node carrying the same
// materialId is the target even though it lives at a different path —
// material identity is the materialId, not the path, once assigned.
// Returns the event path and false when neither matches.
func (in *Ingester) resolve(path, materialID string) (string, bool) {
	norm, err := vpath.Normalize(path)
	if err != nil {
		return "", false
	}
	if _, ok := in.store.Node(norm); ok {
		return norm, true
	}
	if n, ok := in.store.FindByMaterialID(materialID); ok {
		logging.Debug("resolved event by material id",
			logging.String("event_path", norm),
			logging.String("node_path", n.Path),
			logging.String("material_id", materialID))
		return n.Path, true
	}
	return norm, false
}

// materialCreated upserts a placeholder file node. On an existing node
// the event's values for createdAt, slideNumber, displayTitle, and
// materialId are less authoritative than what streaming already
// established, so they fill gaps rather than overwrite.
func (in *Ingester) materialCreated(e MaterialCreated) {
	status := models.StatusGenerating
	if e.Saved {
		status = models.StatusSaved
	}

	patch := models.Patch{Status: models.Ptr(status)}
	existing, exists := in.store.Node(e.Path)
	if !exists {
		patch.Content = models.Ptr(placeholder(e.Title, e.Description))
		if e.Title != "" {
			patch.DisplayTitle = models.Ptr(e.Title)
		}
		if e.SlideNumber > 0 {
			patch.SlideNumber = models.Ptr(e.SlideNumber)
		}
		if e.MaterialID != "" {
			patch.MaterialID = models.Ptr(e.MaterialID)
		}
	} else {
		if existing.DisplayTitle == "" && e.Title != "" {
			patch.DisplayTitle = models.Ptr(e.Title)
		}
		if existing.SlideNumber == 0 && e.SlideNumber > 0 {
			patch.SlideNumber = models.Ptr(e.SlideNumber)
		}
		if existing.MaterialID == "" && e.MaterialID != "" {
			patch.MaterialID = models.Ptr(e.MaterialID)
		}
	}
	in.store.UpsertFile(e.Path, patch)
}

// contentStart transitions the target node to generating, creating it
// when neither path nor materialId resolves.
func (in *Ingester) contentStart(e ContentStart) {
	path, ok := in.resolve(e.Path, e.MaterialID)
	if path == "" {
		return
	}
	patch := models.Patch{Status: models.Ptr(models.StatusGenerating)}
	if !ok {
		metrics.RecordUnresolvedEvent()
		if e.Title != "" {
			patch.DisplayTitle = models.Ptr(e.Title)
		}
		if e.MaterialID != "" {
			patch.MaterialID = models.Ptr(e.MaterialID)
		}
	}
	in.store.UpsertFile(path, patch)
}

// contentProgress appends a progress note without changing the node's
// authoritative status.
func (in *Ingester) contentProgress(e ContentProgress) {
	path, ok := in.resolve(e.Path, e.MaterialID)
	if path == "" || e.Note == "" {
		return
	}
	note := e.Note + "\n"
	if !ok {
		metrics.RecordUnresolvedEvent()
		in.store.UpsertFile(path, models.Patch{Content: models.Ptr(note)})
		return
	}
	node, _ := in.store.Node(path)
	in.store.UpsertFile(path, models.Patch{Content: models.Ptr(node.Content + note)})
}

// contentStream appends a streamed chunk and keeps the resolved path
// selected so the UI follows the active stream.
func (in *Ingester) contentStream(e ContentStream) {
	path, ok := in.resolve(e.Path, e.MaterialID)
	if path == "" {
		return
	}
	if !ok {
		metrics.RecordUnresolvedEvent()
		patch := models.Patch{Status: models.Ptr(models.StatusStreaming)}
		if e.MaterialID != "" {
			patch.MaterialID = models.Ptr(e.MaterialID)
		}
		in.store.UpsertFile(path, patch)
	}
	in.store.AppendContent(path, e.Chunk)
	in.store.SetSelectedPath(path)
}

// contentComplete sets the final content and finalizes the node.
// Assessments finalize without a URL: their canonical representation
// stays in the database, not remote object storage.
func (in *Ingester) contentComplete(e ContentComplete) {
	path, ok := in.resolve(e.Path, e.MaterialID)
	if path == "" {
		return
	}
	if !ok {
		metrics.RecordUnresolvedEvent()
		patch := models.Patch{Status: models.Ptr(models.StatusGenerating)}
		if e.MaterialID != "" {
			patch.MaterialID = models.Ptr(e.MaterialID)
		}
		in.store.UpsertFile(path, patch)
	}
	if e.Content != "" {
		in.store.SetContent(path, e.Content)
	}

	node, _ := in.store.Node(path)
	fin := store.Finalize{Status: models.StatusSaved}
	if !node.IsAssessment() {
		fin.URL = e.URL
		fin.StorageKey = e.StorageKey
	}
	in.store.FinalizeFile(path, fin)
}

// contentError replaces content with a structured error message and
// marks the node errored, preserving its material id.
func (in *Ingester) contentError(e ContentError) {
	path, ok := in.resolve(e.Path, e.MaterialID)
	if path == "" {
		return
	}
	patch := models.Patch{
		Status:  models.Ptr(models.StatusError),
		Content: models.Ptr(errorContent(e.Message)),
	}
	if !ok {
		metrics.RecordUnresolvedEvent()
		if e.MaterialID != "" {
			patch.MaterialID = models.Ptr(e.MaterialID)
		}
	}
	in.store.UpsertFile(path, patch)
}

// imageStart upserts an image node in the generating state.
func (in *Ingester) imageStart(e ImageStart) {
	patch := models.Patch{
		Status:   models.Ptr(models.StatusGenerating),
		FileType: models.Ptr(models.FileImage),
	}
	if e.Title != "" {
		if n, ok := in.store.Node(e.Path); !ok || n.DisplayTitle == "" {
			patch.DisplayTitle = models.Ptr(e.Title)
		}
	}
	in.store.UpsertFile(e.Path, patch)
}

// imageComplete finalizes a generated image with its remote reference.
func (in *Ingester) imageComplete(e ImageComplete) {
	if _, ok := in.store.Node(e.Path); !ok {
		metrics.RecordUnresolvedEvent()
		in.store.UpsertFile(e.Path, models.Patch{
			FileType: models.Ptr(models.FileImage),
		})
	}
	in.store.FinalizeFile(e.Path, store.Finalize{
		URL:        e.URL,
		StorageKey: e.StorageKey,
	})
}

// placeholder builds the initial content shown while a material is
// still generating.
func placeholder(title, description string) string {
	switch {
	case title != "" && description != "":
		return fmt.Sprintf("# %s\n\n%s\n", title, description)
	case title != "":
		return fmt.Sprintf("# %s\n", title)
	default:
		return ""
	}
}

// errorContent formats the content shown for a failed generation.
func errorContent(message string) string {
	return fmt.Sprintf("# Generation Failed\n\n%s\n", message)
}
