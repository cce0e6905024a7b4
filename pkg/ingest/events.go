// Package ingest translates streaming generation events into store
// mutations. Events arrive out of order from an unreliable transport,
// so every handler is idempotent and order-tolerant, and material
// identity is resolved by materialId once the literal path stops
// matching.
package ingest

import (
	"encoding/json"
	"fmt"
)

// EventKind tags the closed set of consumed event types.
type EventKind string

const (
	EventFolderCreated   EventKind = "folder_created"
	EventMaterialCreated EventKind = "material_created"
	EventContentStart    EventKind = "material_content_start"
	EventContentProgress EventKind = "material_content_progress"
	EventContentStream   EventKind = "material_content_stream"
	EventContentComplete EventKind = "material_content_complete"
	EventContentError    EventKind = "material_content_error"
	EventImageStart      EventKind = "image_generation_start"
	EventImageProgress   EventKind = "image_generation_progress"
	EventImageComplete   EventKind = "image_generation_complete"
	EventImageError      EventKind = "image_generation_error"
)

// Event is the closed tagged union of consumed event payloads. Each
// variant carries only its required fields.
type Event interface {
	Kind() EventKind
}

// FolderCreated announces a new folder in the generation output.
type FolderCreated struct {
	Path string
}

func (FolderCreated) Kind() EventKind { return EventFolderCreated }

// MaterialCreated announces a new material record.
type MaterialCreated struct {
	Path        string
	MaterialID  string
	Title       string
	Description string
	SlideNumber int
	Saved       bool // true when the backend already finished this material
}

func (MaterialCreated) Kind() EventKind { return EventMaterialCreated }

// ContentStart marks the beginning of content generation for a material.
type ContentStart struct {
	Path       string
	MaterialID string
	Title      string
}

func (ContentStart) Kind() EventKind { return EventContentStart }

// ContentProgress carries a human-readable progress note.
type ContentProgress struct {
	Path       string
	MaterialID string
	Note       string
}

func (ContentProgress) Kind() EventKind { return EventContentProgress }

// ContentStream carries one streamed content chunk.
type ContentStream struct {
	Path       string
	MaterialID string
	Chunk      string
}

func (ContentStream) Kind() EventKind { return EventContentStream }

// ContentComplete finalizes a material's content.
type ContentComplete struct {
	Path       string
	MaterialID string
	Content    string
	URL        string
	StorageKey string
}

func (ContentComplete) Kind() EventKind { return EventContentComplete }

// ContentError reports a failed generation.
type ContentError struct {
	Path       string
	MaterialID string
	Message    string
}

func (ContentError) Kind() EventKind { return EventContentError }

// ImageStart marks the beginning of an image generation.
type ImageStart struct {
	Path  string
	Title string
}

func (ImageStart) Kind() EventKind { return EventImageStart }

// ImageProgress carries an image generation progress note.
type ImageProgress struct {
	Path string
	Note string
}

func (ImageProgress) Kind() EventKind { return EventImageProgress }

// ImageComplete finalizes a generated image.
type ImageComplete struct {
	Path       string
	URL        string
	StorageKey string
}

func (ImageComplete) Kind() EventKind { return EventImageComplete }

// ImageError reports a failed image generation.
type ImageError struct {
	Path    string
	Message string
}

func (ImageError) Kind() EventKind { return EventImageError }

// wireEvent is the raw shape shared by all event payloads.
type wireEvent struct {
	Type         string `json:"type"`
	FilePath     string `json:"file_path"`
	MaterialID   string `json:"material_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Content      string `json:"content"`
	PublicURL    string `json:"public_url"`
	R2Key        string `json:"r2_key"`
	ErrorMessage string `json:"error_message"`
	SlideNumber  int    `json:"slide_number"`
	Status       string `json:"status"`
}

// Decode parses a raw event payload into its typed variant. Unknown
// types and missing required fields are errors; callers treat them as
// no-ops.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if w.FilePath == "" {
		return nil, fmt.Errorf("event %q: missing file_path", w.Type)
	}

	switch EventKind(w.Type) {
	case EventFolderCreated:
		return FolderCreated{Path: w.FilePath}, nil
	case EventMaterialCreated:
		return MaterialCreated{
			Path:        w.FilePath,
			MaterialID:  w.MaterialID,
			Title:       w.Title,
			Description: w.Description,
			SlideNumber: w.SlideNumber,
			Saved:       w.Status == "saved" || w.Status == "completed",
		}, nil
	case EventContentStart:
		return ContentStart{Path: w.FilePath, MaterialID: w.MaterialID, Title: w.Title}, nil
	case EventContentProgress:
		return ContentProgress{Path: w.FilePath, MaterialID: w.MaterialID, Note: noteOf(w)}, nil
	case EventContentStream:
		return ContentStream{Path: w.FilePath, MaterialID: w.MaterialID, Chunk: w.Content}, nil
	case EventContentComplete:
		return ContentComplete{
			Path:       w.FilePath,
			MaterialID: w.MaterialID,
			Content:    w.Content,
			URL:        w.PublicURL,
			StorageKey: w.R2Key,
		}, nil
	case EventContentError:
		return ContentError{Path: w.FilePath, MaterialID: w.MaterialID, Message: messageOf(w)}, nil
	case EventImageStart:
		return ImageStart{Path: w.FilePath, Title: w.Title}, nil
	case EventImageProgress:
		return ImageProgress{Path: w.FilePath, Note: noteOf(w)}, nil
	case EventImageComplete:
		return ImageComplete{Path: w.FilePath, URL: w.PublicURL, StorageKey: w.R2Key}, nil
	case EventImageError:
		return ImageError{Path: w.FilePath, Message: messageOf(w)}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", w.Type)
}

func noteOf(w wireEvent) string {
	if w.Content != "" {
		return w.Content
	}
	return w.Title
}

func messageOf(w wireEvent) string {
	if w.ErrorMessage != "" {
		return w.ErrorMessage
	}
	return "generation failed"
}
