// Package models contains the shared data types for the virtual material tree.
package models

import "strings"

// NodeKind distinguishes folders from files.
type NodeKind string

const (
	KindFolder NodeKind = "folder"
	KindFile   NodeKind = "file"
)

// NodeStatus tracks a node's generation lifecycle.
type NodeStatus string

const (
	StatusPending    NodeStatus = "pending"
	StatusStreaming  NodeStatus = "streaming"
	StatusGenerating NodeStatus = "generating"
	StatusSaved      NodeStatus = "saved"
	StatusError      NodeStatus = "error"
)

// FileType classifies file nodes.
type FileType string

const (
	FileMarkdown      FileType = "markdown"
	FilePDF           FileType = "pdf"
	FileImage         FileType = "image"
	FileSlideTemplate FileType = "slide-template"
)

// Source records where a node's current attributes came from.
type Source string

const (
	SourceStream      Source = "stream"
	SourceDatabase    Source = "database"
	SourceRemoteStore Source = "remote-store"
)

// FileNode represents one artifact or folder in the virtual tree.
// Nodes are value records: mutations replace the whole node in the map.
type FileNode struct {
	Path         string     `json:"path"`
	Kind         NodeKind   `json:"kind"`
	Status       NodeStatus `json:"status"`
	FileType     FileType   `json:"file_type,omitempty"`
	Content      string     `json:"content,omitempty"`
	URL          string     `json:"url,omitempty"`
	StorageKey   string     `json:"storage_key,omitempty"`
	Source       Source     `json:"source,omitempty"`
	ParentPath   string     `json:"parent_path"`
	CreatedAt    int64      `json:"created_at"`
	SlideNumber  int        `json:"slide_number,omitempty"`
	MaterialID   string     `json:"material_id,omitempty"`
	DisplayTitle string     `json:"display_title,omitempty"`
	Version      int64      `json:"version"`
}

// IsFolder reports whether the node is a folder.
func (n FileNode) IsFolder() bool {
	return n.Kind == KindFolder
}

// Name returns the last path segment.
func (n FileNode) Name() string {
	if n.Path == "/" {
		return "/"
	}
	if idx := strings.LastIndex(n.Path, "/"); idx >= 0 {
		return n.Path[idx+1:]
	}
	return n.Path
}

// DisplayName returns the human-readable label, falling back to the
// last path segment.
func (n FileNode) DisplayName() string {
	if n.DisplayTitle != "" {
		return n.DisplayTitle
	}
	return n.Name()
}

// MaterialRank orders content-folder files by material type:
// slides first, then assessments, then everything else. The type is
// derived from the file name or display title prefix since the backend
// does not echo it on every event.
func (n FileNode) MaterialRank() int {
	name := strings.ToLower(n.Name())
	title := strings.ToLower(n.DisplayTitle)
	switch {
	case strings.HasPrefix(name, "slide") || strings.HasPrefix(title, "slide"):
		return 0
	case strings.HasPrefix(name, "assessment") || strings.HasPrefix(title, "assessment"):
		return 1
	default:
		return 2
	}
}

// IsAssessment reports whether the node looks like an assessment
// material. Assessments keep their canonical content in the database,
// never in remote object storage.
func (n FileNode) IsAssessment() bool {
	return n.MaterialRank() == 1
}

// Ptr returns a pointer to v, for building Patch values inline.
func Ptr[T any](v T) *T {
	return &v
}
