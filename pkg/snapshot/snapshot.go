// Package snapshot persists size-bounded projections of the store's
// node map to a quota-limited key-value cache, degrading gracefully
// when the serialized form exceeds its byte budget. Content is
// re-derivable from the backend, so every failure mode here resolves to
// "cache less"; nothing ever propagates to the mutating caller.
package snapshot

import "encoding/json"

// FormatVersion identifies the persisted snapshot layout.
const FormatVersion = "2.0"

// LightNode is the persisted projection of a FileNode. Content is
// carried only when it is small and not recoverable from remote
// storage; everything else is identity, status, and ordering metadata.
type LightNode struct {
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	FileType     string `json:"file_type,omitempty"`
	Content      string `json:"content,omitempty"`
	URL          string `json:"url,omitempty"`
	StorageKey   string `json:"storage_key,omitempty"`
	Source       string `json:"source,omitempty"`
	ParentPath   string `json:"parent_path"`
	CreatedAt    int64  `json:"created_at"`
	SlideNumber  int    `json:"slide_number,omitempty"`
	MaterialID   string `json:"material_id,omitempty"`
	DisplayTitle string `json:"display_title,omitempty"`
	Version      int64  `json:"version"`
}

// Entry is one [path, node] pair in the persisted nodesByPath array.
type Entry struct {
	Path string
	Node LightNode
}

// MarshalJSON encodes the entry as a two-element array.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Path, e.Node})
}

// UnmarshalJSON decodes the two-element array form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &e.Path); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &e.Node)
}

// Payload is the persisted snapshot document.
type Payload struct {
	NodesByPath  []Entry `json:"nodesByPath"`
	SelectedPath string  `json:"selectedPath"`
	Timestamp    int64   `json:"timestamp"`
	Version      string  `json:"version"`
	Cleaned      bool    `json:"cleaned,omitempty"`
	Emergency    bool    `json:"emergency,omitempty"`
}
