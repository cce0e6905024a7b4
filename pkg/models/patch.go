package models

// Patch describes a partial update to a FileNode. Nil fields are left
// untouched by Apply, which is what keeps createdAt, materialId,
// displayTitle and slideNumber stable across re-streamed updates.
type Patch struct {
	Status       *NodeStatus
	FileType     *FileType
	Content      *string
	URL          *string
	StorageKey   *string
	Source       *Source
	SlideNumber  *int
	MaterialID   *string
	DisplayTitle *string
}

// SetsContent reports whether the patch carries a content update.
func (p Patch) SetsContent() bool {
	return p.Content != nil
}

// Apply merges p onto n and returns the new node value. Path, Kind,
// ParentPath and CreatedAt are never changed by a patch. Version is
// bumped only when content changes.
func Apply(n FileNode, p Patch) FileNode {
	if p.Status != nil {
		n.Status = *p.Status
	}
	if p.FileType != nil {
		n.FileType = *p.FileType
	}
	if p.Content != nil {
		n.Content = *p.Content
		n.Version++
	}
	if p.URL != nil {
		n.URL = *p.URL
	}
	if p.StorageKey != nil {
		n.StorageKey = *p.StorageKey
	}
	if p.Source != nil {
		n.Source = *p.Source
	}
	if p.SlideNumber != nil {
		n.SlideNumber = *p.SlideNumber
	}
	if p.MaterialID != nil {
		n.MaterialID = *p.MaterialID
	}
	if p.DisplayTitle != nil {
		n.DisplayTitle = *p.DisplayTitle
	}
	return n
}
