package store

import (
	"sort"
	"strings"
	"time"

	"github.com/coursekit/coursekit/internal/metrics"
	"github.com/coursekit/coursekit/pkg/models"
	"github.com/coursekit/coursekit/pkg/vpath"
)

// TreeNode is one node of the nested tree view derived from the flat
// node map. The view is rebuilt lazily after any mutation; callers must
// treat it as read-only.
type TreeNode struct {
	models.FileNode
	Children []*TreeNode
}

// Tree returns the nested view rooted at "/", rebuilding it if a
// mutation invalidated the cache.
func (s *Store) Tree() *TreeNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		start := time.Now()
		s.tree = buildTree(s.nodes)
		metrics.RecordTreeRebuild(time.Since(start))
	}
	return s.tree
}

// buildTree derives the nested view. Parent/child relationships come
// purely from path structure: B is a direct child of A when B's path is
// A's path plus one more segment.
func buildTree(nodes map[string]models.FileNode) *TreeNode {
	byPath := make(map[string]*TreeNode, len(nodes))
	for p, n := range nodes {
		byPath[p] = &TreeNode{FileNode: n}
	}
	root, ok := byPath["/"]
	if !ok {
		root = &TreeNode{FileNode: models.FileNode{
			Path: "/", Kind: models.KindFolder, ParentPath: "/",
		}}
		byPath["/"] = root
	}

	for p, tn := range byPath {
		if p == "/" {
			continue
		}
		parent, ok := byPath[vpath.Parent(p)]
		if !ok {
			// orphan: parent missing from the map, attach to root so
			// nothing silently disappears from the view
			parent = root
		}
		parent.Children = append(parent.Children, tn)
	}

	for _, tn := range byPath {
		sortChildren(tn)
	}
	return root
}

// sortChildren applies the sibling ordering rules: folders before
// files; in content folders, material-type priority then slide number
// then creation order; everywhere else, lexicographic display names.
func sortChildren(parent *TreeNode) {
	content := inContentFolder(parent.Path)
	sort.SliceStable(parent.Children, func(i, j int) bool {
		a, b := parent.Children[i], parent.Children[j]
		if a.Kind != b.Kind {
			return a.Kind == models.KindFolder
		}
		if a.Kind == models.KindFolder {
			return a.DisplayName() < b.DisplayName()
		}
		if content {
			return contentLess(a, b)
		}
		return a.DisplayName() < b.DisplayName()
	})
}

// contentLess orders content-folder files. Generation order is not a
// reliable proxy for pedagogical order; slide/assessment numbering is
// authoritative once known, with CreatedAt keeping pre-numbered
// placeholders stable.
func contentLess(a, b *TreeNode) bool {
	if ra, rb := a.MaterialRank(), b.MaterialRank(); ra != rb {
		return ra < rb
	}
	an, bn := a.SlideNumber, b.SlideNumber
	switch {
	case an > 0 && bn > 0 && an != bn:
		return an < bn
	case an > 0 && bn <= 0:
		return true
	case an <= 0 && bn > 0:
		return false
	}
	return a.CreatedAt < b.CreatedAt
}

// inContentFolder reports whether a folder path lies in the content
// subtree (contains a /content/ segment or is /content itself).
func inContentFolder(path string) bool {
	return path == "/content" || strings.Contains(path, "/content/")
}
