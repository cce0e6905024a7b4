// Package vpath provides canonical virtual path handling for the
// material tree. Canonical form: leading slash, no duplicate or
// trailing slashes.
package vpath

import (
	"errors"
	"strings"
)

// ErrInvalid is returned for paths that cannot be normalized.
var ErrInvalid = errors.New("vpath: invalid path")

// Normalize returns the canonical absolute form of p. Normalization is
// idempotent: Normalize(Normalize(p)) == Normalize(p).
func Normalize(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrInvalid
	}
	parts := strings.Split(p, "/")
	segs := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		segs = append(segs, part)
	}
	if len(segs) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(segs, "/"), nil
}

// Parent returns the parent path of p, or "/" for top-level paths.
// The root is its own parent.
func Parent(p string) string {
	if p == "/" {
		return "/"
	}
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Base returns the last segment of p.
func Base(p string) string {
	if p == "/" {
		return "/"
	}
	return p[strings.LastIndex(p, "/")+1:]
}

// Join appends name to a canonical parent path.
func Join(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// Ancestors returns every proper ancestor of p from the top down,
// excluding the root. Ancestors("/a/b/c") is ["/a", "/a/b"].
func Ancestors(p string) []string {
	if p == "/" {
		return nil
	}
	var out []string
	for cur := Parent(p); cur != "/"; cur = Parent(cur) {
		out = append(out, cur)
	}
	// reverse to top-down order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// IsDescendant reports whether child lies strictly beneath parent.
// A sibling with a shared prefix ("/ab" vs "/a") is not a descendant.
func IsDescendant(parent, child string) bool {
	if parent == "/" {
		return child != "/"
	}
	return strings.HasPrefix(child, parent+"/")
}
