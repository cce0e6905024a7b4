// Package loader fetches the authoritative list of generated materials
// for a course and reconciles it into the store. Server-confirmed state
// wins over stale local placeholders for the content subtree; nodes
// outside it (cover image, research documents) are preserved so
// in-flight streaming elsewhere is untouched.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coursekit/coursekit/internal/logging"
	"github.com/coursekit/coursekit/internal/metrics"
	"github.com/coursekit/coursekit/pkg/models"
	"github.com/coursekit/coursekit/pkg/retry"
	"github.com/coursekit/coursekit/pkg/store"
)

// ContentRoot is the subtree rebuilt from the fetched material list.
const ContentRoot = "/content"

// ErrStaleCourse is returned when the store's active course changed
// while a reconciliation was in flight; the response is discarded to
// prevent cross-course contamination.
var ErrStaleCourse = errors.New("loader: active course changed, reconciliation discarded")

// Material is one generated artifact as returned by the materials
// endpoint.
type Material struct {
	ID            string `json:"material_id"`
	Module        int    `json:"module"`
	Chapter       int    `json:"chapter"`
	Type          string `json:"type"` // slide, assessment, document, image, template
	SlideNumber   int    `json:"slide_number"`
	Title         string `json:"title"`
	ContentStatus string `json:"content_status"` // completed, generating, error, pending
	Content       string `json:"content"`
	PublicURL     string `json:"public_url"`
	R2Key         string `json:"r2_key"`
}

// Config holds loader client configuration.
type Config struct {
	BaseURL     string
	AuthToken   string
	Timeout     time.Duration
	RetryConfig retry.Config
}

// Client fetches material lists over REST with retry and backoff.
type Client struct {
	baseURL     string
	authToken   string
	httpClient  *http.Client
	retryConfig retry.Config
}

// NewClient creates a loader client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		authToken:   cfg.AuthToken,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retryConfig: cfg.RetryConfig,
	}
}

// FetchMaterials fetches the full material list for a course.
func (c *Client) FetchMaterials(ctx context.Context, courseID string) ([]Material, error) {
	url := fmt.Sprintf("%s/api/v1/courses/%s/materials", c.baseURL, courseID)

	return retry.DoWithResult(ctx, c.retryConfig, func() ([]Material, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.authToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.authToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return nil, retry.Retryable(fmt.Errorf("server returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("server returned %d", resp.StatusCode)
		}

		var envelope struct {
			Materials []Material `json:"materials"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return nil, fmt.Errorf("decode materials: %w", err)
		}
		return envelope.Materials, nil
	})
}

// Reconcile fetches the material list for courseID and rebuilds the
// store's content subtree from it. The active course id is checked
// before the request and re-checked after it; a mismatch rejects the
// whole pass.
func (c *Client) Reconcile(ctx context.Context, st *store.Store, courseID string) error {
	if st.CourseID() != courseID {
		metrics.RecordReconcile("stale")
		return ErrStaleCourse
	}

	materials, err := c.FetchMaterials(ctx, courseID)
	if err != nil {
		metrics.RecordReconcile("fetch_error")
		return fmt.Errorf("fetch materials: %w", err)
	}

	// Re-validate after the await: the user may have switched courses
	// while the request was in flight.
	if st.CourseID() != courseID {
		metrics.RecordReconcile("stale")
		return ErrStaleCourse
	}

	Rebuild(st, materials)
	metrics.RecordReconcile("ok")
	logging.Info("reconciled materials",
		logging.String("course", courseID),
		logging.Int("materials", len(materials)))
	return nil
}

// Rebuild replaces the content subtree with nodes derived from the
// fetched list, leaving everything outside it untouched.
func Rebuild(st *store.Store, materials []Material) {
	st.RemoveNode(ContentRoot)
	st.EnsureFolder(ContentRoot)

	ordered := make([]Material, len(materials))
	copy(ordered, materials)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Chapter != b.Chapter {
			return a.Chapter < b.Chapter
		}
		return a.SlideNumber < b.SlideNumber
	})

	for _, m := range ordered {
		path := MaterialPath(m)
		patch := models.Patch{
			Status:       models.Ptr(statusOf(m.ContentStatus)),
			FileType:     models.Ptr(fileTypeOf(m.Type)),
			Source:       models.Ptr(models.SourceDatabase),
			DisplayTitle: models.Ptr(DisplayTitle(m)),
		}
		if m.ID != "" {
			patch.MaterialID = models.Ptr(m.ID)
		}
		if m.SlideNumber > 0 {
			patch.SlideNumber = models.Ptr(m.SlideNumber)
		}
		if m.Content != "" {
			patch.Content = models.Ptr(m.Content)
		}
		if m.PublicURL != "" {
			patch.URL = models.Ptr(m.PublicURL)
			patch.Source = models.Ptr(models.SourceRemoteStore)
		}
		if m.R2Key != "" {
			patch.StorageKey = models.Ptr(m.R2Key)
		}
		st.UpsertFile(path, patch)
	}
}

// MaterialPath derives the deterministic tree path for a material:
// /content/module-{m}/chapter-{m}-{c}/<name>.
func MaterialPath(m Material) string {
	dir := fmt.Sprintf("%s/module-%d/chapter-%d-%d", ContentRoot, m.Module, m.Module, m.Chapter)
	return dir + "/" + fileName(m)
}

func fileName(m Material) string {
	switch m.Type {
	case "slide":
		return fmt.Sprintf("slide-%d.md", m.SlideNumber)
	case "assessment":
		return fmt.Sprintf("assessment-%d.md", m.SlideNumber)
	case "image":
		return slug(m.Title) + ".png"
	case "template":
		return slug(m.Title) + ".html"
	default:
		return slug(m.Title) + ".md"
	}
}

// DisplayTitle derives the human-readable label, with sequential
// "Slide N" / "Assessment N" names for numbered materials.
func DisplayTitle(m Material) string {
	switch m.Type {
	case "slide":
		return fmt.Sprintf("Slide %d", m.SlideNumber)
	case "assessment":
		return fmt.Sprintf("Assessment %d", m.SlideNumber)
	default:
		if m.Title != "" {
			return m.Title
		}
		return fileName(m)
	}
}

func statusOf(contentStatus string) models.NodeStatus {
	switch contentStatus {
	case "completed", "saved":
		return models.StatusSaved
	case "generating", "in_progress":
		return models.StatusGenerating
	case "error", "failed":
		return models.StatusError
	default:
		return models.StatusPending
	}
}

func fileTypeOf(materialType string) models.FileType {
	switch materialType {
	case "image":
		return models.FileImage
	case "template":
		return models.FileSlideTemplate
	case "pdf":
		return models.FilePDF
	default:
		return models.FileMarkdown
	}
}

// slug converts a title to a safe file name segment.
func slug(title string) string {
	if title == "" {
		return "untitled"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "untitled"
	}
	return out
}
