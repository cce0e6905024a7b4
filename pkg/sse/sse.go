// Package sse consumes the course generation event stream and feeds it
// into the ingester. The store tolerates reordered and replayed events,
// so the watcher reconnects aggressively and never buffers across
// connections.
package sse

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coursekit/coursekit/internal/logging"
	"github.com/coursekit/coursekit/internal/metrics"
	"github.com/coursekit/coursekit/pkg/ingest"
)

// Config holds watcher configuration.
type Config struct {
	BaseURL      string
	AuthToken    string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Watcher maintains a long-lived SSE connection for one course.
type Watcher struct {
	baseURL      string
	authToken    string
	httpClient   *http.Client
	ingester     *ingest.Ingester
	reconnectMin time.Duration
	reconnectMax time.Duration
}

// NewWatcher creates a watcher that applies events through ing.
func NewWatcher(cfg Config, ing *ingest.Ingester) *Watcher {
	if cfg.ReconnectMin == 0 {
		cfg.ReconnectMin = 1 * time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Watcher{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // no timeout for SSE
		},
		authToken:    cfg.AuthToken,
		ingester:     ing,
		reconnectMin: cfg.ReconnectMin,
		reconnectMax: cfg.ReconnectMax,
	}
}

// Run connects to the course event stream and applies events until ctx
// is cancelled, reconnecting with exponential backoff.
func (w *Watcher) Run(ctx context.Context, courseID string) {
	delay := w.reconnectMin

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streamed, err := w.connect(ctx, courseID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Warn("SSE connection lost",
				logging.String("course", courseID), logging.Err(err))
		}
		if streamed {
			// a healthy connection resets the backoff
			delay = w.reconnectMin
		}

		metrics.RecordSSEReconnect()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > w.reconnectMax {
			delay = w.reconnectMax
		}
	}
}

// connect opens the event stream and applies events until it ends.
// The bool reports whether a stream was established at all, so the
// caller can tell a healthy-then-dropped connection from a refused one.
func (w *Watcher) connect(ctx context.Context, courseID string) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/courses/%s/events", w.baseURL, courseID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if w.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.authToken)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	logging.Info("SSE connected", logging.String("url", url))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data != "" {
				w.ingester.ApplyRaw([]byte(data))
			}
			data = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment/keepalive
		}
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read: %w", err)
	}
	return true, fmt.Errorf("connection closed")
}
