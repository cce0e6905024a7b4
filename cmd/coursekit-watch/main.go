// coursekit-watch mirrors the generated-materials tree of a course
// while the backend authors it: it restores the persisted snapshot,
// reconciles against the materials endpoint, follows the SSE event
// stream, and keeps a size-bounded local snapshot up to date.
//
// Sub-commands:
//
//	coursekit-watch watch [flags]   Follow a course (default)
//	coursekit-watch dump [flags]    Print the persisted snapshot tree
//	coursekit-watch status [flags]  Show snapshot slot sizes
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coursekit/coursekit/internal/config"
	"github.com/coursekit/coursekit/internal/logging"
	"github.com/coursekit/coursekit/internal/metrics"
	"github.com/coursekit/coursekit/pkg/ingest"
	"github.com/coursekit/coursekit/pkg/kvcache"
	"github.com/coursekit/coursekit/pkg/loader"
	"github.com/coursekit/coursekit/pkg/models"
	"github.com/coursekit/coursekit/pkg/remote"
	"github.com/coursekit/coursekit/pkg/snapshot"
	"github.com/coursekit/coursekit/pkg/sse"
	"github.com/coursekit/coursekit/pkg/store"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "dump":
			cmdDump(os.Args[2:])
			return
		case "status":
			cmdStatus(os.Args[2:])
			return
		case "watch":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}
	cmdWatch()
}

func cmdWatch() {
	cfg := config.FromEnv()

	server := flag.String("server", cfg.ServerURL, "Course platform base URL")
	course := flag.String("course", cfg.CourseID, "Course identifier (required)")
	token := flag.String("token", cfg.AuthToken, "Bearer token")
	cacheDir := flag.String("cache", cfg.CacheDir, "Snapshot cache directory")
	refresh := flag.Duration("refresh", cfg.RefreshInterval, "Materials refresh interval while generation is active (0 to disable)")
	metricsAddr := flag.String("metrics", cfg.MetricsAddr, "Prometheus metrics listen address (empty to disable)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", cfg.LogFormat, "Log format: json, console")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if *course == "" {
		fmt.Fprintf(os.Stderr, "Error: -course is required\n")
		flag.Usage()
		os.Exit(1)
	}

	warnIfExpired(*token)

	persister, err := newPersister(*cacheDir, cfg)
	if err != nil {
		logging.Error("open snapshot cache", logging.Err(err))
		os.Exit(1)
	}

	st := store.New(*course, store.WithSaver(persister))
	ingester := ingest.New(st)

	loaderClient := loader.NewClient(loader.Config{
		BaseURL:   *server,
		AuthToken: *token,
	})

	ctx, cancel := signalContext()
	defer cancel()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	unsubscribe := st.Subscribe(func() {
		snap := st.GetSnapshot()
		logging.Info("tree updated",
			logging.Int("nodes", len(snap.NodesByPath)),
			logging.String("selected", snap.SelectedPath))
	})
	defer unsubscribe()

	if err := loaderClient.Reconcile(ctx, st, *course); err != nil {
		logging.Warn("initial reconcile failed", logging.Err(err))
	}

	if cfg.S3Endpoint != "" {
		go hydrateMissing(ctx, cfg, st)
	}

	watcher := sse.NewWatcher(sse.Config{
		BaseURL:   *server,
		AuthToken: *token,
	}, ingester)
	go watcher.Run(ctx, *course)

	if *refresh > 0 {
		go refreshLoop(ctx, loaderClient, st, *course, *refresh)
	}

	<-ctx.Done()
	logging.Info("shutting down")
	printTree(st.Tree(), 0)
}

// refreshLoop polls the materials endpoint while generation is active,
// so missed events are eventually reconciled away.
func refreshLoop(ctx context.Context, c *loader.Client, st *store.Store, courseID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !st.HasActiveGeneration() {
				continue
			}
			if err := c.Reconcile(ctx, st, courseID); err != nil {
				logging.Debug("refresh reconcile failed", logging.Err(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// hydrateMissing restores content for restored nodes whose bytes live
// in remote object storage.
func hydrateMissing(ctx context.Context, cfg *config.Config, st *store.Store) {
	resolver, err := remote.New(ctx, remote.Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
	})
	if err != nil {
		logging.Warn("remote store unavailable", logging.Err(err))
		return
	}

	for path, n := range st.GetSnapshot().NodesByPath {
		if n.Kind != models.KindFile || n.Content != "" || n.StorageKey == "" {
			continue
		}
		if err := resolver.Hydrate(ctx, st, path); err != nil {
			logging.Debug("hydrate failed", logging.String("path", path), logging.Err(err))
		}
	}
}

func cmdDump(args []string) {
	cfg := config.FromEnv()
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	course := fs.String("course", cfg.CourseID, "Course identifier (required)")
	cacheDir := fs.String("cache", cfg.CacheDir, "Snapshot cache directory")
	fs.Parse(args)

	logging.InitDefault()
	if *course == "" {
		fmt.Fprintf(os.Stderr, "Error: -course is required\n")
		os.Exit(1)
	}

	persister, err := newPersister(*cacheDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	st := store.New(*course, store.WithSaver(persister))
	if st.Len() <= 1 {
		fmt.Printf("No snapshot for course %s\n", *course)
		return
	}
	printTree(st.Tree(), 0)
}

func cmdStatus(args []string) {
	cfg := config.FromEnv()
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cacheDir := fs.String("cache", cfg.CacheDir, "Snapshot cache directory")
	fs.Parse(args)

	logging.InitDefault()
	persister, err := newPersister(*cacheDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	slots := persister.SlotSizes()
	if len(slots) == 0 {
		fmt.Println("No persisted snapshots")
		return
	}
	for course, size := range slots {
		fmt.Printf("%-30s %8d bytes\n", course, size)
	}
}

func newPersister(cacheDir string, cfg *config.Config) (*snapshot.Persister, error) {
	cache, err := kvcache.NewFile(cacheDir, cfg.CacheBudget)
	if err != nil {
		return nil, fmt.Errorf("open snapshot cache: %w", err)
	}
	return snapshot.New(cache, snapshot.WithBudget(int(cfg.SnapshotBudget))), nil
}

// warnIfExpired checks the bearer token's exp claim locally, without
// verifying the signature, so an expired token fails loudly up front
// instead of as a stream of 401s.
func warnIfExpired(token string) {
	if token == "" {
		return
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		logging.Warn("token is not a parsable JWT", logging.Err(err))
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(time.Now()) {
		logging.Warn("bearer token is expired",
			logging.String("expired_at", exp.Format(time.RFC3339)))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logging.Info("metrics listening", logging.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Warn("metrics server stopped", logging.Err(err))
	}
}

func printTree(tn *store.TreeNode, depth int) {
	name := tn.DisplayName()
	if tn.Kind == models.KindFolder && tn.Path != "/" {
		name += "/"
	}
	fmt.Printf("%s%s%s\n", strings.Repeat("  ", depth), name, statusMarker(tn.FileNode))
	for _, child := range tn.Children {
		printTree(child, depth+1)
	}
}

func statusMarker(n models.FileNode) string {
	if n.Kind == models.KindFolder {
		return ""
	}
	switch n.Status {
	case models.StatusStreaming, models.StatusGenerating:
		return " (generating)"
	case models.StatusError:
		return " (error)"
	case models.StatusPending:
		return " (pending)"
	default:
		return ""
	}
}
