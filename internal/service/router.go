package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	relayotel "github.com/Strob0t/agentrelay/internal/adapter/otel"
	"github.com/Strob0t/agentrelay/internal/domain/routing"
)

const reloadDebounce = 100 * time.Millisecond

type routerState struct {
	table     *routing.Table
	extractor routing.Extractor
}

// Router classifies work requests onto agents with an ordered rule table.
// The table can be swapped at any time; in-flight classifications finish
// against the table they started with.
type Router struct {
	state   atomic.Pointer[routerState]
	metrics *relayotel.Metrics
}

// NewRouter creates a router over table.
func NewRouter(table *routing.Table, x routing.Extractor) *Router {
	r := &Router{}
	r.SetTable(table, x)
	return r
}

// SetMetrics enables miss counting.
func (r *Router) SetMetrics(m *relayotel.Metrics) { r.metrics = m }

// SetTable replaces the rule table and extractor.
func (r *Router) SetTable(table *routing.Table, x routing.Extractor) {
	r.state.Store(&routerState{table: table, extractor: x})
}

// Table returns the active rule table.
func (r *Router) Table() *routing.Table {
	return r.state.Load().table
}

// Classify returns the agent for a validated request. The first rule to
// accept the request wins; stages are tried in the order exact, code,
// keyword. A miss is logged with a digest of the content.
func (r *Router) Classify(ctx context.Context, req routing.WorkRequest) (routing.Decision, bool) {
	s := r.state.Load()
	f := s.extractor.Extract(req)
	if d, ok := s.table.Match(f, nil); ok {
		slog.DebugContext(ctx, "request routed", "agent", d.Agent, "stage", d.Stage, "rule", d.Pattern)
		return d, true
	}

	sum := sha256.Sum256([]byte(req.Content))
	slog.WarnContext(ctx, "no routing rule matched",
		"digest", hex.EncodeToString(sum[:8]),
		"kind", req.Kind,
		"size", len(req.Content),
		"types", f.Types,
		"codes", f.Codes,
	)
	if r.metrics != nil {
		r.metrics.RouteMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(req.Kind))))
	}
	return routing.Decision{}, false
}

// WatchFile reloads the table from path whenever the file changes, until
// ctx is done. A file that fails to load leaves the current table active.
func (r *Router) WatchFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve rules path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	// Watch the directory: editors replace files rather than writing in place.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	slog.Info("watching routing rules", "path", abs)
	go r.watchLoop(ctx, watcher, abs)
	return nil
}

func (r *Router) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer func() { _ = watcher.Close() }()

	reload := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			r.reload(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("routing rules watcher error", "error", err)
		}
	}
}

func (r *Router) reload(path string) {
	table, x, err := routing.LoadFromFile(path)
	if err != nil {
		slog.Error("routing rules reload failed, keeping current table", "path", path, "error", err)
		return
	}
	r.SetTable(table, x)
	slog.Info("routing rules reloaded", "path", path, "rules", len(table.Rules()), "agents", len(table.Agents()))
}
