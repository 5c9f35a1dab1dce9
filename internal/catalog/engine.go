// Package catalog is the schema-fetching engine. It reads a cluster's
// database/table/column catalog through a registered adapter and caches
// the result per cluster.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/schemasync/internal/connection"
	"github.com/leapstack-labs/schemasync/internal/schema"
	"github.com/leapstack-labs/schemasync/pkg/adapter"
)

// Options control a single GetSchema call.
type Options struct {
	// BypassCache skips the cached catalog and refreshes it.
	BypassCache bool
	// HideProgress suppresses progress callbacks.
	HideProgress bool
}

// Stage names reported to the progress callback.
const (
	StageConnecting = "connecting"
	StageLoading    = "loading"
	StageDone       = "done"
)

// ProgressFunc receives progress updates while a catalog is loaded.
type ProgressFunc func(desc connection.Descriptor, stage string)

// AdapterFactory creates an unconnected adapter for a config.
type AdapterFactory func(cfg adapter.Config, logger *slog.Logger) (adapter.Adapter, error)

// Engine loads and caches cluster catalogs.
type Engine struct {
	logger     *slog.Logger
	progress   ProgressFunc
	newAdapter AdapterFactory

	mu    sync.Mutex
	cache map[string]*schema.EngineSchema
}

// Option configures an Engine.
type Option func(*Engine)

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithAdapterFactory replaces the adapter registry lookup.
func WithAdapterFactory(fn AdapterFactory) Option {
	return func(e *Engine) { e.newAdapter = fn }
}

// New creates an Engine. If logger is nil, a discard logger is used.
func New(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		logger:     logger,
		newAdapter: adapter.NewAdapter,
		cache:      make(map[string]*schema.EngineSchema),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetSchema returns the full catalog of the descriptor's cluster. The
// returned value is a copy owned by the caller.
func (e *Engine) GetSchema(ctx context.Context, desc connection.Descriptor, opts Options) (*schema.EngineSchema, error) {
	key := cacheKey(desc)

	if !opts.BypassCache {
		e.mu.Lock()
		cached, ok := e.cache[key]
		e.mu.Unlock()
		if ok {
			e.logger.Debug("catalog cache hit", slog.String("cluster", desc.Cluster))
			return cached.Clone(), nil
		}
	}

	loaded, err := e.load(ctx, desc, opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = loaded
	e.mu.Unlock()

	return loaded.Clone(), nil
}

// Invalidate drops the cached catalog for a cluster.
func (e *Engine) Invalidate(desc connection.Descriptor) {
	e.mu.Lock()
	delete(e.cache, cacheKey(desc))
	e.mu.Unlock()
}

func (e *Engine) load(ctx context.Context, desc connection.Descriptor, opts Options) (*schema.EngineSchema, error) {
	report := func(stage string) {
		if e.progress != nil && !opts.HideProgress {
			e.progress(desc, stage)
		}
	}

	adapterType := desc.AdapterType()
	if adapterType == "" {
		return nil, fmt.Errorf("cannot determine adapter for cluster %q: use a URI scheme or set type", desc.Cluster)
	}

	report(StageConnecting)
	cfg := adapter.Config{Type: adapterType, DSN: desc.Cluster}
	adp, err := e.newAdapter(cfg, e.logger)
	if err != nil {
		return nil, err
	}
	if err := adp.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", desc.Cluster, err)
	}
	defer func() {
		if cerr := adp.Close(); cerr != nil {
			e.logger.Warn("failed to close adapter", slog.String("cluster", desc.Cluster), slog.String("error", cerr.Error()))
		}
	}()

	report(StageLoading)
	dbs, err := adp.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog for %s: %w", desc.Cluster, err)
	}
	report(StageDone)

	e.logger.Debug("catalog loaded",
		slog.String("cluster", desc.Cluster),
		slog.String("adapter", adp.DialectName()),
		slog.Int("databases", len(dbs)))

	return &schema.EngineSchema{
		Cluster: schema.Cluster{ConnectionString: desc.Cluster, Databases: dbs},
	}, nil
}

func cacheKey(desc connection.Descriptor) string {
	return desc.AdapterType() + "|" + desc.Cluster
}
