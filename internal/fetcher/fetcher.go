// Package fetcher wraps the catalog engine with a per-call timeout,
// collapses concurrent identical fetches and narrows the result to the
// descriptor's database.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/schemasync/internal/catalog"
	"github.com/leapstack-labs/schemasync/internal/connection"
	"github.com/leapstack-labs/schemasync/internal/schema"
)

// DefaultTimeout bounds a single fetch when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Engine is the schema engine consumed by the fetcher.
type Engine interface {
	GetSchema(ctx context.Context, desc connection.Descriptor, opts catalog.Options) (*schema.EngineSchema, error)
}

// Options configure a Fetcher.
type Options struct {
	Timeout      time.Duration
	BypassCache  bool
	HideProgress bool
}

// FetchError reports a failed fetch. Timeout is set when the deadline
// elapsed before the engine answered.
type FetchError struct {
	Cluster  string
	Database string
	Timeout  bool
	Err      error
}

func (e *FetchError) Error() string {
	target := e.Cluster
	if e.Database != "" {
		target += "/" + e.Database
	}
	if e.Timeout {
		return fmt.Sprintf("schema fetch for %s timed out: %v", target, e.Err)
	}
	return fmt.Sprintf("schema fetch for %s failed: %v", target, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher fetches narrowed schemas.
type Fetcher struct {
	engine Engine
	opts   Options
	logger *slog.Logger
	group  singleflight.Group
}

// New creates a Fetcher. If logger is nil, a discard logger is used.
func New(engine Engine, opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Fetcher{engine: engine, opts: opts, logger: logger}
}

// Fetch returns the descriptor's catalog narrowed to its database, or to
// the first database when the named one is absent. Errors are *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, desc connection.Descriptor) (*schema.EngineSchema, error) {
	// Callers sharing the key receive the same engine result and narrow
	// their own copy.
	key := desc.AdapterType() + "|" + desc.Cluster
	v, err, shared := f.group.Do(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.opts.Timeout)
		defer cancel()
		return f.engine.GetSchema(fctx, desc, catalog.Options{
			BypassCache:  f.opts.BypassCache,
			HideProgress: f.opts.HideProgress,
		})
	})
	if err != nil {
		return nil, &FetchError{
			Cluster:  desc.Cluster,
			Database: desc.Database,
			Timeout:  errors.Is(err, context.DeadlineExceeded),
			Err:      err,
		}
	}

	full, _ := v.(*schema.EngineSchema)
	if full == nil {
		return nil, &FetchError{Cluster: desc.Cluster, Database: desc.Database, Err: errors.New("engine returned no schema")}
	}

	narrowed := full.Narrow(desc.Database)
	f.logger.Debug("schema fetched",
		slog.String("connection", desc.String()),
		slog.String("database", narrowed.DatabaseName()),
		slog.Bool("shared", shared))
	return narrowed, nil
}
