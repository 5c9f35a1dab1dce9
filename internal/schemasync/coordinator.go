// Package schemasync keeps language servers supplied with the schema of
// the connection bound to each open document.
//
// The Coordinator owns all per-document state: the last connection a fetch
// was started for, the schemas staged for delivery and the folding range
// cache. Document events go through OnDocumentEvent; closing a document
// must be reported through Forget so no state outlives the document.
package schemasync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leapstack-labs/schemasync/internal/connection"
	"github.com/leapstack-labs/schemasync/internal/document"
	"github.com/leapstack-labs/schemasync/internal/folding"
	"github.com/leapstack-labs/schemasync/internal/lsp"
	"github.com/leapstack-labs/schemasync/internal/schema"
)

// Fetcher returns the narrowed schema for a connection.
type Fetcher interface {
	Fetch(ctx context.Context, desc connection.Descriptor) (*schema.EngineSchema, error)
}

// Options configure a Coordinator.
type Options struct {
	Registry    *document.Registry
	Eligibility connection.Eligibility
	Fetcher     Fetcher

	// Client is the language client used on desktop hosts. May be nil on
	// web hosts.
	Client LanguageClient
	// InProcess receives schemas on web hosts.
	InProcess InProcessService
	// Mode is consulted on every flush. Nil means HostDesktop.
	Mode func() HostMode

	// RejectStale discards a fetch that completes after a newer fetch for
	// the same document was started.
	RejectStale bool
	// RetryFailed forgets the connection after a failed fetch so an
	// identical event fetches again.
	RetryFailed bool

	Logger  *slog.Logger
	Metrics *Metrics
}

type tracked struct {
	lastSent connection.Descriptor
	hasLast  bool
	seq      uint64
}

// Coordinator tracks documents and routes their schemas to a sink.
type Coordinator struct {
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
	remote  *RemoteSink
	local   *InProcessSink
	folding *folding.Cache

	mu      sync.Mutex
	tracked map[*document.Document]*tracked
	pending map[*document.Document]*schema.EngineSchema

	flushMu     sync.Mutex
	unsubscribe func()
}

// New creates a Coordinator. Call Start to sweep open documents and hook
// the language client.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if opts.Mode == nil {
		opts.Mode = func() HostMode { return HostDesktop }
	}
	if opts.Registry == nil {
		opts.Registry = document.NewRegistry()
	}
	return &Coordinator{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		remote:  NewRemoteSink(opts.Client, logger),
		local:   NewInProcessSink(opts.InProcess),
		folding: folding.New(opts.Registry, logger),
		tracked: make(map[*document.Document]*tracked),
		pending: make(map[*document.Document]*schema.EngineSchema),
	}
}

// Folding returns the folding range cache fed by the language server.
func (c *Coordinator) Folding() *folding.Cache {
	return c.folding
}

// Start hooks the language client and sweeps every document that is
// already open. When the client reaches Running the foldingRanges handler
// is registered and everything staged so far is flushed once.
func (c *Coordinator) Start(ctx context.Context) {
	if c.opts.Client != nil && c.unsubscribe == nil {
		c.unsubscribe = c.opts.Client.OnStateChange(func(s lsp.State) {
			if s != lsp.StateRunning {
				return
			}
			c.opts.Client.OnNotification(lsp.MethodFoldingRanges, c.handleFoldingRanges)
			c.logger.Debug("language client running, flushing staged schemas")
			c.Flush()
		})
		if c.opts.Client.IsRunning() {
			c.opts.Client.OnNotification(lsp.MethodFoldingRanges, c.handleFoldingRanges)
		}
	}

	for _, nb := range c.opts.Registry.Notebooks() {
		c.OnDocumentEvent(ctx, nb)
	}
	for _, doc := range c.opts.Registry.TextDocuments() {
		if doc.IsCell() {
			continue
		}
		c.OnDocumentEvent(ctx, doc)
	}
}

// Close detaches from the language client.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// OnDocumentEvent handles a document open, notebook open or connection
// change. It fetches and stages a schema at most once per distinct
// connection per document, then flushes. It blocks while fetching.
func (c *Coordinator) OnDocumentEvent(ctx context.Context, doc *document.Document) Outcome {
	outcome := c.handle(ctx, doc)
	c.metrics.observeEvent(outcome)
	return outcome
}

func (c *Coordinator) handle(ctx context.Context, doc *document.Document) Outcome {
	target := c.opts.Eligibility.Normalize(doc)
	if target == nil {
		return OutcomeIneligible
	}

	desc, ok := connection.Resolve(target)
	if !ok {
		return OutcomeNoConnection
	}
	if err := desc.Validate(); err != nil {
		c.logger.Debug("skipping invalid connection", slog.String("uri", target.URI()), slog.String("error", err.Error()))
		return OutcomeInvalid
	}

	c.mu.Lock()
	st := c.tracked[target]
	if st == nil {
		st = &tracked{}
		c.tracked[target] = st
	}
	if st.hasLast && st.lastSent.Equal(desc) {
		c.mu.Unlock()
		return OutcomeUnchanged
	}
	// Recorded before fetching so events arriving mid-fetch dedupe.
	st.lastSent = desc
	st.hasLast = true
	st.seq++
	seq := st.seq
	c.mu.Unlock()

	c.logger.Debug("fetching schema", slog.String("uri", target.URI()), slog.String("connection", desc.String()))
	started := time.Now()
	s, err := c.opts.Fetcher.Fetch(ctx, desc)
	c.metrics.observeFetch(time.Since(started))

	c.mu.Lock()
	if c.tracked[target] != st {
		c.mu.Unlock()
		c.logger.Debug("document closed during fetch", slog.String("uri", target.URI()))
		return OutcomeClosed
	}
	if err != nil {
		if c.opts.RetryFailed && st.seq == seq && st.lastSent.Equal(desc) {
			st.hasLast = false
		}
		c.mu.Unlock()
		c.logger.Warn("schema fetch failed",
			slog.String("uri", target.URI()),
			slog.String("connection", desc.String()),
			slog.String("error", err.Error()))
		return OutcomeFetchFailed
	}
	if c.opts.RejectStale && st.seq != seq {
		c.mu.Unlock()
		c.logger.Debug("discarding stale schema", slog.String("uri", target.URI()), slog.String("connection", desc.String()))
		return OutcomeStale
	}
	c.pending[target] = s
	c.metrics.pending.Set(float64(len(c.pending)))
	c.mu.Unlock()

	c.Flush()
	return OutcomeStaged
}

// Forget drops all state for a closed document.
func (c *Coordinator) Forget(doc *document.Document) {
	if doc == nil {
		return
	}
	if nb := doc.Notebook(); nb != nil {
		doc = nb
	}
	c.mu.Lock()
	delete(c.tracked, doc)
	delete(c.pending, doc)
	c.metrics.pending.Set(float64(len(c.pending)))
	c.mu.Unlock()
	c.folding.Forget(doc)
}

// Flush delivers every staged schema to the sink selected by the current
// host mode and returns the number delivered. Nothing is delivered and
// nothing is cleared when the sink is not ready.
func (c *Coordinator) Flush() int {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	sink := c.sink()
	if !sink.Ready() {
		c.metrics.flushSkipped.Inc()
		c.logger.Debug("sink not ready, keeping schemas staged", slog.String("sink", sink.Name()))
		return 0
	}

	c.mu.Lock()
	staged := c.pending
	c.pending = make(map[*document.Document]*schema.EngineSchema)
	c.metrics.pending.Set(0)
	c.mu.Unlock()

	docs := make([]*document.Document, 0, len(staged))
	for doc := range staged {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].URI() < docs[j].URI() })

	logged := make(map[string]bool)
	for _, doc := range docs {
		s := staged[doc]
		if sig := s.Signature(); !logged[sig] {
			logged[sig] = true
			c.logger.Info("sending schema",
				slog.String("sink", sink.Name()),
				slog.String("document", doc.ID().String()),
				slog.String("cluster", s.Cluster.ConnectionString),
				slog.String("database", s.DatabaseName()))
		}
		sink.Deliver(doc, s)
		c.metrics.deliveries.WithLabelValues(sink.Name()).Inc()
	}
	return len(docs)
}

// Pending returns the number of staged schemas.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Staged returns the schema staged for doc, or nil.
func (c *Coordinator) Staged(doc *document.Document) *schema.EngineSchema {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[doc]
}

// LastSent returns the connection most recently fetched for doc.
func (c *Coordinator) LastSent(doc *document.Document) (connection.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.tracked[doc]
	if st == nil || !st.hasLast {
		return connection.Descriptor{}, false
	}
	return st.lastSent, true
}

func (c *Coordinator) sink() Sink {
	if c.opts.Mode() == HostWeb {
		return c.local
	}
	return c.remote
}

func (c *Coordinator) handleFoldingRanges(_ string, raw json.RawMessage) {
	var params lsp.FoldingRangesParams
	if err := lsp.DecodeParams(raw, &params); err != nil {
		c.logger.Warn("invalid foldingRanges notification", slog.String("error", err.Error()))
		return
	}
	c.folding.SetRanges(params.URI, params.FoldingRanges)
}
