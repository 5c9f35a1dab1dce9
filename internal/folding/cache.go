// Package folding caches server-computed folding ranges per open document.
package folding

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/leapstack-labs/schemasync/internal/document"
	"github.com/leapstack-labs/schemasync/internal/lsp"
)

// Range is a foldable line span in a document, zero-based and inclusive.
type Range struct {
	Start int
	End   int
	Kind  string
}

// Cache maps open documents to their latest folding ranges. Entries are
// replaced wholesale on every update and dropped by Forget.
type Cache struct {
	registry *document.Registry
	logger   *slog.Logger

	mu        sync.RWMutex
	ranges    map[*document.Document][]Range
	listeners []func(*document.Document)
}

// New creates a cache resolving URIs through registry.
func New(registry *document.Registry, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		registry: registry,
		logger:   logger,
		ranges:   make(map[*document.Document][]Range),
	}
}

// OnDidChange subscribes fn to range updates.
func (c *Cache) OnDidChange(fn func(*document.Document)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// SetRanges converts raw ranges and stores them for the open text document
// with the given URI, then notifies subscribers. Unknown URIs are ignored.
func (c *Cache) SetRanges(uri string, raw []lsp.FoldingRange) {
	doc := c.registry.FindTextDocument(uri)
	if doc == nil {
		c.logger.Debug("folding ranges for unknown document", slog.String("uri", uri))
		return
	}

	converted := make([]Range, 0, len(raw))
	for _, r := range raw {
		converted = append(converted, Range{Start: int(r.StartLine), End: int(r.EndLine), Kind: string(r.Kind)})
	}

	c.mu.Lock()
	c.pruneLocked()
	c.ranges[doc] = converted
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(doc)
	}
}

// GetRanges returns the cached ranges for doc, or an empty slice.
func (c *Cache) GetRanges(doc *document.Document) []Range {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.ranges[doc]
	if !ok {
		return []Range{}
	}
	return append([]Range(nil), r...)
}

// Forget drops the entry for a closed document. Forgetting a notebook
// also drops its cells.
func (c *Cache) Forget(doc *document.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for d := range c.ranges {
		if d == doc || d.Notebook() == doc {
			delete(c.ranges, d)
		}
	}
	c.pruneLocked()
}

// pruneLocked drops entries for handles the registry no longer holds,
// such as cells replaced when their notebook was reloaded.
func (c *Cache) pruneLocked() {
	for d := range c.ranges {
		if !c.registry.IsOpen(d) {
			delete(c.ranges, d)
		}
	}
}

// Len returns the number of documents with cached ranges.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ranges)
}
