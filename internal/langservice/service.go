// Package langservice is the in-process language service used on web
// hosts and by the companion language server. It keeps the engine schema
// per document URI and answers completion and folding queries from it.
package langservice

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/schemasync/internal/document"
	"github.com/leapstack-labs/schemasync/internal/schema"
)

// CompletionKind classifies a completion.
type CompletionKind int

const (
	CompletionTable CompletionKind = iota + 1
	CompletionColumn
)

// Completion is a single completion candidate.
type Completion struct {
	Label  string
	Kind   CompletionKind
	Detail string
}

// Service stores engine schemas for open documents.
type Service struct {
	registry *document.Registry
	logger   *slog.Logger

	mu      sync.RWMutex
	schemas map[string]*schema.EngineSchema
}

// New creates a Service bound to registry. If logger is nil, a discard
// logger is used.
func New(registry *document.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		registry: registry,
		logger:   logger,
		schemas:  make(map[string]*schema.EngineSchema),
	}
}

// SetDocumentEngineSchema installs s for doc. It is a no-op when doc is
// no longer open.
func (sv *Service) SetDocumentEngineSchema(doc *document.Document, s *schema.EngineSchema) {
	if doc == nil || !sv.registry.IsOpen(doc) {
		sv.logger.Debug("ignoring schema for closed document", slog.Any("document", doc))
		return
	}
	sv.SetSchema(doc.URI(), s)
}

// SetSchema installs s for uri without checking the registry. Remote
// servers track document lifecycle themselves.
func (sv *Service) SetSchema(uri string, s *schema.EngineSchema) {
	sv.mu.Lock()
	sv.schemas[uri] = s
	sv.mu.Unlock()
	sv.logger.Debug("engine schema set",
		slog.String("uri", uri),
		slog.String("signature", s.Signature()))
}

// Schema returns the schema installed for uri, or nil.
func (sv *Service) Schema(uri string) *schema.EngineSchema {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.schemas[uri]
}

// Remove drops the schema for uri.
func (sv *Service) Remove(uri string) {
	sv.mu.Lock()
	delete(sv.schemas, uri)
	sv.mu.Unlock()
}

// Completions returns tables of the selected database and their columns
// whose names start with prefix (case-insensitive). Cell URIs use the
// schema of their notebook. Without a selected database there are none.
func (sv *Service) Completions(uri, prefix string) []Completion {
	s := sv.Schema(uri)
	if s == nil {
		s = sv.Schema(notebookURI(uri))
	}
	if s == nil || s.Database == nil {
		return nil
	}

	prefix = strings.ToLower(prefix)
	seen := make(map[string]bool)
	var out []Completion
	for _, t := range s.Database.Tables {
		if strings.HasPrefix(strings.ToLower(t.Name), prefix) {
			out = append(out, Completion{Label: t.Name, Kind: CompletionTable, Detail: "table"})
		}
		for _, c := range t.Columns {
			if seen[c.Name] || !strings.HasPrefix(strings.ToLower(c.Name), prefix) {
				continue
			}
			seen[c.Name] = true
			out = append(out, Completion{Label: c.Name, Kind: CompletionColumn, Detail: t.Name + "." + c.Name + ": " + c.Type})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func notebookURI(uri string) string {
	if i := strings.LastIndex(uri, "#cell"); i >= 0 {
		return uri[:i]
	}
	return uri
}
