package document

import (
	"sort"
	"sync"
)

// Registry is the set of currently open documents.
//
// The registry is the only owner of open handles. Closing a document
// removes it (and its cells) explicitly; components that key state by
// handle are expected to drop that state when told about the close.
type Registry struct {
	mu    sync.RWMutex
	open  map[*Document]struct{}
	byURI map[string]*Document
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		open:  make(map[*Document]struct{}),
		byURI: make(map[string]*Document),
	}
}

// Open adds doc to the registry. Opening an already open notebook
// re-indexes its cells.
func (r *Registry) Open(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if doc.kind == KindNotebook {
		r.dropCellsLocked(doc)
		for _, c := range doc.Cells() {
			r.open[c] = struct{}{}
			r.byURI[c.uri] = c
		}
	}
	r.open[doc] = struct{}{}
	r.byURI[doc.uri] = doc
}

// Close removes doc and, for notebooks, its cells. It reports whether doc
// was open.
func (r *Registry) Close(doc *Document) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.open[doc]; !ok {
		return false
	}
	if doc.kind == KindNotebook {
		r.dropCellsLocked(doc)
	}
	delete(r.open, doc)
	if r.byURI[doc.uri] == doc {
		delete(r.byURI, doc.uri)
	}
	return true
}

// dropCellsLocked removes every indexed cell owned by nb.
func (r *Registry) dropCellsLocked(nb *Document) {
	for d := range r.open {
		if d.kind == KindCell && d.notebook == nb {
			delete(r.open, d)
			if r.byURI[d.uri] == d {
				delete(r.byURI, d.uri)
			}
		}
	}
}

// IsOpen reports whether doc is currently open.
func (r *Registry) IsOpen(doc *Document) bool {
	if doc == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.open[doc]
	return ok
}

// Get returns the open document with the given URI.
func (r *Registry) Get(uri string) *Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byURI[uri]
}

// FindTextDocument returns the open text document or cell with the given
// URI. Notebooks themselves are not text documents.
func (r *Registry) FindTextDocument(uri string) *Document {
	doc := r.Get(uri)
	if doc == nil || doc.kind == KindNotebook {
		return nil
	}
	return doc
}

// Notebooks returns all open notebooks ordered by URI.
func (r *Registry) Notebooks() []*Document {
	return r.list(func(d *Document) bool { return d.kind == KindNotebook })
}

// TextDocuments returns all open text documents and cells ordered by URI.
func (r *Registry) TextDocuments() []*Document {
	return r.list(func(d *Document) bool { return d.kind != KindNotebook })
}

// Len returns the number of open handles, cells included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.open)
}

func (r *Registry) list(keep func(*Document) bool) []*Document {
	r.mu.RLock()
	docs := make([]*Document, 0, len(r.open))
	for d := range r.open {
		if keep(d) {
			docs = append(docs, d)
		}
	}
	r.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].uri < docs[j].uri })
	return docs
}
