// Package document models the editor documents whose schema is kept in
// sync: plain query documents, notebooks, and the cells inside notebooks.
//
// A *Document is an identity handle. Two handles are the same document iff
// they are the same pointer; reloading a file updates the existing handle
// in place so that per-document state keyed by the handle survives edits.
package document

import (
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Kind distinguishes the three document shapes.
type Kind int

const (
	KindText Kind = iota
	KindNotebook
	KindCell
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNotebook:
		return "notebook"
	case KindCell:
		return "cell"
	default:
		return "unknown"
	}
}

// Document is an open text document, notebook, or notebook cell.
type Document struct {
	id           uuid.UUID
	uri          string
	kind         Kind
	notebookType string
	notebook     *Document // owning notebook, cells only

	mu         sync.RWMutex
	languageID string
	content    string
	metadata   map[string]any
	cells      []*Document
}

// CellSpec describes one notebook cell when building a notebook.
type CellSpec struct {
	LanguageID string
	Content    string
}

// NewTextDocument creates a plain text document handle.
func NewTextDocument(uri, languageID, content string, metadata map[string]any) *Document {
	return &Document{
		id:         uuid.New(),
		uri:        uri,
		kind:       KindText,
		languageID: languageID,
		content:    content,
		metadata:   maps.Clone(metadata),
	}
}

// NewNotebook creates a notebook handle together with its cell handles.
func NewNotebook(uri, notebookType string, metadata map[string]any, cells []CellSpec) *Document {
	nb := &Document{
		id:           uuid.New(),
		uri:          uri,
		kind:         KindNotebook,
		notebookType: notebookType,
		metadata:     maps.Clone(metadata),
	}
	nb.cells = nb.buildCells(cells)
	return nb
}

func (d *Document) buildCells(specs []CellSpec) []*Document {
	cells := make([]*Document, 0, len(specs))
	for i, spec := range specs {
		cells = append(cells, &Document{
			id:         uuid.New(),
			uri:        CellURI(d.uri, i),
			kind:       KindCell,
			notebook:   d,
			languageID: spec.LanguageID,
			content:    spec.Content,
		})
	}
	return cells
}

// ID returns the unique handle ID, stable for the lifetime of the handle.
func (d *Document) ID() uuid.UUID { return d.id }

// URI returns the document URI.
func (d *Document) URI() string { return d.uri }

// Kind returns the document kind.
func (d *Document) Kind() Kind { return d.kind }

// NotebookType returns the notebook kind (e.g. "kusto-notebook"); empty for
// text documents. Cells report the type of their notebook.
func (d *Document) NotebookType() string {
	if d.kind == KindCell && d.notebook != nil {
		return d.notebook.notebookType
	}
	return d.notebookType
}

// Notebook returns the notebook a document belongs to: the owning notebook
// for a cell, the document itself for a notebook, nil for text documents.
func (d *Document) Notebook() *Document {
	switch d.kind {
	case KindCell:
		return d.notebook
	case KindNotebook:
		return d
	default:
		return nil
	}
}

// IsCell reports whether d is a notebook cell.
func (d *Document) IsCell() bool { return d.kind == KindCell }

// LanguageID returns the language tag of a text document or cell.
func (d *Document) LanguageID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.languageID
}

// Content returns the text of a text document or cell.
func (d *Document) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// Metadata returns a shallow copy of the document-level metadata.
func (d *Document) Metadata() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.metadata)
}

// Cells returns the cells of a notebook.
func (d *Document) Cells() []*Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Document(nil), d.cells...)
}

// SetMetadata replaces the document-level metadata.
func (d *Document) SetMetadata(metadata map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metadata = maps.Clone(metadata)
}

// SetContent replaces the text of a text document or cell.
func (d *Document) SetContent(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = content
}

// replaceFrom copies the mutable state of src into d, keeping d's identity.
// Notebook cells are rebuilt.
func (d *Document) replaceFrom(src *Document) {
	var cells []CellSpec
	if d.kind == KindNotebook {
		for _, c := range src.Cells() {
			cells = append(cells, CellSpec{LanguageID: c.LanguageID(), Content: c.Content()})
		}
	}
	newCells := d.buildCells(cells)

	src.mu.RLock()
	defer src.mu.RUnlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.languageID = src.languageID
	d.content = src.content
	d.metadata = maps.Clone(src.metadata)
	if d.kind == KindNotebook {
		d.cells = newCells
	}
}

// String returns the URI, used in log lines.
func (d *Document) String() string { return d.uri }
