package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OpenGetClose(t *testing.T) {
	reg := NewRegistry()
	doc := NewTextDocument("file:///q.kql", LanguageKusto, "StormEvents | take 10", nil)

	reg.Open(doc)
	assert.True(t, reg.IsOpen(doc))
	assert.Same(t, doc, reg.Get("file:///q.kql"))
	assert.Same(t, doc, reg.FindTextDocument("file:///q.kql"))

	assert.True(t, reg.Close(doc))
	assert.False(t, reg.IsOpen(doc))
	assert.Nil(t, reg.Get("file:///q.kql"))
	assert.False(t, reg.Close(doc), "second close reports not open")
}

func TestRegistry_NotebookCells(t *testing.T) {
	reg := NewRegistry()
	nb := NewNotebook("file:///n.knb", NotebookKusto, nil, []CellSpec{
		{LanguageID: LanguageKusto, Content: "T | take 1"},
		{LanguageID: "markdown", Content: "# notes"},
	})

	reg.Open(nb)
	require.Len(t, nb.Cells(), 2)
	cell := nb.Cells()[0]

	assert.True(t, reg.IsOpen(cell))
	assert.Same(t, cell, reg.FindTextDocument(CellURI("file:///n.knb", 0)))
	assert.Nil(t, reg.FindTextDocument("file:///n.knb"), "notebooks are not text documents")
	assert.Equal(t, []*Document{nb}, reg.Notebooks())
	assert.Len(t, reg.TextDocuments(), 2)

	reg.Close(nb)
	assert.False(t, reg.IsOpen(cell))
	assert.Equal(t, 0, reg.Len())
}

func TestDocument_NotebookOwnership(t *testing.T) {
	nb := NewNotebook("file:///n.knb", NotebookKusto, nil, []CellSpec{{LanguageID: LanguageKusto}})
	cell := nb.Cells()[0]
	text := NewTextDocument("file:///q.kql", LanguageKusto, "", nil)

	assert.Same(t, nb, cell.Notebook())
	assert.Same(t, nb, nb.Notebook())
	assert.Nil(t, text.Notebook())
	assert.True(t, cell.IsCell())
	assert.Equal(t, NotebookKusto, cell.NotebookType())
	assert.Equal(t, "cell", cell.Kind().String())
}

func TestDocument_MetadataIsCopied(t *testing.T) {
	meta := map[string]any{"connection": "x"}
	doc := NewTextDocument("file:///q.kql", LanguageKusto, "", meta)

	meta["connection"] = "changed"
	got := doc.Metadata()
	got["other"] = 1

	assert.Equal(t, map[string]any{"connection": "x"}, doc.Metadata())
}

func TestExtractFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected map[string]any
		wantErr  bool
	}{
		{
			name:     "no front matter",
			content:  "StormEvents | count",
			expected: nil,
		},
		{
			name: "connection block",
			content: `/*---
connection:
  cluster: help
  database: Samples
---*/
StormEvents | count`,
			expected: map[string]any{
				"connection": map[string]any{"cluster": "help", "database": "Samples"},
			},
		},
		{
			name:    "invalid yaml",
			content: "/*---\nconnection: [\n---*/\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractFrontmatter(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParse_TextDocument(t *testing.T) {
	doc, err := Parse("file:///w/q.kql", []byte("/*---\nconnection:\n  cluster: help\n---*/\nT | take 1"))
	require.NoError(t, err)

	assert.Equal(t, KindText, doc.Kind())
	assert.Equal(t, LanguageKusto, doc.LanguageID())
	assert.Equal(t, map[string]any{"cluster": "help"}, doc.Metadata()["connection"])
}

func TestParse_KustoNotebook(t *testing.T) {
	data := `{
  "metadata": {"connection": {"cluster": "help", "database": "ContosoSales"}},
  "cells": [
    {"kind": "code", "source": "SalesFact | take 10"},
    {"kind": "markdown", "source": "# Title"}
  ]
}`
	doc, err := Parse("file:///w/sales.knb", []byte(data))
	require.NoError(t, err)

	assert.Equal(t, KindNotebook, doc.Kind())
	assert.Equal(t, NotebookKusto, doc.NotebookType())
	cells := doc.Cells()
	require.Len(t, cells, 2)
	assert.Equal(t, LanguageKusto, cells[0].LanguageID())
	assert.Equal(t, "SalesFact | take 10", cells[0].Content())
	assert.Equal(t, "markdown", cells[1].LanguageID())
}

func TestParse_JupyterNotebook(t *testing.T) {
	data := `{
  "metadata": {"language_info": {"name": "kusto"}},
  "cells": [{"cell_type": "code", "source": ["StormEvents\n", "| take 1"]}]
}`
	doc, err := Parse("file:///w/a.ipynb", []byte(data))
	require.NoError(t, err)

	assert.Equal(t, NotebookJupyter, doc.NotebookType())
	require.Len(t, doc.Cells(), 1)
	assert.Equal(t, "StormEvents\n| take 1", doc.Cells()[0].Content())
	assert.Equal(t, "kusto", doc.Cells()[0].LanguageID())
}

func TestParse_Unsupported(t *testing.T) {
	_, err := Parse("file:///w/readme.md", []byte("# hi"))

	var unsupported *UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.False(t, IsSupportedPath("readme.md"))
	assert.True(t, IsSupportedPath("Q.KQL"))
}

func TestReload_KeepsIdentity(t *testing.T) {
	doc, err := Parse("file:///w/q.kql", []byte("/*---\nconnection:\n  cluster: a\n---*/\n"))
	require.NoError(t, err)
	id := doc.ID()

	require.NoError(t, Reload(doc, []byte("/*---\nconnection:\n  cluster: b\n---*/\n")))

	assert.Equal(t, id, doc.ID())
	assert.Equal(t, map[string]any{"cluster": "b"}, doc.Metadata()["connection"])
}

func TestReload_NotebookRebuildsCells(t *testing.T) {
	reg := NewRegistry()
	nb, err := Parse("file:///w/n.knb", []byte(`{"cells":[{"source":"a"}]}`))
	require.NoError(t, err)
	reg.Open(nb)
	old := nb.Cells()[0]

	require.NoError(t, Reload(nb, []byte(`{"cells":[{"source":"b"},{"source":"c"}]}`)))
	reg.Open(nb)

	assert.False(t, reg.IsOpen(old))
	assert.Len(t, nb.Cells(), 2)
	assert.Equal(t, "b", reg.FindTextDocument(CellURI("file:///w/n.knb", 0)).Content())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "query.csl")
	require.NoError(t, os.WriteFile(path, []byte("T | count"), 0o600))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, PathToURI(path), doc.URI())
	assert.Equal(t, "T | count", doc.Content())
}
