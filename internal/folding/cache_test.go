package folding

import (
	"testing"

	"github.com/leapstack-labs/schemasync/internal/document"
	"github.com/leapstack-labs/schemasync/internal/lsp"
	"github.com/leapstack-labs/schemasync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetRangesEmpty(t *testing.T) {
	c := New(document.NewRegistry(), testutil.NewTestLogger(t))
	doc := document.NewTextDocument("file:///q.kql", document.LanguageKusto, "", nil)

	got := c.GetRanges(doc)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCache_SetRanges(t *testing.T) {
	reg := document.NewRegistry()
	c := New(reg, testutil.NewTestLogger(t))
	doc := document.NewTextDocument("file:///q.kql", document.LanguageKusto, "", nil)
	reg.Open(doc)

	var changed []*document.Document
	c.OnDidChange(func(d *document.Document) { changed = append(changed, d) })

	c.SetRanges("file:///q.kql", []lsp.FoldingRange{
		{StartLine: 0, EndLine: 2, Kind: lsp.FoldingRangeKindRegion},
		{StartLine: 4, EndLine: 6},
	})

	assert.Equal(t, []Range{{Start: 0, End: 2, Kind: "region"}, {Start: 4, End: 6}}, c.GetRanges(doc))
	assert.Equal(t, []*document.Document{doc}, changed)

	// Updates replace the previous ranges wholesale.
	c.SetRanges("file:///q.kql", []lsp.FoldingRange{{StartLine: 1, EndLine: 3}})
	assert.Equal(t, []Range{{Start: 1, End: 3}}, c.GetRanges(doc))
	assert.Len(t, changed, 2)
}

func TestCache_SetRangesUnknownDocument(t *testing.T) {
	reg := document.NewRegistry()
	c := New(reg, nil)

	called := false
	c.OnDidChange(func(*document.Document) { called = true })

	c.SetRanges("file:///missing.kql", []lsp.FoldingRange{{StartLine: 0, EndLine: 1}})
	assert.False(t, called)
	assert.Equal(t, 0, c.Len())

	// Notebooks are not text documents.
	nb := document.NewNotebook("file:///nb.knb", document.NotebookKusto, nil, nil)
	reg.Open(nb)
	c.SetRanges("file:///nb.knb", []lsp.FoldingRange{{StartLine: 0, EndLine: 1}})
	assert.False(t, called)
}

func TestCache_Forget(t *testing.T) {
	reg := document.NewRegistry()
	c := New(reg, nil)
	doc := document.NewTextDocument("file:///q.kql", document.LanguageKusto, "", nil)
	reg.Open(doc)

	c.SetRanges(doc.URI(), []lsp.FoldingRange{{StartLine: 0, EndLine: 1}})
	require.Equal(t, 1, c.Len())

	c.Forget(doc)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.GetRanges(doc))
}

func TestCache_ForgetNotebookDropsCells(t *testing.T) {
	reg := document.NewRegistry()
	c := New(reg, nil)
	nb, err := document.Parse("file:///w/n.knb", []byte(`{"cells":[{"source":"a"},{"source":"b"}]}`))
	require.NoError(t, err)
	reg.Open(nb)

	for _, cell := range nb.Cells() {
		c.SetRanges(cell.URI(), []lsp.FoldingRange{{StartLine: 0, EndLine: 1}})
	}
	require.Equal(t, 2, c.Len())

	reg.Close(nb)
	c.Forget(nb)
	assert.Equal(t, 0, c.Len())
	for _, cell := range nb.Cells() {
		assert.Empty(t, c.GetRanges(cell))
	}
}

func TestCache_ReloadedNotebookReleasesOldCells(t *testing.T) {
	reg := document.NewRegistry()
	c := New(reg, nil)
	nb, err := document.Parse("file:///w/n.knb", []byte(`{"cells":[{"source":"a"}]}`))
	require.NoError(t, err)
	reg.Open(nb)
	old := nb.Cells()[0]
	c.SetRanges(old.URI(), []lsp.FoldingRange{{StartLine: 0, EndLine: 1}})

	require.NoError(t, document.Reload(nb, []byte(`{"cells":[{"source":"b"}]}`)))
	reg.Open(nb)
	fresh := nb.Cells()[0]
	require.NotSame(t, old, fresh)

	c.SetRanges(fresh.URI(), []lsp.FoldingRange{{StartLine: 0, EndLine: 2}})
	assert.Equal(t, 1, c.Len())
	assert.Empty(t, c.GetRanges(old))
	assert.Equal(t, []Range{{Start: 0, End: 2}}, c.GetRanges(fresh))
}

func TestCache_ForgetPrunesClosedDocuments(t *testing.T) {
	reg := document.NewRegistry()
	c := New(reg, nil)
	a := document.NewTextDocument("file:///a.kql", document.LanguageKusto, "", nil)
	b := document.NewTextDocument("file:///b.kql", document.LanguageKusto, "", nil)
	reg.Open(a)
	reg.Open(b)
	c.SetRanges(a.URI(), []lsp.FoldingRange{{StartLine: 0, EndLine: 1}})
	c.SetRanges(b.URI(), []lsp.FoldingRange{{StartLine: 0, EndLine: 1}})

	// b closed without being reported; a later Forget still releases it.
	reg.Close(b)
	reg.Close(a)
	c.Forget(a)
	assert.Equal(t, 0, c.Len())
}
