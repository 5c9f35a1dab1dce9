package connection

import (
	"slices"

	"github.com/leapstack-labs/schemasync/internal/document"
)

// Eligibility decides which documents take part in schema sync.
type Eligibility struct {
	LanguageIDs   []string
	NotebookTypes []string
}

// DefaultEligibility accepts Kusto and SQL text documents and Kusto or
// Jupyter notebooks.
func DefaultEligibility() Eligibility {
	return Eligibility{
		LanguageIDs:   []string{document.LanguageKusto, document.LanguageSQL},
		NotebookTypes: []string{document.NotebookKusto, document.NotebookJupyter},
	}
}

// Normalize maps a document to the handle schema is tracked for: cells of
// supported notebooks map to the notebook, eligible text documents and
// supported notebooks map to themselves. It returns nil for anything else.
func (e Eligibility) Normalize(doc *document.Document) *document.Document {
	if doc == nil {
		return nil
	}
	if nb := doc.Notebook(); nb != nil {
		if !slices.Contains(e.NotebookTypes, nb.NotebookType()) {
			return nil
		}
		return nb
	}
	if !slices.Contains(e.LanguageIDs, doc.LanguageID()) {
		return nil
	}
	return doc
}
