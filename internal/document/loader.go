package document

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Language and notebook identifiers recognised by the loader.
const (
	LanguageKusto = "kusto"
	LanguageSQL   = "sql"

	NotebookKusto   = "kusto-notebook"
	NotebookJupyter = "jupyter-notebook"
)

// textExtensions maps plain document extensions to language IDs.
var textExtensions = map[string]string{
	".kql": LanguageKusto,
	".csl": LanguageKusto,
	".sql": LanguageSQL,
}

// notebookExtensions maps notebook extensions to notebook types.
var notebookExtensions = map[string]string{
	".knb":   NotebookKusto,
	".ipynb": NotebookJupyter,
}

// IsSupportedPath reports whether the loader understands the file at path.
func IsSupportedPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, text := textExtensions[ext]
	_, nb := notebookExtensions[ext]
	return text || nb
}

// UnsupportedError is returned for files the loader does not understand.
type UnsupportedError struct {
	Path string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported document type: %s", e.Path)
}

// frontmatterPattern matches /*--- ... ---*/ blocks at the top of a query document.
var frontmatterPattern = regexp.MustCompile(`(?s)^\s*/\*---\s*\n(.*?)\s*---\*/`)

// Load reads the file at path and builds a document handle for it.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the watched workspace
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Parse(PathToURI(abs), data)
}

// Parse builds a document handle from raw file content. The document kind
// is chosen from the URI's extension.
func Parse(uri string, data []byte) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(URIToPath(uri)))

	if lang, ok := textExtensions[ext]; ok {
		metadata, err := ExtractFrontmatter(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", uri, err)
		}
		return NewTextDocument(uri, lang, string(data), metadata), nil
	}

	if nbType, ok := notebookExtensions[ext]; ok {
		metadata, cells, err := parseNotebook(data, nbType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", uri, err)
		}
		return NewNotebook(uri, nbType, metadata, cells), nil
	}

	return nil, &UnsupportedError{Path: uri}
}

// Reload re-parses data into the existing handle doc, keeping its identity.
func Reload(doc *Document, data []byte) error {
	fresh, err := Parse(doc.uri, data)
	if err != nil {
		return err
	}
	if fresh.kind != doc.kind {
		return fmt.Errorf("%s: document kind changed from %s to %s", doc.uri, doc.kind, fresh.kind)
	}
	doc.replaceFrom(fresh)
	return nil
}

// ExtractFrontmatter parses a leading /*--- yaml ---*/ block into a map.
// A document without front matter yields nil metadata and no error.
func ExtractFrontmatter(content string) (map[string]any, error) {
	matches := frontmatterPattern.FindStringSubmatch(content)
	if len(matches) < 2 {
		return nil, nil
	}

	var metadata map[string]any
	if err := yaml.Unmarshal([]byte(matches[1]), &metadata); err != nil {
		return nil, fmt.Errorf("invalid front matter: %w", err)
	}
	return metadata, nil
}

// notebookFile covers both the Kusto notebook format and .ipynb.
type notebookFile struct {
	Metadata map[string]any `json:"metadata"`
	Cells    []notebookCell `json:"cells"`
}

type notebookCell struct {
	Kind     string          `json:"kind"`
	CellType string          `json:"cell_type"`
	Language string          `json:"language"`
	Source   json.RawMessage `json:"source"`
}

func parseNotebook(data []byte, nbType string) (map[string]any, []CellSpec, error) {
	var nb notebookFile
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, nil, fmt.Errorf("invalid notebook: %w", err)
	}

	defaultLang := LanguageKusto
	if nbType == NotebookJupyter {
		defaultLang = jupyterLanguage(nb.Metadata)
	}

	cells := make([]CellSpec, 0, len(nb.Cells))
	for _, c := range nb.Cells {
		source, err := cellSource(c.Source)
		if err != nil {
			return nil, nil, err
		}
		lang := c.Language
		switch {
		case lang != "":
		case c.Kind == "markdown" || c.CellType == "markdown":
			lang = "markdown"
		default:
			lang = defaultLang
		}
		cells = append(cells, CellSpec{LanguageID: lang, Content: source})
	}
	return nb.Metadata, cells, nil
}

// cellSource accepts either a string or the .ipynb list-of-lines form.
func cellSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", fmt.Errorf("invalid cell source: %w", err)
	}
	return strings.Join(lines, ""), nil
}

func jupyterLanguage(metadata map[string]any) string {
	if info, ok := metadata["language_info"].(map[string]any); ok {
		if name, ok := info["name"].(string); ok && name != "" {
			return name
		}
	}
	return LanguageKusto
}
