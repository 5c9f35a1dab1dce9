package document

import (
	"fmt"
	"strings"
)

// URIToPath converts a file:// URI to a file system path.
func URIToPath(uri string) string {
	const prefix = "file://"
	if strings.HasPrefix(uri, prefix) {
		return uri[len(prefix):]
	}
	return uri
}

// PathToURI converts a file system path to a file:// URI.
func PathToURI(path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	return "file://" + path
}

// CellURI returns the URI of the index-th cell of the notebook at notebookURI.
func CellURI(notebookURI string, index int) string {
	return fmt.Sprintf("%s#cell%d", notebookURI, index)
}
