// Package connection resolves the data-source connection bound to a
// document and decides whether a document takes part in schema sync.
package connection

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/schemasync/internal/document"
)

// MetadataKey is the document metadata key holding the connection.
const MetadataKey = "connection"

// Descriptor identifies a data source. It is a comparable value type:
// two descriptors are equal iff all fields are equal.
type Descriptor struct {
	// Cluster is the cluster identifier or connection URI
	// (e.g. "help", "duckdb:///data/sales.duckdb", "postgres://host/db").
	Cluster string `mapstructure:"cluster" json:"cluster" validate:"required"`

	// Database optionally narrows the schema to one database.
	Database string `mapstructure:"database" json:"database,omitempty"`

	// DisplayName is a friendly name shown to users.
	DisplayName string `mapstructure:"displayName" json:"displayName,omitempty"`

	// Type optionally forces the catalog adapter (duckdb, postgres, sqlite).
	// When empty it is inferred from the Cluster URI scheme.
	Type string `mapstructure:"type" json:"type,omitempty" validate:"omitempty,oneof=duckdb postgres sqlite"`
}

// Equal reports structural equality.
func (d Descriptor) Equal(other Descriptor) bool {
	return d == other
}

// String returns a short form for logs: cluster[/database].
func (d Descriptor) String() string {
	if d.Database == "" {
		return d.Cluster
	}
	return d.Cluster + "/" + d.Database
}

// AdapterType returns the catalog adapter type for the descriptor: the
// explicit Type, else the Cluster URI scheme, else "".
func (d Descriptor) AdapterType() string {
	if d.Type != "" {
		return d.Type
	}
	u, err := url.Parse(d.Cluster)
	if err != nil || u.Scheme == "" {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return strings.ToLower(u.Scheme)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the descriptor is well-formed enough to query: it must
// name at least a cluster.
func (d Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid connection %q: %w", d.String(), err)
	}
	return nil
}

// IsValidForQuery reports whether Validate succeeds.
func (d Descriptor) IsValidForQuery() bool {
	return d.Validate() == nil
}

// Resolve extracts the connection descriptor embedded in a document's
// metadata. Cells resolve through their notebook. It returns false when
// the document carries no recognisable connection metadata. Resolve is a
// pure function of the document's current state.
func Resolve(doc *document.Document) (Descriptor, bool) {
	if doc == nil {
		return Descriptor{}, false
	}
	if nb := doc.Notebook(); nb != nil {
		doc = nb
	}

	raw, ok := doc.Metadata()[MetadataKey]
	if !ok || raw == nil {
		return Descriptor{}, false
	}

	var d Descriptor
	switch v := raw.(type) {
	case string:
		// Shorthand: "connection: <cluster>"
		d.Cluster = v
	case map[string]any:
		if err := mapstructure.Decode(v, &d); err != nil {
			return Descriptor{}, false
		}
	default:
		return Descriptor{}, false
	}

	if d == (Descriptor{}) {
		return Descriptor{}, false
	}
	return d, true
}
