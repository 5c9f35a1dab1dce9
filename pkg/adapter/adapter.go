// Package adapter provides the catalog adapter contract used by the schema
// engine to read database/table/column catalogs from a data source.
//
// Concrete adapter implementations live in pkg/adapters/ subdirectories and
// register themselves from init().
package adapter

import (
	"context"

	"github.com/leapstack-labs/schemasync/internal/schema"
)

// Config holds configuration for connecting to a data source.
type Config struct {
	// Type is the adapter name (duckdb, postgres, sqlite).
	Type string

	// DSN is the connection string or URI the descriptor named.
	DSN string

	// Options contains additional driver-specific options.
	Options map[string]string
}

// Adapter defines the interface that all catalog adapters must implement.
type Adapter interface {
	// Connect establishes a connection using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the connection and releases resources.
	Close() error

	// Catalog lists databases, tables and columns ordered by database name,
	// table name and column ordinal.
	Catalog(ctx context.Context) ([]schema.Database, error)

	// DialectName returns the SQL dialect name (e.g., "duckdb", "postgres").
	DialectName() string
}
