package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/schemasync/internal/schema"
	"github.com/leapstack-labs/schemasync/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

const catalogQuery = `
	SELECT
		table_catalog,
		table_schema,
		table_name,
		column_name,
		data_type
	FROM information_schema.columns
	WHERE table_catalog NOT IN ('system', 'temp')
		AND table_schema NOT IN ('information_schema', 'pg_catalog')
	ORDER BY table_catalog, table_schema, table_name, ordinal_position
`

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "duckdb"
}

// Connect opens the DuckDB file named by the cluster URI.
// An empty path opens an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := adapter.PathFromDSN(cfg.DSN, "duckdb")
	if path == "" {
		path = ":memory:"
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// Catalog lists every attached database. Tables outside the main schema
// are reported as schema.table.
func (a *Adapter) Catalog(ctx context.Context) ([]schema.Database, error) {
	return a.CatalogFromQuery(ctx, catalogQuery, "main")
}
