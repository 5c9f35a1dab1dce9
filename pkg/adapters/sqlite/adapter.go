package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/schemasync/internal/schema"
	"github.com/leapstack-labs/schemasync/pkg/adapter"

	_ "modernc.org/sqlite" // sqlite driver
)

// SQLite exposes a single database per file, always named main.
const catalogQuery = `
	SELECT
		'main',
		'',
		m.name,
		p.name,
		p.type
	FROM sqlite_master AS m, pragma_table_info(m.name) AS p
	WHERE m.type IN ('table', 'view')
		AND m.name NOT LIKE 'sqlite_%'
	ORDER BY m.name, p.cid
`

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
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
	return "sqlite"
}

// Connect opens the SQLite file named by the cluster URI.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := adapter.PathFromDSN(cfg.DSN, "sqlite")
	if path == "" {
		path = ":memory:"
	}

	a.Logger.Debug("connecting to sqlite", slog.String("path", path))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	// each :memory: connection is its own database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// Catalog lists tables and views of the main database.
func (a *Adapter) Catalog(ctx context.Context) ([]schema.Database, error) {
	return a.CatalogFromQuery(ctx, catalogQuery, "")
}
