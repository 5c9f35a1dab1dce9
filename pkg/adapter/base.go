package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/leapstack-labs/schemasync/internal/schema"
)

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close and catalog scanning implementations.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// CatalogFromQuery runs query, which must return the columns
// (database, schema, table, column, type) ordered by database, schema,
// table and column ordinal, and groups the rows into databases.
// Tables outside defaultSchema are qualified as schema.table.
func (b *BaseSQLAdapter) CatalogFromQuery(ctx context.Context, query, defaultSchema string) ([]schema.Database, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	rows, err := b.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var databases []schema.Database
	for rows.Next() {
		var dbName, schemaName, tableName, colName, colType string
		if err := rows.Scan(&dbName, &schemaName, &tableName, &colName, &colType); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		if schemaName != "" && schemaName != defaultSchema {
			tableName = schemaName + "." + tableName
		}

		if len(databases) == 0 || databases[len(databases)-1].Name != dbName {
			databases = append(databases, schema.Database{Name: dbName})
		}
		db := &databases[len(databases)-1]
		if len(db.Tables) == 0 || db.Tables[len(db.Tables)-1].Name != tableName {
			db.Tables = append(db.Tables, schema.Table{Name: tableName})
		}
		table := &db.Tables[len(db.Tables)-1]
		table.Columns = append(table.Columns, schema.Column{Name: colName, Type: strings.ToLower(colType)})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog rows: %w", err)
	}

	if b.Logger != nil {
		b.Logger.Debug("catalog loaded", slog.Int("databases", len(databases)))
	}
	return databases, nil
}

// PathFromDSN extracts a file path from a file-backed cluster URI such as
// duckdb:///data/sales.duckdb or sqlite://local.db. Anything that does not
// parse as a URI with the given scheme is returned unchanged.
func PathFromDSN(dsn, scheme string) string {
	u, err := url.Parse(dsn)
	if err != nil || !strings.EqualFold(u.Scheme, scheme) {
		return dsn
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Host + u.Path
}
