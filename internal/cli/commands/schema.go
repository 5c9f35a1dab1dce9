package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/schemasync/internal/catalog"
	"github.com/leapstack-labs/schemasync/internal/config"
	"github.com/leapstack-labs/schemasync/internal/connection"
	"github.com/leapstack-labs/schemasync/internal/fetcher"
	"github.com/leapstack-labs/schemasync/internal/schema"
	"github.com/spf13/cobra"

	// Register catalog adapters
	_ "github.com/leapstack-labs/schemasync/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/schemasync/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/schemasync/pkg/adapters/sqlite"
)

// schemaOptions holds options for the schema command.
type schemaOptions struct {
	Database    string
	Type        string
	Table       string
	Format      string
	BypassCache bool
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	opts := &schemaOptions{}

	cmd := &cobra.Command{
		Use:   "schema <cluster>",
		Short: "Fetch and print the schema of a connection",
		Long: `Fetch the catalog of a cluster and print it narrowed to one database.

The cluster is a connection URI such as duckdb:///data/sales.duckdb,
sqlite:///data/app.db or postgres://user@host/db. Without --database the
first database of the catalog is selected.`,
		Example: `  # Print tables and columns of a DuckDB file
  schemasync schema duckdb:///data/sales.duckdb

  # Narrow to a database and print JSON
  schemasync schema postgres://localhost/shop --database shop --format json

  # Describe one table
  schemasync schema sqlite:///data/app.db --table users`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Database, "database", "d", "", "Database to narrow to")
	cmd.Flags().StringVar(&opts.Type, "type", "", "Adapter type (duckdb|postgres|sqlite); inferred from the URI when empty")
	cmd.Flags().StringVar(&opts.Table, "table", "", "Print a summary of one table")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "table", "Output format (table|json)")
	cmd.Flags().BoolVar(&opts.BypassCache, "bypass-cache", false, "Skip the catalog cache")

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runSchema(cmd *cobra.Command, cluster string, opts *schemaOptions) error {
	ctx := cmd.Context()
	logger := config.GetLogger(ctx)
	cfg := config.FromContext(ctx)

	desc := connection.Descriptor{Cluster: cluster, Database: opts.Database, Type: opts.Type}
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("invalid connection: %w", err)
	}

	fetchOpts := fetcher.Options{BypassCache: opts.BypassCache}
	if cfg != nil {
		fetchOpts.Timeout = cfg.Fetch.Timeout
		fetchOpts.BypassCache = fetchOpts.BypassCache || cfg.Fetch.BypassCache
	}

	stderr := cmd.ErrOrStderr()
	engine := catalog.New(logger, catalog.WithProgress(func(d connection.Descriptor, stage string) {
		if stage != catalog.StageDone {
			_, _ = fmt.Fprintf(stderr, "%s %s...\n", stage, d.Cluster)
		}
	}))
	fetchOpts.HideProgress = opts.Format == "json"

	s, err := fetcher.New(engine, fetchOpts, logger).Fetch(ctx, desc)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if opts.Table != "" {
		summary, ok := s.TableSummary(cluster, s.DatabaseName(), opts.Table)
		if !ok {
			return fmt.Errorf("table %q not found in database %q", opts.Table, s.DatabaseName())
		}
		_, err := io.WriteString(w, summary)
		return err
	}

	switch opts.Format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "table", "":
		renderSchemaTable(w, s)
		return nil
	default:
		return fmt.Errorf("unknown format %q (use table or json)", opts.Format)
	}
}

// renderSchemaTable prints the selected database's columns, one row each.
func renderSchemaTable(w io.Writer, s *schema.EngineSchema) {
	if s.Database == nil {
		_, _ = fmt.Fprintf(w, "%s: no databases\n", s.Cluster.ConnectionString)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%s / %s", s.Cluster.ConnectionString, s.Database.Name)
	t.AppendHeader(table.Row{"Table", "Column", "Type"})

	var columns int
	for _, tbl := range s.Database.Tables {
		if len(tbl.Columns) == 0 {
			t.AppendRow(table.Row{tbl.Name, "", ""})
			continue
		}
		for _, col := range tbl.Columns {
			t.AppendRow(table.Row{tbl.Name, col.Name, col.Type})
			columns++
		}
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d tables, %d columns)\n", len(s.Database.Tables), columns)
}
