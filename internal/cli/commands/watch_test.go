package commands

import (
	"context"
	"database/sql"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/schemasync/internal/config"
	"github.com/leapstack-labs/schemasync/internal/document"
	"github.com/leapstack-labs/schemasync/internal/lsp"
	"github.com/leapstack-labs/schemasync/internal/schema"
	"github.com/leapstack-labs/schemasync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func testConfig(host, dir string) *config.Config {
	return &config.Config{
		Host:          host,
		Workspace:     dir,
		LanguageIDs:   []string{"kusto", "sql"},
		NotebookTypes: []string{"kusto-notebook", "jupyter-notebook"},
		Fetch:         config.FetchConfig{Timeout: waitFor, RejectStale: true},
		Log:           config.LogConfig{Level: "debug", Format: "text"},
	}
}

// runApp starts app and returns a stop func that cancels it and waits.
func runApp(t *testing.T, app *syncApp) func() {
	t.Helper()
	app.watcher.SetDebounce(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(waitFor):
			t.Fatal("watch loop did not stop")
		}
	}
}

func hasTable(s *schema.EngineSchema, name string) bool {
	return s != nil && s.Database.FindTable(name) != nil
}

func TestNewWatchCommand(t *testing.T) {
	cmd := NewWatchCommand()

	assert.Equal(t, "watch [dir]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	for _, flag := range []string{"workspace", "metrics-addr", "server-cmd", "bypass-cache", "retry-failed", "reject-stale"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestWatchCommand_RequiresConfig(t *testing.T) {
	_, _, err := execute(t, NewWatchCommand(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration not loaded")
}

func TestServerCommand(t *testing.T) {
	cmd, args, err := serverCommand(config.ServerConfig{Command: "/bin/ls", Args: []string{"--stdio"}})
	require.NoError(t, err)
	assert.Equal(t, "/bin/ls", cmd)
	assert.Equal(t, []string{"--stdio"}, args)

	cmd, args, err = serverCommand(config.ServerConfig{Args: []string{"--log-level", "debug"}})
	require.NoError(t, err)
	assert.NotEmpty(t, cmd)
	assert.Equal(t, []string{"lsp", "--log-level", "debug"}, args)
}

func TestSyncApp_Web(t *testing.T) {
	dir := t.TempDir()
	dbPath := newShopDB(t)
	queryPath := filepath.Join(dir, "q.sql")
	writeFile(t, queryPath, queryFile(dbPath))
	writeFile(t, filepath.Join(dir, "plain.sql"), "select 1\n")

	app, err := newSyncApp(testConfig("web", dir), testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Nil(t, app.client, "web hosts start no language server")

	stop := runApp(t, app)
	defer stop()

	uri := document.PathToURI(queryPath)
	require.Eventually(t, func() bool {
		return hasTable(app.service.Schema(uri), "Orders")
	}, waitFor, tick)

	labels := map[string]bool{}
	for _, c := range app.service.Completions(uri, "") {
		labels[c.Label] = true
	}
	assert.True(t, labels["Orders"])
	assert.True(t, labels["CustomerId"])

	doc := app.registry.Get(uri)
	require.NotNil(t, doc)
	assert.Len(t, app.coord.Folding().GetRanges(doc), 2)
	assert.Nil(t, app.service.Schema(document.PathToURI(filepath.Join(dir, "plain.sql"))))

	// Point the document at another database.
	otherPath := filepath.Join(t.TempDir(), "other.db")
	db, err := sql.Open("sqlite", otherPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE Products (Sku TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	writeFile(t, queryPath, queryFile(otherPath))

	require.Eventually(t, func() bool {
		return hasTable(app.service.Schema(uri), "Products")
	}, waitFor, tick)
	assert.Same(t, doc, app.registry.Get(uri), "reload keeps the document handle")

	// Closing drops the schema and the folding ranges.
	require.NoError(t, os.Remove(queryPath))
	require.Eventually(t, func() bool {
		return app.registry.Get(uri) == nil && app.service.Schema(uri) == nil
	}, waitFor, tick)
	assert.Empty(t, app.coord.Folding().GetRanges(doc))

	families, err := app.metrics.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["schemasync_deliveries_total"])
	assert.True(t, names["schemasync_document_events_total"])
}

func TestSyncApp_Desktop(t *testing.T) {
	dir := t.TempDir()
	dbPath := newShopDB(t)
	queryPath := filepath.Join(dir, "q.sql")
	writeFile(t, queryPath, queryFile(dbPath))

	logger := testutil.NewTestLogger(t)
	app, err := newSyncApp(testConfig("desktop", dir), logger)
	require.NoError(t, err)
	require.NotNil(t, app.client)

	clientConn, serverConn := net.Pipe()
	server := lsp.NewServer(serverConn, serverConn, logger)
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.Run() }()
	app.startClient = func(ctx context.Context) error {
		return app.client.Connect(ctx, clientConn)
	}

	stop := runApp(t, app)

	uri := document.PathToURI(queryPath)
	require.Eventually(t, func() bool {
		return hasTable(server.Service().Schema(uri), "Customers")
	}, waitFor, tick)
	assert.Nil(t, app.service.Schema(uri), "desktop hosts deliver through the server")

	// The server publishes folding ranges for the mirrored document.
	doc := app.registry.Get(uri)
	require.NotNil(t, doc)
	require.Eventually(t, func() bool {
		return len(app.coord.Folding().GetRanges(doc)) == 2
	}, waitFor, tick)

	items := server.Service().Completions(uri, "Cust")
	require.NotEmpty(t, items)
	assert.Equal(t, "Customers", items[0].Label)

	stop()
	select {
	case <-serverDone:
	case <-time.After(waitFor):
		t.Fatal("server did not exit after shutdown")
	}
	assert.Equal(t, lsp.StateStopped, app.client.State())
}
