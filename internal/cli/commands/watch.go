package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/leapstack-labs/schemasync/internal/catalog"
	"github.com/leapstack-labs/schemasync/internal/config"
	"github.com/leapstack-labs/schemasync/internal/document"
	"github.com/leapstack-labs/schemasync/internal/fetcher"
	"github.com/leapstack-labs/schemasync/internal/langservice"
	"github.com/leapstack-labs/schemasync/internal/lsp"
	"github.com/leapstack-labs/schemasync/internal/schemasync"
	"github.com/leapstack-labs/schemasync/internal/workspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Sync document connection schemas to the language server",
		Long: `Watch a workspace of query documents (.kql, .csl, .sql) and notebooks
(.knb, .ipynb). Every eligible document declaring a connection has that
connection's schema fetched once and pushed to the language server.

On desktop hosts the companion language server is started as a child
process and documents are mirrored to it. On web hosts schemas go to the
in-process language service.`,
		Example: `  # Watch the current directory
  schemasync watch

  # Watch a directory with debug logging and a metrics endpoint
  schemasync watch ./queries --log-level debug --metrics-addr :9464`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("configuration not loaded")
			}
			if len(args) == 1 {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				cfg.Workspace = abs
			}

			app, err := newSyncApp(cfg, config.GetLogger(cmd.Context()))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.run(ctx)
		},
	}

	cmd.Flags().String("workspace", "", "Directory to watch")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().String("server-cmd", "", "Language server command (default: this executable with lsp)")
	cmd.Flags().Bool("bypass-cache", false, "Skip the catalog cache on every fetch")
	cmd.Flags().Bool("retry-failed", false, "Retry an unchanged connection after a failed fetch")
	cmd.Flags().Bool("reject-stale", true, "Discard fetch results superseded by a newer fetch")

	return cmd
}

// syncApp is the running watch loop: the workspace feeds document events
// to the coordinator and mirrors documents to the language server.
type syncApp struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *document.Registry
	service  *langservice.Service
	client   *lsp.Client
	coord    *schemasync.Coordinator
	watcher  *workspace.Watcher
	metrics  *prometheus.Registry

	// startClient connects the language client; nil on web hosts.
	startClient func(ctx context.Context) error

	live    atomic.Bool
	version atomic.Int64
}

func newSyncApp(cfg *config.Config, logger *slog.Logger) (*syncApp, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &syncApp{
		cfg:      cfg,
		logger:   logger,
		registry: document.NewRegistry(),
		metrics:  reg,
	}
	a.service = langservice.New(a.registry, logger)

	engine := catalog.New(logger)
	f := fetcher.New(engine, fetcher.Options{
		Timeout:      cfg.Fetch.Timeout,
		BypassCache:  cfg.Fetch.BypassCache,
		HideProgress: true,
	}, logger)

	opts := schemasync.Options{
		Registry:    a.registry,
		Eligibility: cfg.Eligibility(),
		Fetcher:     f,
		InProcess:   a.service,
		Mode:        cfg.Mode,
		RejectStale: cfg.Fetch.RejectStale,
		RetryFailed: cfg.Fetch.RetryFailed,
		Logger:      logger,
		Metrics:     schemasync.NewMetrics(reg),
	}

	if cfg.Mode() == schemasync.HostDesktop {
		command, args, err := serverCommand(cfg.Server)
		if err != nil {
			return nil, err
		}
		a.client = lsp.NewClient(lsp.ClientOptions{
			Command:    command,
			Args:       args,
			Timeout:    cfg.Server.Timeout,
			RootURI:    document.PathToURI(cfg.Workspace),
			ClientName: "schemasync",
		}, logger)
		a.startClient = a.client.Start
		opts.Client = a.client
	}
	a.coord = schemasync.New(opts)

	w, err := workspace.New(cfg.Workspace, a.registry, a.handle, logger)
	if err != nil {
		return nil, err
	}
	a.watcher = w
	return a, nil
}

// serverCommand resolves the companion server command line.
func serverCommand(sc config.ServerConfig) (string, []string, error) {
	if sc.Command != "" {
		return sc.Command, sc.Args, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("cannot locate schemasync executable: %w", err)
	}
	return exe, append([]string{"lsp"}, sc.Args...), nil
}

func (a *syncApp) run(ctx context.Context) error {
	if err := a.watcher.Scan(ctx); err != nil {
		return fmt.Errorf("scan workspace: %w", err)
	}
	a.coord.Start(ctx)
	defer a.coord.Close()
	if a.client != nil {
		// After the coordinator, so its foldingRanges handler is in place
		// before documents are mirrored.
		unsubscribe := a.client.OnStateChange(a.onClientState)
		defer unsubscribe()
	}
	for _, doc := range a.registry.TextDocuments() {
		a.foldLocal(doc)
	}
	a.live.Store(true)

	a.logger.Info("workspace loaded",
		slog.String("root", a.watcher.Root()),
		slog.String("host", a.cfg.Host),
		slog.Int("documents", a.registry.Len()),
		slog.Int("pending", a.coord.Pending()))

	g, gctx := errgroup.WithContext(ctx)

	if a.startClient != nil {
		if err := a.startClient(gctx); err != nil {
			return fmt.Errorf("start language server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return a.client.Stop(sctx)
		})
	}

	g.Go(func() error { return a.watcher.Run(gctx) })

	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error { return a.serveMetrics(gctx) })
	}

	return g.Wait()
}

func (a *syncApp) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{Registry: a.metrics}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	a.logger.Info("serving metrics", slog.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// handle receives workspace events once the initial sweep is done.
func (a *syncApp) handle(ctx context.Context, ev workspace.Event) {
	if !a.live.Load() {
		return
	}
	switch ev.Kind {
	case workspace.EventOpened:
		a.mirrorOpen(ev.Doc)
		a.foldLocal(ev.Doc)
		a.coord.OnDocumentEvent(ctx, ev.Doc)
	case workspace.EventChanged:
		a.mirrorChange(ev.Doc)
		a.foldLocal(ev.Doc)
		a.coord.OnDocumentEvent(ctx, ev.Doc)
	case workspace.EventClosed:
		a.mirrorClose(ev.Doc)
		a.coord.Forget(ev.Doc)
		a.service.Remove(ev.Doc.URI())
	}
}

func (a *syncApp) onClientState(s lsp.State) {
	if s != lsp.StateRunning {
		return
	}
	for _, doc := range a.registry.TextDocuments() {
		a.notifyOpen(doc)
	}
}

// textDocuments returns the text documents the server sees for doc.
func textDocuments(doc *document.Document) []*document.Document {
	if doc.Kind() == document.KindNotebook {
		return doc.Cells()
	}
	return []*document.Document{doc}
}

func (a *syncApp) mirrorOpen(doc *document.Document) {
	if a.client == nil || !a.client.IsRunning() {
		return
	}
	for _, td := range textDocuments(doc) {
		a.notifyOpen(td)
	}
}

func (a *syncApp) mirrorChange(doc *document.Document) {
	if a.client == nil || !a.client.IsRunning() {
		return
	}
	if doc.Kind() == document.KindNotebook {
		// Cells are rebuilt on reload; reopening replaces them.
		a.mirrorOpen(doc)
		return
	}
	a.notify(lsp.MethodDidChange, &lsp.DidChangeTextDocumentParams{
		TextDocument: lsp.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: doc.URI()},
			Version:                int(a.version.Add(1)),
		},
		ContentChanges: []lsp.TextDocumentContentChangeEvent{{Text: doc.Content()}},
	})
}

func (a *syncApp) mirrorClose(doc *document.Document) {
	if a.client == nil || !a.client.IsRunning() {
		return
	}
	for _, td := range textDocuments(doc) {
		a.notify(lsp.MethodDidClose, &lsp.DidCloseTextDocumentParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: td.URI()},
		})
	}
}

func (a *syncApp) notifyOpen(doc *document.Document) {
	a.notify(lsp.MethodDidOpen, &lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:        doc.URI(),
			LanguageID: doc.LanguageID(),
			Version:    int(a.version.Add(1)),
			Text:       doc.Content(),
		},
	})
}

func (a *syncApp) notify(method string, params any) {
	if err := a.client.Notify(method, params); err != nil {
		a.logger.Debug("failed to mirror document", slog.String("method", method), slog.String("error", err.Error()))
	}
}

// foldLocal computes folding ranges in process on web hosts, where no
// server publishes them.
func (a *syncApp) foldLocal(doc *document.Document) {
	if a.cfg.Mode() != schemasync.HostWeb {
		return
	}
	for _, td := range textDocuments(doc) {
		a.coord.Folding().SetRanges(td.URI(), lsp.FoldingRangesFor(td.Content()))
	}
}
