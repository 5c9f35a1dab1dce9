package schemasync

import (
	"log/slog"

	"github.com/leapstack-labs/schemasync/internal/document"
	"github.com/leapstack-labs/schemasync/internal/lsp"
	"github.com/leapstack-labs/schemasync/internal/schema"
)

// Sink delivers staged schemas. Delivery is fire-and-forget.
type Sink interface {
	// Name labels the sink in logs and metrics.
	Name() string
	// Ready reports whether a flush may deliver now. Entries stay staged
	// while the sink is not ready.
	Ready() bool
	// Deliver hands one schema to the language server.
	Deliver(doc *document.Document, s *schema.EngineSchema)
}

// LanguageClient is the part of lsp.Client the remote sink and the
// coordinator use.
type LanguageClient interface {
	IsRunning() bool
	Notify(method string, params any) error
	OnStateChange(fn func(lsp.State)) func()
	OnNotification(method string, handler lsp.NotificationHandler)
}

// InProcessService is the part of the in-process language service the
// in-process sink uses.
type InProcessService interface {
	SetDocumentEngineSchema(doc *document.Document, s *schema.EngineSchema)
}

// RemoteSink sends setSchema notifications to the companion server.
type RemoteSink struct {
	client LanguageClient
	logger *slog.Logger
}

// NewRemoteSink creates a sink over client.
func NewRemoteSink(client LanguageClient, logger *slog.Logger) *RemoteSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RemoteSink{client: client, logger: logger}
}

func (r *RemoteSink) Name() string { return "remote" }

// Ready reports whether the client has completed its handshake.
func (r *RemoteSink) Ready() bool {
	return r.client != nil && r.client.IsRunning()
}

// Deliver sends the schema keyed by URI.
func (r *RemoteSink) Deliver(doc *document.Document, s *schema.EngineSchema) {
	err := r.client.Notify(lsp.MethodSetSchema, &lsp.SetSchemaParams{URI: doc.URI(), EngineSchema: s})
	if err != nil {
		r.logger.Warn("failed to send schema", slog.String("uri", doc.URI()), slog.String("error", err.Error()))
	}
}

// InProcessSink hands schemas directly to the in-process service.
type InProcessSink struct {
	service InProcessService
}

// NewInProcessSink creates a sink over service.
func NewInProcessSink(service InProcessService) *InProcessSink {
	return &InProcessSink{service: service}
}

func (p *InProcessSink) Name() string { return "in_process" }

// Ready is always true when a service is configured.
func (p *InProcessSink) Ready() bool { return p.service != nil }

// Deliver calls SetDocumentEngineSchema.
func (p *InProcessSink) Deliver(doc *document.Document, s *schema.EngineSchema) {
	p.service.SetDocumentEngineSchema(doc, s)
}
