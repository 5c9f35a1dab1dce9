package schemasync

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/leapstack-labs/schemasync/internal/catalog"
	"github.com/leapstack-labs/schemasync/internal/connection"
	"github.com/leapstack-labs/schemasync/internal/document"
	"github.com/leapstack-labs/schemasync/internal/fetcher"
	"github.com/leapstack-labs/schemasync/internal/lsp"
	"github.com/leapstack-labs/schemasync/internal/schema"
	"github.com/leapstack-labs/schemasync/internal/testutil"
)

// fakeEngine serves fixed catalogs and can hold fetches for a cluster
// until released.
type fakeEngine struct {
	mu       sync.Mutex
	calls    []connection.Descriptor
	catalogs map[string]*schema.EngineSchema
	failures map[string]error
	gates    map[string]chan struct{}
	started  chan string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		catalogs: map[string]*schema.EngineSchema{},
		failures: map[string]error{},
		gates:    map[string]chan struct{}{},
		started:  make(chan string, 16),
	}
}

func (e *fakeEngine) GetSchema(_ context.Context, desc connection.Descriptor, _ catalog.Options) (*schema.EngineSchema, error) {
	e.mu.Lock()
	e.calls = append(e.calls, desc)
	gate := e.gates[desc.Cluster]
	s := e.catalogs[desc.Cluster]
	err := e.failures[desc.Cluster]
	e.mu.Unlock()

	select {
	case e.started <- desc.Cluster:
	default:
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = &schema.EngineSchema{Cluster: schema.Cluster{ConnectionString: desc.Cluster}}
	}
	return s.Clone(), nil
}

func (e *fakeEngine) hold(cluster string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{})
	e.gates[cluster] = ch
	return ch
}

func (e *fakeEngine) fail(cluster string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[cluster] = err
}

func (e *fakeEngine) heal(cluster string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.failures, cluster)
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

var errAuth = errors.New("auth failed")

func contosoCatalog(cluster string) *schema.EngineSchema {
	return &schema.EngineSchema{Cluster: schema.Cluster{
		ConnectionString: cluster,
		Databases: []schema.Database{
			{Name: "ContosoSales", Tables: []schema.Table{
				{Name: "SalesFact", Columns: []schema.Column{{Name: "Amount", Type: "real"}}},
			}},
			{Name: "Other"},
		},
	}}
}

// fakeClient is a LanguageClient whose readiness is set by the test.
type fakeClient struct {
	mu        sync.Mutex
	running   bool
	sent      []lsp.SetSchemaParams
	listeners []func(lsp.State)
	handlers  map[string]lsp.NotificationHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]lsp.NotificationHandler{}}
}

func (f *fakeClient) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeClient) Notify(method string, params any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return lsp.ErrNotRunning
	}
	if p, ok := params.(*lsp.SetSchemaParams); ok && method == lsp.MethodSetSchema {
		f.sent = append(f.sent, *p)
	}
	return nil
}

func (f *fakeClient) OnStateChange(fn func(lsp.State)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners = nil
	}
}

func (f *fakeClient) OnNotification(method string, handler lsp.NotificationHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = handler
}

func (f *fakeClient) setState(s lsp.State) {
	f.mu.Lock()
	f.running = s == lsp.StateRunning
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (f *fakeClient) sentURIs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var uris []string
	for _, p := range f.sent {
		uris = append(uris, p.URI)
	}
	return uris
}

func (f *fakeClient) push(t *testing.T, method string, params any) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	h := f.handlers[method]
	f.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", method)
	}
	h(method, raw)
}

// recordingService is an InProcessService that records every call.
type recordingService struct {
	mu    sync.Mutex
	calls []delivery
}

type delivery struct {
	doc    *document.Document
	schema *schema.EngineSchema
}

func (r *recordingService) SetDocumentEngineSchema(doc *document.Document, s *schema.EngineSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, delivery{doc: doc, schema: s})
}

func (r *recordingService) deliveries() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.calls...)
}

type setup struct {
	coord    *Coordinator
	engine   *fakeEngine
	client   *fakeClient
	service  *recordingService
	registry *document.Registry
	mode     HostMode
}

type setupOption func(*Options)

func withRejectStale(on bool) setupOption { return func(o *Options) { o.RejectStale = on } }
func withRetryFailed(on bool) setupOption { return func(o *Options) { o.RetryFailed = on } }

func newSetup(t *testing.T, mode HostMode, opts ...setupOption) *setup {
	t.Helper()
	s := &setup{
		engine:   newFakeEngine(),
		client:   newFakeClient(),
		service:  &recordingService{},
		registry: document.NewRegistry(),
		mode:     mode,
	}
	o := Options{
		Registry:    s.registry,
		Eligibility: connection.DefaultEligibility(),
		Fetcher:     fetcher.New(s.engine, fetcher.Options{HideProgress: true}, nil),
		Client:      s.client,
		InProcess:   s.service,
		Mode:        func() HostMode { return s.mode },
		RejectStale: true,
		Logger:      testutil.NewTestLogger(t),
	}
	for _, opt := range opts {
		opt(&o)
	}
	s.coord = New(o)
	t.Cleanup(s.coord.Close)
	return s
}

func queryDoc(uri string, conn any) *document.Document {
	var md map[string]any
	if conn != nil {
		md = map[string]any{connection.MetadataKey: conn}
	}
	return document.NewTextDocument(uri, document.LanguageKusto, "", md)
}

func conn(cluster, database string) map[string]any {
	m := map[string]any{"cluster": cluster}
	if database != "" {
		m["database"] = database
	}
	return m
}
