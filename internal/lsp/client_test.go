package lsp

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/schemasync/internal/schema"
	"github.com/leapstack-labs/schemasync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	client    *Client
	server    *Server
	serverEnd net.Conn
	runErr    chan error

	mu      sync.Mutex
	states  []State
	folding map[string][]FoldingRange
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	logger := testutil.NewTestLogger(t)

	h := &harness{
		server:    NewServer(serverEnd, serverEnd, logger),
		serverEnd: serverEnd,
		runErr:    make(chan error, 1),
		folding:   make(map[string][]FoldingRange),
	}
	go func() { h.runErr <- h.server.Run() }()

	h.client = NewClient(ClientOptions{ClientName: "test", Timeout: 5 * time.Second}, logger)
	h.client.OnStateChange(func(s State) {
		h.mu.Lock()
		h.states = append(h.states, s)
		h.mu.Unlock()
	})
	h.client.OnNotification(MethodFoldingRanges, func(_ string, raw json.RawMessage) {
		var p FoldingRangesParams
		if err := DecodeParams(raw, &p); err == nil {
			h.mu.Lock()
			h.folding[p.URI] = p.FoldingRanges
			h.mu.Unlock()
		}
	})

	require.NoError(t, h.client.Connect(context.Background(), clientEnd))
	t.Cleanup(func() { _ = h.client.Stop(context.Background()) })
	return h
}

func (h *harness) foldingFor(uri string) ([]FoldingRange, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.folding[uri]
	return r, ok
}

func TestClient_NotifyBeforeRunning(t *testing.T) {
	c := NewClient(ClientOptions{}, nil)
	assert.Equal(t, StateStopped, c.State())
	assert.ErrorIs(t, c.Notify(MethodSetSchema, nil), ErrNotRunning)
	assert.ErrorIs(t, c.Call(context.Background(), MethodCompletion, nil, nil), ErrNotRunning)
	assert.Error(t, c.Start(context.Background()), "no command configured")
}

func TestClient_Handshake(t *testing.T) {
	h := newHarness(t)

	assert.True(t, h.client.IsRunning())
	h.mu.Lock()
	assert.Equal(t, []State{StateStarting, StateRunning}, h.states)
	h.mu.Unlock()
}

func TestClientServer_FoldingAndCompletion(t *testing.T) {
	h := newHarness(t)
	uri := "file:///q.kql"

	require.NoError(t, h.client.Notify(MethodDidOpen, &DidOpenTextDocumentParams{TextDocument: TextDocumentItem{
		URI:        uri,
		LanguageID: "kusto",
		Version:    1,
		Text:       "SalesFact\n| take 10\n\nSalesFact\n| where Am",
	}}))

	require.Eventually(t, func() bool {
		r, ok := h.foldingFor(uri)
		return ok && len(r) == 2
	}, 2*time.Second, 5*time.Millisecond)

	ranges, _ := h.foldingFor(uri)
	assert.Equal(t, uint32(0), ranges[0].StartLine)
	assert.Equal(t, uint32(1), ranges[0].EndLine)
	assert.Equal(t, FoldingRangeKindRegion, ranges[1].Kind)

	full := &schema.EngineSchema{Cluster: schema.Cluster{
		ConnectionString: "help",
		Databases: []schema.Database{{Name: "ContosoSales", Tables: []schema.Table{
			{Name: "SalesFact", Columns: []schema.Column{{Name: "Amount", Type: "real"}}},
		}}},
	}}
	require.NoError(t, h.client.Notify(MethodSetSchema, &SetSchemaParams{URI: uri, EngineSchema: full.Narrow("ContosoSales")}))

	require.Eventually(t, func() bool {
		return h.server.Service().Schema(uri) != nil
	}, 2*time.Second, 5*time.Millisecond)

	var list CompletionList
	err := h.client.Call(context.Background(), MethodCompletion, &CompletionParams{TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     Position{Line: 4, Character: 10},
	}}, &list)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Amount", list.Items[0].Label)
	assert.Equal(t, CompletionItemKindField, list.Items[0].Kind)
	assert.Equal(t, "SalesFact.Amount: real", list.Items[0].Detail)
}

func TestClientServer_DidChangeRepublishes(t *testing.T) {
	h := newHarness(t)
	uri := "file:///q.kql"

	require.NoError(t, h.client.Notify(MethodDidOpen, &DidOpenTextDocumentParams{TextDocument: TextDocumentItem{URI: uri, Text: "a"}}))
	require.Eventually(t, func() bool {
		_, ok := h.foldingFor(uri)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	r, _ := h.foldingFor(uri)
	assert.Empty(t, r)

	require.NoError(t, h.client.Notify(MethodDidChange, &DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: 2},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: "a\nb\nc"}},
	}))
	require.Eventually(t, func() bool {
		r, _ := h.foldingFor(uri)
		return len(r) == 1 && r[0].EndLine == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClientServer_UnknownMethod(t *testing.T) {
	h := newHarness(t)

	err := h.client.Call(context.Background(), "custom/unknown", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestClient_StopEndsServer(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.client.Stop(context.Background()))
	assert.Equal(t, StateStopped, h.client.State())

	select {
	case err := <-h.runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestClient_ServerDisconnect(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.serverEnd.Close())
	require.Eventually(t, func() bool {
		return h.client.State() == StateStopped
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.client.Notify(MethodSetSchema, nil), ErrNotRunning)
}
