package lsp

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/leapstack-labs/schemasync/internal/document"
	"github.com/leapstack-labs/schemasync/internal/langservice"
)

// ServerName is reported in the initialize response.
const ServerName = "schemasync-language-server"

// Server is the companion language server. It receives schemas through
// setSchema, answers completions from them and pushes folding ranges for
// every opened or changed document.
type Server struct {
	documents *document.Registry
	service   *langservice.Service

	initialized bool

	// I/O
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex

	logger *slog.Logger

	shutdown   bool
	shutdownMu sync.RWMutex
}

// NewServer creates a new LSP server instance.
// If logger is nil, a discard logger is used.
func NewServer(reader io.Reader, writer io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	docs := document.NewRegistry()
	return &Server{
		documents: docs,
		service:   langservice.New(docs, logger),
		reader:    bufio.NewReader(reader),
		writer:    writer,
		logger:    logger,
	}
}

// Service exposes the server's language service.
func (s *Server) Service() *langservice.Service {
	return s.service
}

// Run processes JSON-RPC messages until exit is received or the input
// stream ends.
func (s *Server) Run() error {
	s.logger.Info("language server starting")

	for {
		msg, err := readMessage(s.reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				s.logger.Info("client disconnected")
				return nil
			}
			s.logger.Error("error reading message", slog.String("error", err.Error()))
			continue
		}

		if msg.Method == MethodExit {
			s.logger.Info("server exit")
			return nil
		}

		if err := s.handleMessage(msg); err != nil {
			s.logger.Error("error handling message", slog.String("method", msg.Method), slog.String("error", err.Error()))
		}
	}
}

// sendResponse sends a JSON-RPC response.
func (s *Server) sendResponse(id *json.RawMessage, result any, rpcErr *RPCError) {
	msg := Message{ID: id}
	if rpcErr != nil {
		msg.Error = rpcErr
	} else {
		body, err := json.Marshal(result)
		if err != nil {
			s.logger.Error("error marshaling result", slog.String("error", err.Error()))
			return
		}
		msg.Result = body
	}
	s.write(&msg)
}

// sendNotification sends a JSON-RPC notification (no ID).
func (s *Server) sendNotification(method string, params any) {
	body, err := marshalParams(params)
	if err != nil {
		s.logger.Error("error marshaling params", slog.String("method", method), slog.String("error", err.Error()))
		return
	}
	s.write(&Message{Method: method, Params: body})
}

func (s *Server) write(msg *Message) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := writeMessage(s.writer, msg); err != nil {
		s.logger.Error("error writing message", slog.String("error", err.Error()))
	}
}

// handleMessage dispatches a message to the appropriate handler.
func (s *Server) handleMessage(msg *Message) error {
	s.logger.Debug("received", slog.String("method", msg.Method))

	s.shutdownMu.RLock()
	down := s.shutdown
	s.shutdownMu.RUnlock()
	if down && msg.ID != nil {
		s.sendResponse(msg.ID, nil, &RPCError{Code: CodeInvalidParams, Message: "server is shutting down"})
		return nil
	}

	switch msg.Method {
	case MethodInitialize:
		return s.handleInitialize(msg)
	case MethodInitialized:
		s.initialized = true
		s.logger.Info("server initialized")
		return nil
	case MethodShutdown:
		return s.handleShutdown(msg)
	case MethodDidOpen:
		return s.handleDidOpen(msg)
	case MethodDidChange:
		return s.handleDidChange(msg)
	case MethodDidClose:
		return s.handleDidClose(msg)
	case MethodCompletion:
		return s.handleCompletion(msg)
	case MethodSetSchema:
		return s.handleSetSchema(msg)
	default:
		if msg.ID != nil {
			s.sendResponse(msg.ID, nil, &RPCError{
				Code:    CodeMethodNotFound,
				Message: "Method not found: " + msg.Method,
			})
		}
		return nil
	}
}

// --- Lifecycle handlers ---

func (s *Server) handleInitialize(msg *Message) error {
	var params InitializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()})
		return err
	}
	if params.ClientInfo != nil {
		s.logger.Info("client connected", slog.String("client", params.ClientInfo.Name))
	}

	result := InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    TextDocumentSyncKindFull,
			},
			CompletionProvider: &CompletionOptions{
				TriggerCharacters: []string{".", " ", "|"},
			},
		},
		ServerInfo: &ClientInfo{Name: ServerName},
	}

	s.sendResponse(msg.ID, result, nil)
	return nil
}

func (s *Server) handleShutdown(msg *Message) error {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()

	s.sendResponse(msg.ID, nil, nil)
	s.logger.Info("server shutdown")
	return nil
}

// --- Document handlers ---

func (s *Server) handleDidOpen(msg *Message) error {
	var params DidOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	item := params.TextDocument
	if old := s.documents.Get(item.URI); old != nil {
		s.documents.Close(old)
	}
	doc := document.NewTextDocument(item.URI, item.LanguageID, item.Text, nil)
	s.documents.Open(doc)
	s.logger.Debug("opened", slog.String("uri", item.URI))

	s.publishFoldingRanges(doc)
	return nil
}

func (s *Server) handleDidChange(msg *Message) error {
	var params DidChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	doc := s.documents.Get(params.TextDocument.URI)
	if doc == nil || len(params.ContentChanges) == 0 {
		return nil
	}

	// Full sync: the last change carries the whole text.
	doc.SetContent(params.ContentChanges[len(params.ContentChanges)-1].Text)
	s.publishFoldingRanges(doc)
	return nil
}

func (s *Server) handleDidClose(msg *Message) error {
	var params DidCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}

	if doc := s.documents.Get(params.TextDocument.URI); doc != nil {
		s.documents.Close(doc)
	}
	s.service.Remove(params.TextDocument.URI)
	s.logger.Debug("closed", slog.String("uri", params.TextDocument.URI))
	return nil
}

func (s *Server) handleSetSchema(msg *Message) error {
	var params SetSchemaParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return err
	}
	s.service.SetSchema(params.URI, params.EngineSchema)
	return nil
}

// --- Features ---

func (s *Server) handleCompletion(msg *Message) error {
	var params CompletionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.sendResponse(msg.ID, nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()})
		return err
	}

	uri := params.TextDocument.URI
	prefix := ""
	if doc := s.documents.Get(uri); doc != nil {
		content := doc.Content()
		offset := langservice.Offset(content, int(params.Position.Line), int(params.Position.Character))
		prefix = langservice.WordBefore(content, offset)
	}

	items := []CompletionItem{}
	for _, c := range s.service.Completions(uri, prefix) {
		kind := CompletionItemKindField
		if c.Kind == langservice.CompletionTable {
			kind = CompletionItemKindClass
		}
		items = append(items, CompletionItem{Label: c.Label, Kind: kind, Detail: c.Detail})
	}

	s.sendResponse(msg.ID, &CompletionList{Items: items}, nil)
	return nil
}

func (s *Server) publishFoldingRanges(doc *document.Document) {
	s.sendNotification(MethodFoldingRanges, &FoldingRangesParams{URI: doc.URI(), FoldingRanges: FoldingRangesFor(doc.Content())})
}

// FoldingRangesFor returns one region per multi-line query block of text.
func FoldingRangesFor(text string) []FoldingRange {
	ranges := []FoldingRange{}
	for _, b := range langservice.QueryBlocks(text) {
		ranges = append(ranges, FoldingRange{
			StartLine: uint32(b.StartLine), //nolint:gosec // line numbers are non-negative
			EndLine:   uint32(b.EndLine),   //nolint:gosec // line numbers are non-negative
			Kind:      FoldingRangeKindRegion,
		})
	}
	return ranges
}
