// Package mcpserver exposes the answering pipeline as Model Context Protocol
// tools over stdio.
package mcpserver

import (
	"context"
	"errors"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/scrypster/filmqa/internal/engine"
)

// LoadingReply is returned by every tool until the pipeline is ready.
const LoadingReply = "The knowledge graph is still loading, please try again shortly."

// ErrNotReady is returned by a Source before the resources are loaded.
var ErrNotReady = errors.New("mcpserver: pipeline not ready")

// Backend answers questions and runs structured queries.
type Backend interface {
	Handle(ctx context.Context, text string) (string, *engine.Trace)
	Query(ctx context.Context, text string) (string, *engine.Trace)
}

// Source returns the backend once it is ready.
type Source func() (Backend, error)

// Handlers implements the tools.
type Handlers struct {
	source Source
	logger *log.Logger
}

// New creates the MCP server and registers the tools on it.
func New(name, version string, source Source, logger *log.Logger) *server.MCPServer {
	if logger == nil {
		logger = log.Default()
	}
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	RegisterTools(s, &Handlers{source: source, logger: logger})
	return s
}

// RegisterTools adds ask_film_question and run_graph_query to s.
func RegisterTools(s *server.MCPServer, h *Handlers) {
	s.AddTool(mcp.NewTool("ask_film_question",
		mcp.WithDescription("Answer a natural language question about movies, e.g. "+
			"\"Who directed Inception?\" or \"Recommend movies similar to The Matrix\"."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
	), h.AskFilmQuestion)

	s.AddTool(mcp.NewTool("run_graph_query",
		mcp.WithDescription("Run a read-only SELECT query over the triples(subject, predicate, object, "+
			"kind, lang, datatype) table. PREFIX declarations are expanded."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The structured query"),
		),
	), h.RunGraphQuery)
}

// AskFilmQuestion handles the ask_film_question tool.
func (h *Handlers) AskFilmQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question argument is required and must be a string"), nil
	}
	b, ok := h.backend()
	if !ok {
		return mcp.NewToolResultText(LoadingReply), nil
	}
	answer, _ := b.Handle(ctx, question)
	return mcp.NewToolResultText(answer), nil
}

// RunGraphQuery handles the run_graph_query tool.
func (h *Handlers) RunGraphQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required and must be a string"), nil
	}
	b, ok := h.backend()
	if !ok {
		return mcp.NewToolResultText(LoadingReply), nil
	}
	out, trace := b.Query(ctx, query)
	if e, found := trace.Last(engine.KindRawQuery); found && e.Error != "" {
		h.logger.Printf("mcpserver: query failed: %s", e.Error)
	}
	return mcp.NewToolResultText(out), nil
}

func (h *Handlers) backend() (Backend, bool) {
	b, err := h.source()
	if err != nil || b == nil {
		return nil, false
	}
	return b, true
}

// ServeStdio serves s on stdin and stdout until ctx is cancelled or the
// input is closed.
func ServeStdio(ctx context.Context, s *server.MCPServer, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ServeStdio(s, server.WithErrorLogger(logger))
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
