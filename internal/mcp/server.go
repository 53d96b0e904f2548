package mcp

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/respondo-rag/internal/retrieval"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Documents DocumentService
	Embedder  retrieval.Embedder
	Searcher  *retrieval.Searcher
	Vectors   VectorIndex // Optional
	Version   string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	impl := &mcp.Implementation{
		Name:    "respondo-knowledge-base",
		Version: version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Search the uploaded business documents semantically. Returns the best matching excerpt per document.",
	}, makeSearchHandler(cfg.Documents, cfg.Embedder, cfg.Searcher))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List uploaded documents with their ingestion status and summary.",
	}, makeListHandler(cfg.Documents))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_document",
		Description: "Get one document by id, including chunk and embedding counts.",
	}, makeGetHandler(cfg.Documents))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Get document counts by ingestion status, the total number of embeddings and vector store health.",
	}, makeStatusHandler(cfg.Documents, cfg.Vectors))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// HTTPHandler serves the MCP server over Streamable HTTP.
// Stateless mode drops session tracking, which suits tool-only clients.
func (s *Server) HTTPHandler(stateless bool) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Stateless: stateless})
}
