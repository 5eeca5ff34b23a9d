// Package server exposes the library over MCP stdio: three tools,
// list_books, search_books and find_topic. Handlers always return a
// structured result or a structured error, never a raw fault.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/epublic/epublib/index"
	"github.com/epublic/epublib/library"
	"github.com/epublic/epublib/query"
)

const (
	serverName    = "epublic-library"
	serverVersion = "1.0.0"

	defaultListLimit = 50
	maxLimit         = query.MaxLimit
)

// Server wires the metadata index and the query engine to the MCP
// transport. rebuild is invoked when the full-text index signals a
// rebuild-required condition, then the failed call is retried once.
type Server struct {
	lib     *library.Library
	engine  *query.Engine
	rebuild func(ctx context.Context) error
}

// New assembles the tool server. rebuild may be nil when the caller
// guarantees a healthy index (tests).
func New(lib *library.Library, engine *query.Engine, rebuild func(ctx context.Context) error) *Server {
	return &Server{lib: lib, engine: engine, rebuild: rebuild}
}

// ServeStdio registers the tools and blocks serving stdio.
func (s *Server) ServeStdio() error {
	m := mcpserver.NewMCPServer(
		serverName,
		serverVersion,
		mcpserver.WithToolCapabilities(true),
	)

	m.AddTool(
		mcp.NewTool("list_books",
			mcp.WithDescription("List available books with optional pagination"),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of books to return (default 50)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of books to skip before returning results (default 0)"),
			),
			mcp.WithArray("include_fields",
				mcp.Description("Optional fields to include: author, published, path"),
				mcp.Items(map[string]any{"type": "string"}),
			),
		),
		s.handleListBooks,
	)

	m.AddTool(
		mcp.NewTool("search_books",
			mcp.WithDescription("Search book metadata by title, author, or publication year"),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query (title, author name, or year)"),
			),
		),
		s.handleSearchBooks,
	)

	m.AddTool(
		mcp.NewTool("find_topic",
			mcp.WithDescription("Find advice or content on a specific topic with full attribution (filters can be combined)"),
			mcp.WithString("topic",
				mcp.Description("Topic to search for"),
			),
			mcp.WithArray("topics",
				mcp.Description("Optional list of topics; matches any topic (OR logic)"),
				mcp.Items(map[string]any{"type": "string"}),
			),
			mcp.WithString("book_filter",
				mcp.Description("Optional: filter to specific book title"),
			),
			mcp.WithString("author_filter",
				mcp.Description("Optional: filter to specific author"),
			),
			mcp.WithString("match_type",
				mcp.Description("Match strategy for topics and filters: exact or fuzzy (default fuzzy)"),
				mcp.DefaultString("fuzzy"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results (default 10)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of results to skip before returning matches (default 0)"),
			),
		),
		s.handleFindTopic,
	)

	log.Printf("%s MCP server started", serverName)
	return mcpserver.ServeStdio(m)
}

func (s *Server) handleListBooks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultListLimit)
	offset := req.GetInt("offset", 0)
	fields := req.GetStringSlice("include_fields", nil)

	if limit < 0 || offset < 0 {
		return mcp.NewToolResultError("limit and offset must be non-negative integers"), nil
	}
	if limit > maxLimit {
		return mcp.NewToolResultError(fmt.Sprintf("limit must be <= %d", maxLimit)), nil
	}

	total, books := s.lib.List(offset, limit, fields)
	return jsonResult(map[string]any{
		"total":  total,
		"offset": offset,
		"limit":  limit,
		"books":  books,
	})
}

func (s *Server) handleSearchBooks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := req.GetString("query", "")
	results := s.lib.Search(q)
	if results == nil {
		results = []library.Summary{}
	}
	return jsonResult(results)
}

func (s *Server) handleFindTopic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := req.GetString("topic", "")
	topics := req.GetStringSlice("topics", nil)
	if topic == "" && len(topics) == 0 {
		return mcp.NewToolResultError("topic or topics is required"), nil
	}

	qr := query.Request{
		Topic:        topic,
		Topics:       topics,
		BookFilter:   req.GetString("book_filter", ""),
		AuthorFilter: req.GetString("author_filter", ""),
		MatchType:    req.GetString("match_type", "fuzzy"),
		Limit:        req.GetInt("limit", query.DefaultLimit),
		Offset:       req.GetInt("offset", 0),
	}

	resp, err := s.engine.FindTopic(ctx, qr)
	if errors.Is(err, index.ErrRebuildRequired) && s.rebuild != nil {
		log.Printf("full-text index unavailable, rebuilding: %v", err)
		if rerr := s.rebuild(ctx); rerr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("index rebuild failed: %v", rerr)), nil
		}
		resp, err = s.engine.FindTopic(ctx, qr)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resp)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
