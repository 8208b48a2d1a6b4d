// Package mcp exposes the memory subsystem to AI agents as an MCP stdio
// server. The tool set is capability-gated: kb_search and memory_write are
// registered only when the backend supports them.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openclaw/mongomem/internal/memerr"
	"github.com/openclaw/mongomem/internal/memory"
	"github.com/openclaw/mongomem/internal/search"
	"github.com/openclaw/mongomem/internal/structured"
)

// ServerName and ServerVersion identify this implementation to clients.
const (
	ServerName    = "mongomem"
	ServerVersion = "0.3.0"
)

const defaultMaxResults = 10

// Server bridges MCP clients with the memory manager.
type Server struct {
	mcp     *mcp.Server
	manager *memory.Manager
	logger  *slog.Logger
}

// NewServer creates an MCP server over an initialised manager.
func NewServer(manager *memory.Manager, logger *slog.Logger) (*Server, error) {
	if manager == nil {
		return nil, errors.New("memory manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		manager: manager,
		logger:  logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// registerTools wires the capability-gated tool set.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_search",
		Description: "Search the agent's persistent memory: workspace memory files, session transcripts, the knowledge base, and structured observations. Hybrid semantic + keyword search with scores in [0,1].",
	}, s.memorySearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_get",
		Description: "Read lines from a workspace memory file. Paths are workspace-relative; use this to expand a search snippet into its surrounding context.",
	}, s.memoryGetHandler)

	count := 2

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "kb_search",
		Description: "Search only the knowledge base of ingested reference documents. Use when a query is about imported documentation rather than the agent's own notes.",
	}, s.kbSearchHandler)
	count++

	if s.manager.HasWriteCapability() {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "memory_write",
			Description: "Persist a typed observation (decision, preference, fact, todo, ...) keyed by type and key. Repeated writes with the same key replace the row.",
		}, s.memoryWriteHandler)
		count++
	}

	s.logger.Info("MCP tools registered", slog.Int("count", count))
}

func (s *Server) memorySearchHandler(ctx context.Context, req *mcp.CallToolRequest, input MemorySearchInput) (
	*mcp.CallToolResult,
	MemorySearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, MemorySearchOutput{}, errors.New("query parameter is required")
	}

	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	resp, err := s.manager.Search(ctx, input.Query, memory.SearchOptions{
		MaxResults: maxResults,
		MinScore:   input.MinScore,
		SessionKey: input.SessionKey,
	})
	if err != nil {
		return nil, MemorySearchOutput{}, toolError(err)
	}

	return nil, MemorySearchOutput{
		Results: toResultOutputs(resp.Results),
		Hint:    resp.Hint,
	}, nil
}

func (s *Server) memoryGetHandler(ctx context.Context, req *mcp.CallToolRequest, input MemoryGetInput) (
	*mcp.CallToolResult,
	MemoryGetOutput,
	error,
) {
	if input.Path == "" {
		return nil, MemoryGetOutput{}, errors.New("path parameter is required")
	}

	result, err := s.manager.ReadFile(memory.ReadFileRequest{
		Path:  input.Path,
		From:  input.From,
		Lines: input.Lines,
	})
	if err != nil {
		return nil, MemoryGetOutput{}, toolError(err)
	}

	return nil, MemoryGetOutput{
		Path:       result.Path,
		From:       result.From,
		Lines:      result.Lines,
		TotalLines: result.TotalLines,
		Content:    result.Content,
	}, nil
}

func (s *Server) kbSearchHandler(ctx context.Context, req *mcp.CallToolRequest, input KBSearchInput) (
	*mcp.CallToolResult,
	MemorySearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, MemorySearchOutput{}, errors.New("query parameter is required")
	}

	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	results, err := s.manager.KB().Search(ctx, input.Query, search.Options{
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, MemorySearchOutput{}, toolError(err)
	}

	return nil, MemorySearchOutput{Results: toResultOutputs(results)}, nil
}

func (s *Server) memoryWriteHandler(ctx context.Context, req *mcp.CallToolRequest, input MemoryWriteInput) (
	*mcp.CallToolResult,
	MemoryWriteOutput,
	error,
) {
	result, err := s.manager.WriteStructuredMemory(ctx, structured.WriteInput{
		Type:       input.Type,
		Key:        input.Key,
		Value:      input.Value,
		Context:    input.Context,
		Confidence: input.Confidence,
		Tags:       input.Tags,
	})
	if err != nil {
		return nil, MemoryWriteOutput{}, toolError(err)
	}
	return nil, MemoryWriteOutput{Upserted: result.Upserted, ID: result.ID}, nil
}

func toResultOutputs(results []search.Result) []ResultOutput {
	out := make([]ResultOutput, 0, len(results))
	for _, r := range results {
		out = append(out, ResultOutput{
			Path:      r.Path,
			Source:    string(r.Source),
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Text:      r.Text,
			Score:     r.Score,
		})
	}
	return out
}

// toolError flattens a classified error into a client-facing message with
// its remediation, credentials already redacted upstream.
func toolError(err error) error {
	if hint := memerr.Remediation(err); hint != "" {
		return fmt.Errorf("%w (%s)", err, hint)
	}
	return err
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
