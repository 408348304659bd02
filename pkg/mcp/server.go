// Package mcp serves kabunote's operator tools over the Model Context
// Protocol (JSON-RPC 2.0 on stdio).
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/quota"
)

// Backend is the part of the application the tools read and maintain.
type Backend interface {
	Usage(ctx context.Context, userID string) (models.UsageSnapshot, error)
	UsageHistory(ctx context.Context, days int) ([]models.DailyUsage, error)
	Limits() quota.Limits
	CacheStats(ctx context.Context) (models.CacheStats, error)
	CleanupExpired(ctx context.Context) (int64, error)
	Invalidate(ctx context.Context, code string) (bool, error)
	CachedExplanation(ctx context.Context, code, period string) (*models.Explanation, error)
}

// Server is a line-delimited JSON-RPC 2.0 MCP server.
type Server struct {
	backend Backend
	version string
	log     zerolog.Logger
}

// New creates a Server.
func New(b Backend, version string, log zerolog.Logger) *Server {
	return &Server{
		backend: b,
		version: version,
		log:     log.With().Str("component", "mcp").Logger(),
	}
}

// Run reads requests from r line by line and writes responses to w. It
// blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, Response{
				JSONRPC: jsonrpcVersion,
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return result(req, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "kabunote", Version: s.version},
			Capabilities:    Capabilities{},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req, map[string]any{})
	case "tools/list":
		return result(req, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return rpcError(req, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	s.log.Debug().Str("tool", params.Name).Msg("tool call")
	return result(req, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}
