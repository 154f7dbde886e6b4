package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/hoardlabs/hoard/internal/dispatch"
)

const protocolVersion = "2024-11-05"

// Server speaks MCP over stdio and routes tool calls straight into the
// dispatch registry, so stdio clients and HTTP clients hit the exact same
// code path behind the writer.
type Server struct {
	registry *dispatch.Registry
	in       io.Reader
	out      io.Writer
	version  string
	logger   *slog.Logger
}

func NewServer(registry *dispatch.Registry, in io.Reader, out io.Writer, version string, logger *slog.Logger) *Server {
	return &Server{registry: registry, in: in, out: out, version: version, logger: logger}
}

// Run reads newline-delimited JSON-RPC until the input closes or the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(&Response{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: -32700, Message: "parse error: " + err.Error()},
			})
			continue
		}

		if resp := s.handleRequest(ctx, &req); resp != nil {
			s.writeResponse(resp)
		}
	}
	return scanner.Err()
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: InitializeResult{
				ProtocolVersion: protocolVersion,
				Capabilities:    ServerCapabilities{Tools: &ToolCapabilities{}},
				ServerInfo:      ServerInfo{Name: "hoard", Version: s.version},
			},
		}
	case "initialized", "notifications/initialized":
		// Notification, no response.
		return nil
	case "tools/list":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: s.toolDefinitions()}}
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]string{}}
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "method not found: " + req.Method},
		}
	}
}

func (s *Server) toolDefinitions() []ToolDefinition {
	tools := s.registry.Tools()
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaFor(t.Name),
		})
	}
	return defs
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	paramsBytes, err := json.Marshal(req.Params)
	if err != nil {
		return errorResponse(req.ID, -32602, "invalid params")
	}
	var params CallToolParams
	if err := json.Unmarshal(paramsBytes, &params); err != nil {
		return errorResponse(req.ID, -32602, "invalid params: "+err.Error())
	}

	result, err := s.registry.Dispatch(ctx, params.Name, params.Arguments)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{
			"error": err.Error(),
			"code":  dispatch.ErrorCode(err),
		})
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: CallToolResult{
				Content: []ContentBlock{{Type: "text", Text: string(payload)}},
				IsError: true,
			},
		}
	}

	text, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, -32603, "marshal result: "+err.Error())
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: string(text)}},
		},
	}
}

func (s *Server) writeResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	fmt.Fprintf(s.out, "%s\n", data)
}

func errorResponse(id any, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}
