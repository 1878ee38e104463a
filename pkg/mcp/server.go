// Package mcp exposes shopkeep's cache, delivery log and messaging as MCP
// tools over a line-delimited JSON-RPC 2.0 stdio transport.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/cache"
	"github.com/pario-ai/shopkeep/pkg/logger"
	"github.com/pario-ai/shopkeep/pkg/models"
)

// CacheReader is the part of *cache.Cache the tools read.
type CacheReader interface {
	Stats(ctx context.Context) models.CacheStats
	Lookup(ctx context.Context, store string) cache.Result
}

// DeliveryReader is the part of deliverylog.Log the tools read.
type DeliveryReader interface {
	Query(ctx context.Context, q models.DeliveryQuery) ([]models.DeliveryRecord, error)
	Stats(ctx context.Context) ([]models.DeliveryStat, error)
}

// QuotaReporter reports quota usage. *quota.Enforcer satisfies it.
type QuotaReporter interface {
	Status(ctx context.Context, chatID string) ([]models.QuotaStatus, error)
}

// Sender sends a notification. *messaging.Service satisfies it.
type Sender interface {
	Send(ctx context.Context, chatID, text string) models.SendResult
}

// Server is a minimal MCP server. Every dependency is optional; tools whose
// backing component is missing say so instead of failing.
type Server struct {
	cache      CacheReader
	deliveries DeliveryReader
	quota      QuotaReporter
	sender     Sender
	version    string
	log        *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCache exposes the cache tools.
func WithCache(c CacheReader) Option { return func(s *Server) { s.cache = c } }

// WithDeliveries exposes the delivery log tools.
func WithDeliveries(d DeliveryReader) Option { return func(s *Server) { s.deliveries = d } }

// WithQuota exposes the quota tool.
func WithQuota(q QuotaReporter) Option { return func(s *Server) { s.quota = q } }

// WithSender exposes the send tool.
func WithSender(snd Sender) Option { return func(s *Server) { s.sender = snd } }

// New creates a new MCP Server.
func New(version string, opts ...Option) *Server {
	s := &Server{version: version, log: logger.WithModule("mcp")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, rpcError(nil, CodeParseError, "parse error"))
			continue
		}

		if req.JSONRPC != jsonrpcVersion {
			if !req.IsNotification() {
				s.writeResponse(w, rpcError(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\""))
			}
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil || req.IsNotification() {
			continue
		}
		s.writeResponse(w, resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "shopkeep", Version: s.version},
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return rpcError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	s.log.Debug("tool call", zap.String("tool", params.Name))
	return result(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.log.Error("write response", zap.Error(err))
	}
}
