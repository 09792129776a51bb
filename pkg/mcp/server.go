package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/pario-ai/steer/pkg/models"
	"github.com/pario-ai/steer/pkg/resilience"
)

// Router decides routing for ad-hoc requests.
type Router interface {
	DetermineRouting(ctx context.Context, req *models.SelectionRequest) models.RoutingDecision
}

// ConstraintChecker evaluates the budgets covering a request scope.
type ConstraintChecker interface {
	CheckRequestConstraints(ctx context.Context, scope models.RequestScope, estimatedCost float64) (models.RequestConstraintResult, error)
}

// BudgetLister lists the active budgets of a scope.
type BudgetLister interface {
	ListBudgets(ctx context.Context, scopeType models.ScopeType, scopeID string) ([]models.Budget, error)
}

// StatusReader derives the status of one budget.
type StatusReader interface {
	GetBudgetStatus(ctx context.Context, budgetID string) (*models.BudgetStatus, error)
}

// BreakerLister snapshots circuit breakers.
type BreakerLister interface {
	Metrics() []resilience.Metrics
}

// CacheStatter provides cache statistics without coupling to a concrete cache implementation.
type CacheStatter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// AuditSearcher queries the audit log.
type AuditSearcher interface {
	Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error)
}

// Options wires the server to the gateway components. Nil components make
// their tools answer "not configured".
type Options struct {
	Router      Router
	Constraints ConstraintChecker
	Budgets     BudgetLister
	Status      StatusReader
	Breakers    BreakerLister
	Cache       CacheStatter
	Audit       AuditSearcher
	Version     string
	Logger      *zap.Logger
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	opts   Options
	logger *zap.Logger
}

// New creates a new MCP Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{opts: opts, logger: logger.Named("mcp")}
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
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}
		if req.JSONRPC != jsonrpcVersion {
			s.writeResponse(w, errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be %s", jsonrpcVersion))
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			continue
		}
		s.writeResponse(w, resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: ServerName, Version: s.opts.Version},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "unknown method: %s", req.Method)
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	res := handler(ctx, s, params.Arguments)
	if res.IsError {
		s.logger.Warn("tool call failed", zap.String("tool", params.Name), zap.String("message", res.Content[0].Text))
	}
	return resultResponse(req.ID, res)
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
