// Package mcp exposes ionflow to agents over the Model Context Protocol:
// launch insertion runs, query their status and trace records, schedule
// recurring runs, and cancel in-flight ones.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/matgraph/ionflow/internal/insertion"
	"github.com/matgraph/ionflow/internal/store"
	"github.com/matgraph/ionflow/internal/trace"
	"github.com/matgraph/ionflow/internal/validation"
)

// IonflowServerDeps holds the dependencies for creating an IonflowServer.
type IonflowServerDeps struct {
	Service   *insertion.Service
	Store     store.Store
	Tracer    *trace.Tracer
	Validator *validation.RequestValidator
	Logger    *slog.Logger
}

// IonflowServer wraps an MCP server with ionflow tool handlers.
type IonflowServer struct {
	service   *insertion.Service
	store     store.Store
	tracer    *trace.Tracer
	validator *validation.RequestValidator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewIonflowServer creates an IonflowServer with all tools registered.
func NewIonflowServer(deps IonflowServerDeps) *IonflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &IonflowServer{
		service:   deps.Service,
		store:     deps.Store,
		tracer:    deps.Tracer,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"ionflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("ionflow runs iterative guest-species insertion workflows over a dynamic task graph. Use ionflow.run to launch a run, ionflow.status for node states and events, ionflow.trace to query the run record with jq, ionflow.schedule for recurring runs, and ionflow.cancel to stop a run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *IonflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *IonflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *IonflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: traceTool(), Handler: s.handleTrace},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
		{Tool: cancelTool(), Handler: s.handleCancel},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("ionflow.run",
		mcp.WithDescription("Launch an insertion run and wait for its result"),
		mcp.WithObject("request", mcp.Required(),
			mcp.Description("InsertionRequest document: host structure, guest species, max_steps, candidates_per_step, optional stop_condition (CEL) and admit_filter (Expr)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("ionflow.status",
		mcp.WithDescription("Get the current state of a run: node states and event log"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func traceTool() mcp.Tool {
	return mcp.NewTool("ionflow.trace",
		mcp.WithDescription("Query a run's trace record (tasks keyed by depth-qualified name) with a jq expression"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
		mcp.WithString("query", mcp.Description("jq expression over the record; default returns the whole record")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("ionflow.schedule",
		mcp.WithDescription("Register a recurring insertion run driven by a cron expression"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Label for the scheduled run")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Standard 5-field cron expression")),
		mcp.WithObject("request", mcp.Required(), mcp.Description("InsertionRequest document to run on each fire")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("ionflow.cancel",
		mcp.WithDescription("Cancel a run; pending nodes are skipped, resolved nodes keep their results"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
		mcp.WithString("reason", mcp.Description("Why the run is being cancelled")),
	)
}
