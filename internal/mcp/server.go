package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/arctrany/ai-product-selector-sub007/internal/repository"
	"github.com/arctrany/ai-product-selector-sub007/internal/workflow"
)

// Server exposes the run control plane as MCP tools so agent hosts can start
// and steer workflow runs.
type Server struct {
	mcpServer *server.MCPServer
	engine    *workflow.Engine
	store     repository.Store
}

func NewServer(engine *workflow.Engine, store repository.Store) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Orchestrator",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: engine,
		store:  store,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_run",
			mcp.WithDescription("Start or resume a workflow run for a flow version"),
			mcp.WithString("flow_version_id", mcp.Required(), mcp.Description("The flow version to execute")),
			mcp.WithString("thread_id", mcp.Description("Explicit thread id to continue under")),
		),
		s.handleStartRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_run",
			mcp.WithDescription("Fetch the status document of a run"),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread id of the run")),
		),
		s.handleGetRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"pause_run",
			mcp.WithDescription("Request a cooperative pause of a running run"),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread id of the run")),
		),
		s.handlePauseRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"resume_run",
			mcp.WithDescription("Resume a paused run from its stored position"),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread id of the run")),
		),
		s.handleResumeRun,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_run",
			mcp.WithDescription("Cancel a run, cooperatively if it is running"),
			mcp.WithString("thread_id", mcp.Required(), mcp.Description("The thread id of the run")),
			mcp.WithString("reason", mcp.Description("Why the run is being cancelled")),
		),
		s.handleCancelRun,
	)
}

func stringArg(request mcp.CallToolRequest, key string) (string, bool) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := args[key].(string)
	return v, ok
}

func (s *Server) handleStartRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowVersionID, ok := stringArg(request, "flow_version_id")
	if !ok || flowVersionID == "" {
		return mcp.NewToolResultError("Missing required parameter: flow_version_id"), nil
	}
	threadID, _ := stringArg(request, "thread_id")

	id, err := s.engine.StartWorkflow(ctx, flowVersionID, nil, threadID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start run: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"thread_id":%q}`, id)), nil
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, ok := stringArg(request, "thread_id")
	if !ok || threadID == "" {
		return mcp.NewToolResultError("Missing required parameter: thread_id"), nil
	}

	run, err := s.store.GetRun(ctx, threadID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch run: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(run)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handlePauseRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, ok := stringArg(request, "thread_id")
	if !ok || threadID == "" {
		return mcp.NewToolResultError("Missing required parameter: thread_id"), nil
	}

	applied, err := s.engine.Pause(ctx, threadID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to pause run: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"applied":%t}`, applied)), nil
}

func (s *Server) handleResumeRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, ok := stringArg(request, "thread_id")
	if !ok || threadID == "" {
		return mcp.NewToolResultError("Missing required parameter: thread_id"), nil
	}

	applied, err := s.engine.Resume(ctx, threadID, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resume run: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"applied":%t}`, applied)), nil
}

func (s *Server) handleCancelRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threadID, ok := stringArg(request, "thread_id")
	if !ok || threadID == "" {
		return mcp.NewToolResultError("Missing required parameter: thread_id"), nil
	}
	reason, _ := stringArg(request, "reason")
	if reason == "" {
		reason = "cancelled via MCP"
	}

	applied, err := s.engine.Cancel(ctx, threadID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel run: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"applied":%t}`, applied)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
