package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/arcway/mcpmux/internal/backend"
	"github.com/arcway/mcpmux/internal/logging"
	"github.com/arcway/mcpmux/internal/workflow"
)

// deps is everything the tool handlers close over. Built once in run().
type deps struct {
	log            logging.Logger
	reg            *backend.Registry
	health         *backend.HealthMonitor
	mgr            *backend.ConcurrentRequestManager
	ask            *workflow.AskHandler
	council        *workflow.CouncilHandler
	dualIterate    *workflow.DualIterateHandler
	parallelAgents *workflow.ParallelAgentsHandler
	subagent       *workflow.SubagentHandler
}

// registerTools builds the stable tool catalog and binds each tool name
// to its typed handler through the dispatcher closures below.
func registerTools(srv *server.MCPServer, d deps) {
	srv.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Query a single backend, selected by the 4-tier router unless force_backend/model is set."),
		mcp.WithString("model", mcp.Description("backend name, or \"auto\" to let the router choose")),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("the prompt to send")),
		mcp.WithNumber("max_tokens", mcp.Description("requested output token budget")),
		mcp.WithString("force_backend", mcp.Description("bypass routing and fallback entirely")),
		mcp.WithBoolean("enable_chunking", mcp.Description("if the response looks truncated, request one continuation and append it after a boundary marker (the response is not split into sentence-aligned chunks)")),
		mcp.WithBoolean("thinking", mcp.Description("request extended reasoning content where the backend supports it")),
	), d.handleAsk)

	srv.AddTool(mcp.NewTool("council",
		mcp.WithDescription("Fan a prompt out to 2-6 backends in parallel and report their answers plus an agreement signal. No cross-backend synthesis."),
		mcp.WithString("prompt", mcp.Required()),
		mcp.WithString("topic", mcp.Enum("coding", "reasoning", "architecture", "security", "performance", "general", "creative"), mcp.DefaultString("general")),
		mcp.WithString("confidence_needed", mcp.Enum("high", "medium", "low"), mcp.DefaultString("medium")),
		mcp.WithNumber("num_backends", mcp.Description("override the confidence_needed backend count")),
		mcp.WithNumber("max_tokens"),
	), d.handleCouncil)

	srv.AddTool(mcp.NewTool("dual_iterate",
		mcp.WithDescription("Generate -> review -> fix loop bound to a coder backend and a reviewer backend, gated by a quality score."),
		mcp.WithString("task", mcp.Required()),
		mcp.WithNumber("max_iterations", mcp.DefaultNumber(3)),
		mcp.WithNumber("quality_threshold", mcp.DefaultNumber(0.7)),
		mcp.WithBoolean("include_history"),
	), d.handleDualIterate)

	srv.AddTool(mcp.NewTool("parallel_agents",
		mcp.WithDescription("Decompose a task into subtasks and run them through RED/GREEN/REFACTOR phases with parallel subagents and a quality gate."),
		mcp.WithString("task", mcp.Required()),
		mcp.WithNumber("max_parallel", mcp.DefaultNumber(2)),
		mcp.WithNumber("max_iterations", mcp.DefaultNumber(3)),
		mcp.WithBoolean("iterate_until_quality"),
		mcp.WithString("work_directory"),
		mcp.WithBoolean("write_files"),
	), d.handleParallelAgents)

	srv.AddTool(mcp.NewTool("spawn_subagent",
		mcp.WithDescription("Issue a single role-templated request (code-reviewer, security-auditor, planner, etc)."),
		mcp.WithString("role", mcp.Required()),
		mcp.WithString("task", mcp.Required()),
		mcp.WithArray("file_patterns", mcp.Description("glob patterns hinting which files the role should reason about")),
		mcp.WithString("context"),
		mcp.WithBoolean("verdict_mode"),
	), d.handleSpawnSubagent)

	srv.AddTool(mcp.NewTool("check_backend_health",
		mcp.WithDescription("Probe one backend (or all, if omitted) and report health. force bypasses the 5-minute on-demand cache when a backend is named; it is ignored when probing all."),
		mcp.WithString("backend"),
		mcp.WithBoolean("force"),
	), d.handleCheckBackendHealth)
}

func (d deps) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(req)
	in := workflow.AskRequest{
		Model:          stringArg(args, "model", "auto"),
		Prompt:         stringArg(args, "prompt", ""),
		MaxTokens:      intArg(args, "max_tokens", 2000),
		ForceBackend:   stringArg(args, "force_backend", ""),
		EnableChunking: boolArg(args, "enable_chunking", false),
		Thinking:       boolArg(args, "thinking", false),
	}
	return d.run(ctx, "ask", func(ctx context.Context) (interface{}, error) {
		return d.ask.Run(ctx, in)
	})
}

func (d deps) handleCouncil(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(req)
	in := workflow.CouncilRequest{
		Prompt:           stringArg(args, "prompt", ""),
		Topic:            workflow.Topic(stringArg(args, "topic", "general")),
		ConfidenceNeeded: workflow.ConfidenceNeeded(stringArg(args, "confidence_needed", "medium")),
		NumBackends:      intArg(args, "num_backends", 0),
		MaxTokens:        intArg(args, "max_tokens", 2000),
	}
	return d.run(ctx, "council", func(ctx context.Context) (interface{}, error) {
		return d.council.Run(ctx, in)
	})
}

func (d deps) handleDualIterate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(req)
	in := workflow.DualIterateRequest{
		Task:             stringArg(args, "task", ""),
		MaxIterations:    intArg(args, "max_iterations", 3),
		QualityThreshold: floatArg(args, "quality_threshold", 0.7),
		IncludeHistory:   boolArg(args, "include_history", false),
	}
	return d.run(ctx, "dual_iterate", func(ctx context.Context) (interface{}, error) {
		return d.dualIterate.Run(ctx, in)
	})
}

func (d deps) handleParallelAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(req)
	in := workflow.ParallelAgentsRequest{
		Task:                stringArg(args, "task", ""),
		MaxParallel:         intArg(args, "max_parallel", 2),
		MaxIterations:       intArg(args, "max_iterations", 3),
		IterateUntilQuality: boolArg(args, "iterate_until_quality", false),
		WorkDirectory:       stringArg(args, "work_directory", ""),
		WriteFiles:          boolArg(args, "write_files", false),
	}
	return d.run(ctx, "parallel_agents", func(ctx context.Context) (interface{}, error) {
		return d.parallelAgents.Run(ctx, in)
	})
}

func (d deps) handleSpawnSubagent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(req)
	in := workflow.SubagentRequest{
		Role:         stringArg(args, "role", ""),
		Task:         stringArg(args, "task", ""),
		FilePatterns: stringSliceArg(args, "file_patterns"),
		ExtraContext: stringArg(args, "context", ""),
		VerdictMode:  boolArg(args, "verdict_mode", false),
	}
	return d.run(ctx, "spawn_subagent", func(ctx context.Context) (interface{}, error) {
		return d.subagent.Run(ctx, in)
	})
}

func (d deps) handleCheckBackendHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(req)
	name := stringArg(args, "backend", "")
	force := boolArg(args, "force", false)

	return d.run(ctx, "check_backend_health", func(ctx context.Context) (interface{}, error) {
		if name != "" {
			result, err := d.health.Probe(ctx, d.reg, name, force)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"backend": name, "healthy": result.Healthy, "latency_ms": result.LatencyMS, "detail": result.Detail}, nil
		}
		out := map[string]interface{}{"backends": d.reg.CheckHealth(ctx, d.health, true)}
		if d.mgr != nil {
			out["concurrency"] = d.mgr.Metrics()
		}
		return out, nil
	})
}

// run wraps a handler body with request-id correlation and the standard
// {success, metadata, ...} response envelope. A handler error still
// succeeds at the MCP layer as a structured {success:false} payload;
// only a panic or transport-level problem would throw there.
func (d deps) run(ctx context.Context, tool string, fn func(ctx context.Context) (interface{}, error)) (*mcp.CallToolResult, error) {
	reqID := newRequestID()
	ctx = logging.WithRequestID(ctx, reqID)
	start := time.Now()

	result, err := fn(ctx)
	duration := time.Since(start)

	envelope := map[string]interface{}{
		"metadata": map[string]interface{}{
			"tool":        tool,
			"duration_ms": duration.Milliseconds(),
			"request_id":  reqID,
		},
	}
	if err != nil {
		d.log.ErrorWithContext(ctx, "tool call failed", map[string]interface{}{"tool": tool, "error": err.Error()})
		envelope["success"] = false
		envelope["error"] = logging.Redact(err.Error())
		envelope["detail"] = map[string]interface{}{"tool": tool}
		return textResult(envelope), nil
	}

	envelope["success"] = true
	merged := mergeResult(envelope, result)
	return textResult(merged), nil
}

// mergeResult flattens a handler's struct result (via JSON round-trip)
// into the envelope map so the tool response is one flat JSON object.
func mergeResult(envelope map[string]interface{}, result interface{}) map[string]interface{} {
	raw, err := json.Marshal(result)
	if err != nil {
		envelope["result"] = result
		return envelope
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		envelope["result"] = result
		return envelope
	}
	for k, v := range fields {
		envelope[k] = v
	}
	return envelope
}

func textResult(v interface{}) *mcp.CallToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(raw))
}

// getArgs safely extracts the arguments map from a CallToolRequest.
func getArgs(req mcp.CallToolRequest) map[string]interface{} {
	if req.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := req.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func intArg(args map[string]interface{}, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}

func floatArg(args map[string]interface{}, key string, defaultVal float64) float64 {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	if f, ok := val.(float64); ok {
		return f
	}
	return defaultVal
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	val, ok := args[key]
	if !ok || val == nil {
		return nil
	}
	items, ok := val.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func boolArg(args map[string]interface{}, key string, defaultVal bool) bool {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return defaultVal
}
