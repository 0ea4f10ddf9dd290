// Package action provides the tool-execution surface consumed by
// stages.PolicyActionStage: a Host that holds a catalogue of callable tools
// (external, via the Model Context Protocol, or in-process builtins),
// enforces latency-based budget tiers, and tracks per-tool health through
// rolling-window percentiles.
//
// A Host is wired into the pipeline indirectly — it never implements
// stage.Stage itself. Instead an Executor wraps a Host and is handed to
// stages.PolicyActionStage.Executor, so that the pre_action/post_action
// policy gates in stages/policycheck.go sit between the graph and every
// tool call the LLM requests.
package action

import (
	"context"

	"github.com/hellosales/coachkernel/pkg/provider/llm"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognized transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// BudgetTier controls which tools are visible to the LLM based on latency
// constraints. It mirrors the three behavior tiers a topology can run under
// (fast/accurate turns have different tolerance for a slow tool call).
type BudgetTier int

const (
	// BudgetFast allows only tools with <= 500ms estimated latency.
	BudgetFast BudgetTier = iota

	// BudgetStandard allows tools with <= 1500ms estimated latency.
	BudgetStandard

	// BudgetDeep allows all tools regardless of latency.
	BudgetDeep
)

// String returns the human-readable name of the budget tier.
func (t BudgetTier) String() string {
	switch t {
	case BudgetFast:
		return "FAST"
	case BudgetStandard:
		return "STANDARD"
	case BudgetDeep:
		return "DEEP"
	default:
		return "UNKNOWN"
	}
}

// MaxLatencyMs returns the maximum tolerated tool latency for this tier.
func (t BudgetTier) MaxLatencyMs() int {
	switch t {
	case BudgetFast:
		return 500
	case BudgetStandard:
		return 1500
	case BudgetDeep:
		return 4000
	default:
		return 500
	}
}

// ServerConfig describes how to connect to a single external MCP server.
type ServerConfig struct {
	// Name is the human-readable identifier for this server. Must be unique
	// within a single Host.
	Name string

	Transport Transport

	// Command is the executable path (and optional arguments), used when
	// Transport is TransportStdio. Example: "/usr/local/bin/mcp-coach-tools".
	Command string

	// URL is the endpoint address, used when Transport is TransportStreamableHTTP.
	URL string

	// Env holds additional environment variables injected into the server
	// process when Transport is TransportStdio. May be nil.
	Env map[string]string
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output, typically JSON or human-readable
	// text ready for insertion back into an LLM context window.
	Content string

	// IsError indicates an application-level error (as opposed to a transport
	// or protocol failure, which is returned via the Go error return value
	// instead). When true, Content holds the error message.
	IsError bool

	// DurationMs is the wall-clock time from dispatch to full response.
	DurationMs int64
}

// ToolHealth captures the measured runtime performance of a single tool,
// populated by Host.Calibrate and by every ExecuteTool call.
type ToolHealth struct {
	Name          string
	MeasuredP50Ms int64
	MeasuredP99Ms int64
	CallCount     int64
	ErrorRate     float64
	Tier          BudgetTier
	Degraded      bool
}

// Host manages connections to tool providers, routes tool calls, and tracks
// per-tool performance for latency-based budget tier assignment.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// RegisterServer connects to the MCP server described by cfg and imports
	// its tool catalogue. Re-registering an existing Name reconnects it.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// AvailableTools returns all tools whose assigned BudgetTier is <= tier,
	// sorted by estimated latency ascending (fastest first).
	AvailableTools(tier BudgetTier) []llm.ToolDefinition

	// ExecuteTool calls the named tool with JSON-encoded args and returns its
	// result. A non-nil *ToolResult is returned on success even when
	// ToolResult.IsError is true; a Go error means transport/protocol failure.
	ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error)

	// Calibrate probes every registered tool to refresh its measured latency
	// and tier. Probes run concurrently and respect ctx for cancellation.
	Calibrate(ctx context.Context) error

	// ToolHealth reports the current health snapshot for the named tool.
	ToolHealth(name string) (ToolHealth, bool)

	// Close shuts down all server connections. The Host must not be used
	// again after Close returns.
	Close() error
}
