package action

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hellosales/coachkernel/pkg/provider/llm"
)

const defaultWindowSize = 100

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "__builtin__"

// BuiltinTool is a tool implemented as a Go function that runs in-process,
// bypassing MCP protocol overhead entirely. It is otherwise subject to the
// same budget enforcement, calibration, and rolling-window metrics as an
// external tool.
type BuiltinTool struct {
	Definition  llm.ToolDefinition
	Handler     func(ctx context.Context, args string) (string, error)
	DeclaredP50 int64
	DeclaredMax int64
}

type toolEntry struct {
	def           llm.ToolDefinition
	serverName    string
	declaredP50Ms int64
	measuredP50Ms int64
	measuredP99Ms int64
	callCount     int64
	errorCount    int64
	tier          BudgetTier
	degraded      bool
	measurements  *rollingWindow
	builtinFn     func(ctx context.Context, args string) (string, error)
}

func (e toolEntry) effectiveP50() int64 {
	if e.measurements != nil && e.measurements.Count() > 0 {
		return e.measuredP50Ms
	}
	return e.declaredP50Ms
}

type serverConn struct {
	session *mcpsdk.ClientSession
}

// MCPHost is the concrete Host implementation. It connects to external MCP
// servers over stdio or streamable-HTTP using the official MCP Go SDK,
// maintains a concurrent-safe in-memory tool registry, enforces latency
// budget tiers, and calibrates tool performance through measured rolling-
// window percentiles.
//
// The zero value is not usable; create instances with NewHost.
type MCPHost struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry
	servers map[string]serverConn

	client *mcpsdk.Client
}

var _ Host = (*MCPHost)(nil)

// NewHost creates a ready-to-use MCPHost.
func NewHost() *MCPHost {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "coachkernel-action-host", Version: "1.0.0"}, nil)
	return &MCPHost{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
	}
}

// RegisterBuiltin registers an in-process tool, replacing any existing tool
// with the same name. Its initial tier is assigned from DeclaredP50.
func (h *MCPHost) RegisterBuiltin(tool BuiltinTool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("action: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("action: builtin tool %q must have a non-nil handler", tool.Definition.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = toolEntry{
		def:           tool.Definition,
		serverName:    builtinServerName,
		declaredP50Ms: tool.DeclaredP50,
		tier:          tierFromP50(tool.DeclaredP50),
		measurements:  newRollingWindow(defaultWindowSize),
		builtinFn:     tool.Handler,
	}
	return nil
}

// RegisterServer connects to cfg and imports its tool catalogue. Re-
// registering an existing Name closes the old connection and replaces it.
func (h *MCPHost) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("action: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("action: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("action: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("action: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("action: failed to connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("action: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}

	h.servers[cfg.Name] = serverConn{session: session}
	for _, mcpTool := range discovered {
		h.tools[mcpTool.Name] = toolEntry{
			def:          toolDefinitionFrom(mcpTool),
			serverName:   cfg.Name,
			tier:         tierFromP50(0),
			measurements: newRollingWindow(defaultWindowSize),
		}
	}
	return nil
}

func toolDefinitionFrom(t mcpsdk.Tool) llm.ToolDefinition {
	var schema map[string]any
	if data, err := json.Marshal(t.InputSchema); err == nil {
		_ = json.Unmarshal(data, &schema)
	}
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: schema}
}

// AvailableTools returns tools whose tier is <= tier, sorted fastest-first.
func (h *MCPHost) AvailableTools(tier BudgetTier) []llm.ToolDefinition {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var matched []toolEntry
	for _, e := range h.tools {
		if e.tier <= tier {
			matched = append(matched, e)
		}
	}
	// Simple insertion sort by effective P50 — the tool catalogue per run is
	// small (single digits), so an O(n^2) sort keeps this dependency-free.
	for i := 1; i < len(matched); i++ {
		for j := i; j > 0 && matched[j].effectiveP50() < matched[j-1].effectiveP50(); j-- {
			matched[j], matched[j-1] = matched[j-1], matched[j]
		}
	}

	defs := make([]llm.ToolDefinition, len(matched))
	for i, e := range matched {
		defs[i] = e.def
	}
	return defs
}

// ExecuteTool calls the named tool and records a latency/error measurement
// regardless of outcome.
func (h *MCPHost) ExecuteTool(ctx context.Context, name string, args string) (*ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("action: tool %q not found", name)
	}

	start := time.Now()
	var result *ToolResult
	var execErr error
	if entry.builtinFn != nil {
		result, execErr = h.executeBuiltin(ctx, entry, args)
	} else {
		result, execErr = h.executeMCPTool(ctx, entry, args)
	}
	durationMs := time.Since(start).Milliseconds()
	isError := execErr != nil || (result != nil && result.IsError)
	h.record(name, durationMs, isError)

	if execErr != nil {
		return nil, execErr
	}
	result.DurationMs = durationMs
	return result, nil
}

func (h *MCPHost) executeBuiltin(ctx context.Context, entry toolEntry, args string) (*ToolResult, error) {
	output, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &ToolResult{Content: output}, nil
}

func (h *MCPHost) executeMCPTool(ctx context.Context, entry toolEntry, args string) (*ToolResult, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("action: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("action: invalid args JSON for tool %q: %w", entry.def.Name, err)
		}
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: entry.def.Name, Arguments: argsMap})
	if err != nil {
		return nil, fmt.Errorf("action: call to tool %q failed: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &ToolResult{Content: sb.String(), IsError: callResult.IsError}, nil
}

func (h *MCPHost) record(name string, durationMs int64, isError bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.tools[name]
	if !ok {
		return
	}
	entry.measurements.Record(durationMs, isError)
	entry.callCount++
	if isError {
		entry.errorCount++
	}
	entry.measuredP50Ms = entry.measurements.P50()
	entry.measuredP99Ms = entry.measurements.P99()

	newTier := tierFromP50(entry.measuredP50Ms)
	entry.degraded = entry.measurements.ErrorRate() > 0.3
	if entry.degraded && newTier < BudgetDeep {
		newTier++
	}
	entry.tier = newTier
	h.tools[name] = entry
}

// Calibrate probes every registered tool with an empty-argument call,
// concurrently, and refreshes each tool's measured latency and tier. It
// propagates ctx cancellation but ignores individual probe errors — those
// are recorded in the rolling window instead.
func (h *MCPHost) Calibrate(ctx context.Context) error {
	h.mu.RLock()
	names := make([]string, 0, len(h.tools))
	for name := range h.tools {
		names = append(names, name)
	}
	h.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, _ = h.ExecuteTool(gctx, name, "{}")
			return nil
		})
	}
	return g.Wait()
}

// ToolHealth reports the current health snapshot for the named tool.
func (h *MCPHost) ToolHealth(name string) (ToolHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.tools[name]
	if !ok {
		return ToolHealth{}, false
	}
	return ToolHealth{
		Name:          name,
		MeasuredP50Ms: entry.measuredP50Ms,
		MeasuredP99Ms: entry.measuredP99Ms,
		CallCount:     entry.callCount,
		ErrorRate:     entry.measurements.ErrorRate(),
		Tier:          entry.tier,
		Degraded:      entry.degraded,
	}, true
}

// Close shuts down all external server connections and clears the registry.
func (h *MCPHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("action: error closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return firstErr
}

func tierFromP50(p50Ms int64) BudgetTier {
	switch {
	case p50Ms <= 500:
		return BudgetFast
	case p50Ms <= 1500:
		return BudgetStandard
	default:
		return BudgetDeep
	}
}

func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
