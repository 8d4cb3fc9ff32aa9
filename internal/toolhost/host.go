// Package toolhost executes tool calls on behalf of a model. Tools come from
// external MCP servers (stdio or streamable HTTP, via the official MCP Go
// SDK) or from Go handlers registered in-process.
//
// A [Host] satisfies [llm.ToolExecutor], so it plugs straight into
// [llm.ExecuteToolCalls] and the agent loop.
//
//	h := toolhost.New()
//	defer h.Close()
//	if err := h.Connect(ctx, cfg.MCP.Servers); err != nil {
//	    slog.Warn("some tool servers are unavailable", "err", err)
//	}
//	conv := llm.NewConversation(prompt, llm.WithTools(h.Tools()...))
package toolhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// builtinServer is the pseudo server name for in-process tools.
const builtinServer = "builtin"

// windowSize is the number of recent calls kept per tool for statistics.
const windowSize = 100

// Handler runs an in-process tool. Returning a *[llm.ToolExecutionError]
// controls the failure category reported to the model.
type Handler func(ctx context.Context, call llm.ToolCall) (string, error)

type toolEntry struct {
	tool    llm.Tool
	server  string
	handler Handler
	stats   *window
}

// Host manages MCP server sessions and the merged tool catalogue.
// It is safe for concurrent use. The zero value is not usable; call [New].
type Host struct {
	mu       sync.RWMutex
	tools    map[string]*toolEntry
	sessions map[string]*mcpsdk.ClientSession

	// One client manages every session.
	client *mcpsdk.Client
}

var _ llm.ToolExecutor = (*Host)(nil)

// New returns an empty Host.
func New() *Host {
	return &Host{
		tools:    make(map[string]*toolEntry),
		sessions: make(map[string]*mcpsdk.ClientSession),
		client:   mcpsdk.NewClient(&mcpsdk.Implementation{Name: "omnillm", Version: "1.0.0"}, nil),
	}
}

// Connect registers every server concurrently. A failing server does not
// prevent the others from connecting; all failures are joined into the
// returned error.
func (h *Host) Connect(ctx context.Context, servers []ServerConfig) error {
	errs := make([]error, len(servers))
	var eg errgroup.Group
	eg.SetLimit(4)
	for i, cfg := range servers {
		eg.Go(func() error {
			errs[i] = h.RegisterServer(ctx, cfg)
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. A server already registered under the same name is
// replaced.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	transport, err := cfg.transport()
	if err != nil {
		return err
	}
	return h.ConnectTransport(ctx, cfg.Name, transport)
}

// ConnectTransport registers a server reachable over an already constructed
// MCP transport.
func (h *Host) ConnectTransport(ctx context.Context, name string, transport mcpsdk.Transport) error {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("toolhost: connect to %q: %w", name, err)
	}

	var discovered []*toolEntry
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("toolhost: list tools of %q: %w", name, err)
		}
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = nil
		}
		tool, err := llm.NewToolFromSchema(t.Name, t.Description, schema)
		if err != nil {
			slog.Warn("toolhost: skipping tool", "server", name, "tool", t.Name, "err", err)
			continue
		}
		discovered = append(discovered, &toolEntry{tool: tool, server: name, stats: newWindow(windowSize)})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[name]; ok {
		_ = old.Close()
		h.dropServerLocked(name)
	}
	h.sessions[name] = session
	for _, e := range discovered {
		h.addLocked(e)
	}
	slog.Info("toolhost: server connected", "server", name, "tools", len(discovered))
	return nil
}

// RegisterBuiltin adds an in-process tool, replacing any tool of the same
// name.
func (h *Host) RegisterBuiltin(tool llm.Tool, handler Handler) error {
	if tool.Name() == "" {
		return fmt.Errorf("toolhost: builtin tool must be constructed with llm.NewTool")
	}
	if handler == nil {
		return fmt.Errorf("toolhost: builtin tool %q needs a handler", tool.Name())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(&toolEntry{tool: tool, server: builtinServer, handler: handler, stats: newWindow(windowSize)})
	return nil
}

func (h *Host) addLocked(e *toolEntry) {
	if prev, ok := h.tools[e.tool.Name()]; ok && prev.server != e.server {
		slog.Warn("toolhost: tool name collision, later registration wins",
			"tool", e.tool.Name(), "previous", prev.server, "server", e.server)
	}
	h.tools[e.tool.Name()] = e
}

func (h *Host) dropServerLocked(server string) {
	for name, e := range h.tools {
		if e.server == server {
			delete(h.tools, name)
		}
	}
}

// Tools returns the catalogue sorted by name.
func (h *Host) Tools() []llm.Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]llm.Tool, 0, len(h.tools))
	for _, e := range h.tools {
		out = append(out, e.tool)
	}
	slices.SortFunc(out, func(a, b llm.Tool) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// Stats summarises recent executions per tool, sorted by name.
func (h *Host) Stats() []ToolStats {
	h.mu.RLock()
	entries := make([]*toolEntry, 0, len(h.tools))
	for _, e := range h.tools {
		entries = append(entries, e)
	}
	h.mu.RUnlock()

	out := make([]ToolStats, 0, len(entries))
	for _, e := range entries {
		calls, rate, p50, p99 := e.stats.summary()
		out = append(out, ToolStats{Name: e.tool.Name(), Server: e.server, Calls: calls, ErrorRate: rate, P50: p50, P99: p99})
	}
	slices.SortFunc(out, func(a, b ToolStats) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ExecuteTool runs call against the tool it names. MCP results flagged as
// errors, and handler errors, are returned as *[llm.ToolExecutionError].
func (h *Host) ExecuteTool(ctx context.Context, call llm.ToolCall) (string, error) {
	h.mu.RLock()
	e, ok := h.tools[call.Name]
	var session *mcpsdk.ClientSession
	if ok && e.handler == nil {
		session = h.sessions[e.server]
	}
	h.mu.RUnlock()
	if !ok {
		return "", &llm.ToolExecutionError{
			Category: llm.ToolErrResourceNotFound,
			Message:  fmt.Sprintf("tool %q is not registered", call.Name),
		}
	}

	start := time.Now()
	var (
		out string
		err error
	)
	if e.handler != nil {
		out, err = e.handler(ctx, call)
	} else {
		out, err = callMCP(ctx, session, call)
	}
	e.stats.record(time.Since(start), err != nil)
	return out, err
}

func callMCP(ctx context.Context, session *mcpsdk.ClientSession, call llm.ToolCall) (string, error) {
	if session == nil {
		return "", &llm.ToolExecutionError{
			Category: llm.ToolErrNetworkError,
			Message:  fmt.Sprintf("server for tool %q is disconnected", call.Name),
		}
	}
	var args map[string]any
	if err := call.DecodeArguments(&args); err != nil {
		return "", err
	}
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: call.Name, Arguments: args})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &llm.ToolExecutionError{Category: llm.ToolErrNetworkError, Message: err.Error()}
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", &llm.ToolExecutionError{Category: llm.ToolErrUnknown, Message: sb.String()}
	}
	return sb.String(), nil
}

// Close ends every MCP session and clears the catalogue.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for name, s := range h.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("toolhost: close %q: %w", name, err))
		}
		delete(h.sessions, name)
	}
	clear(h.tools)
	return errors.Join(errs...)
}
