package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/funcgate/internal/llm"
)

// Registry manages multiple MCP tool server connections.
type Registry struct {
	connections map[string]*MCPConnection // server name → connection
	toolIndex   map[string]string         // tool name → server name
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*MCPConnection),
		toolIndex:   make(map[string]string),
	}
}

// Register launches an MCP tool server and adds its tools to the registry.
func (r *Registry) Register(name string, cfg ToolServerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	env := os.Environ()
	for k, v := range cfg.Env {
		// Expand environment variable references like ${VAR}
		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			v = os.Getenv(v[2 : len(v)-1])
		}
		env = append(env, k+"="+v)
	}

	conn, err := NewMCPConnection(name, cfg, env)
	if err != nil {
		return err
	}
	return r.add(name, conn)
}

// RegisterServer adds the tools of an in-process MCP server.
func (r *Registry) RegisterServer(ctx context.Context, name string, srv *server.MCPServer) error {
	conn, err := NewInProcessConnection(ctx, name, srv)
	if err != nil {
		return err
	}
	return r.add(name, conn)
}

func (r *Registry) add(name string, conn *MCPConnection) error {
	for _, toolName := range conn.ToolNames() {
		if other, ok := r.toolIndex[toolName]; ok {
			conn.Close()
			return fmt.Errorf("tool %s from %s already registered by %s", toolName, name, other)
		}
	}
	r.connections[name] = conn
	for _, toolName := range conn.ToolNames() {
		r.toolIndex[toolName] = name
	}
	return nil
}

// FunctionDefinitions returns the definitions of every registered tool,
// ordered by server name.
func (r *Registry) FunctionDefinitions() ([]llm.FunctionDefinition, error) {
	names := make([]string, 0, len(r.connections))
	for name := range r.connections {
		names = append(names, name)
	}
	sort.Strings(names)

	var all []llm.FunctionDefinition
	for _, name := range names {
		defs, err := r.connections[name].FunctionDefinitions()
		if err != nil {
			return nil, err
		}
		all = append(all, defs...)
	}
	return all, nil
}

// CallTool routes a tool call to the appropriate MCP server. arguments is
// the JSON object produced by the model.
func (r *Registry) CallTool(ctx context.Context, name, arguments string) (string, error) {
	serverName, ok := r.toolIndex[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	var args map[string]any
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("decoding arguments for %s: %w", name, err)
		}
	}
	return r.connections[serverName].CallTool(ctx, name, args)
}

// HasTools returns true if any tools are registered.
func (r *Registry) HasTools() bool {
	return len(r.toolIndex) > 0
}

// Close shuts down all MCP server connections.
func (r *Registry) Close() {
	for _, conn := range r.connections {
		conn.Close()
	}
}
