package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/funcgate/internal/llm"
)

// MCPConnection wraps an mcp-go client for a single tool server.
type MCPConnection struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

// NewMCPConnection launches an MCP server subprocess and initializes the connection.
func NewMCPConnection(name string, cfg ToolServerConfig, env []string) (*MCPConnection, error) {
	c, err := client.NewStdioMCPClient(cfg.Binary, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("starting MCP server %s (%s): %w", name, cfg.Binary, err)
	}
	return connect(context.Background(), name, c)
}

// NewInProcessConnection connects to an MCP server running in this process.
func NewInProcessConnection(ctx context.Context, name string, srv *server.MCPServer) (*MCPConnection, error) {
	c, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("creating in-process MCP client %s: %w", name, err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("starting in-process MCP client %s: %w", name, err)
	}
	return connect(ctx, name, c)
}

func connect(ctx context.Context, name string, c *client.Client) (*MCPConnection, error) {
	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "funcgate",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing MCP server %s: %w", name, err)
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("listing tools from %s: %w", name, err)
	}

	return &MCPConnection{
		name:   name,
		client: c,
		tools:  result.Tools,
	}, nil
}

// FunctionDefinitions converts the server's tool schemas into function
// definitions. Parameters always carry an object type and a properties map.
func (mc *MCPConnection) FunctionDefinitions() ([]llm.FunctionDefinition, error) {
	defs := make([]llm.FunctionDefinition, 0, len(mc.tools))
	for _, t := range mc.tools {
		params, err := toolParameters(t)
		if err != nil {
			return nil, fmt.Errorf("tool %s on %s: %w", t.Name, mc.name, err)
		}
		defs = append(defs, llm.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs, nil
}

func toolParameters(t mcp.Tool) (json.RawMessage, error) {
	params := map[string]any{}
	if len(t.RawInputSchema) > 0 {
		if err := json.Unmarshal(t.RawInputSchema, &params); err != nil {
			return nil, fmt.Errorf("decoding input schema: %w", err)
		}
	} else {
		params["type"] = t.InputSchema.Type
		if t.InputSchema.Properties != nil {
			params["properties"] = t.InputSchema.Properties
		}
		if len(t.InputSchema.Required) > 0 {
			params["required"] = t.InputSchema.Required
		}
	}
	if params["type"] == nil || params["type"] == "" {
		params["type"] = "object"
	}
	if params["properties"] == nil {
		params["properties"] = map[string]any{}
	}
	return json.Marshal(params)
}

// CallTool invokes a tool on this MCP server and returns the text result.
func (mc *MCPConnection) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := mc.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("calling tool %s on %s: %w", name, mc.name, err)
	}

	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}

	text := strings.Join(parts, "\n")
	if result.IsError {
		return "error: " + text, nil
	}
	return text, nil
}

// ToolNames returns the names of all tools on this server.
func (mc *MCPConnection) ToolNames() []string {
	names := make([]string, len(mc.tools))
	for i, t := range mc.tools {
		names[i] = t.Name
	}
	return names
}

// Close shuts down the MCP server connection.
func (mc *MCPConnection) Close() {
	mc.client.Close()
}
