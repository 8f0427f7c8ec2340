// Package mcp bridges tenant-registered MCP servers into the tool set. Tool
// lists are cached in the server row and refreshed at most every 15 minutes.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/wolfganghq/centurion/internal/egress"
	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/store"
)

const (
	toolsCacheTTL  = 15 * time.Minute
	connectTimeout = 10 * time.Second
	callTimeout    = 30 * time.Second
)

// Connection statuses persisted on the server row.
const (
	StatusConnected = "connected"
	StatusError     = "error"
)

// Bridge connects to MCP servers over streamable HTTP or SSE.
type Bridge struct {
	store  store.ToolStore
	policy *egress.Policy
	logger *slog.Logger
}

func NewBridge(toolStore store.ToolStore, policy *egress.Policy, logger *slog.Logger) *Bridge {
	return &Bridge{store: toolStore, policy: policy, logger: logger}
}

type cachedTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Tools returns the server's tool definitions, syncing from the server when
// the cached list is stale or the last sync failed.
func (b *Bridge) Tools(ctx context.Context, server *store.MCPServer) ([]llm.ToolDefinition, error) {
	if server.ConnectionStatus == StatusConnected &&
		server.LastToolsSyncAt != nil &&
		time.Since(*server.LastToolsSyncAt) < toolsCacheTTL &&
		len(server.ToolsAvailable) > 0 {
		if defs, err := decodeCached(server.ToolsAvailable); err == nil {
			return defs, nil
		}
	}

	defs, err := b.sync(ctx, server)
	if err != nil && len(server.ToolsAvailable) > 0 {
		// A flaky server should not strip its tools from the set; serve the
		// stale list and let the next sync repair the row.
		if cached, cerr := decodeCached(server.ToolsAvailable); cerr == nil {
			b.logger.Warn("mcp.serving_stale_tools", "server", server.Name, "error", err)
			return cached, nil
		}
	}
	return defs, err
}

// sync connects, lists tools, and persists the outcome on the server row.
func (b *Bridge) sync(ctx context.Context, server *store.MCPServer) ([]llm.ToolDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := b.connect(ctx, server)
	if err != nil {
		b.recordSync(server, nil, StatusError, err.Error())
		return nil, err
	}
	defer client.Close()

	result, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		err = fmt.Errorf("list tools on %s: %w", server.Name, err)
		b.recordSync(server, nil, StatusError, err.Error())
		return nil, err
	}

	cached := make([]cachedTool, 0, len(result.Tools))
	defs := make([]llm.ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, merr := json.Marshal(t.InputSchema)
		if merr != nil {
			b.logger.Warn("mcp.tool_schema_unserializable", "server", server.Name, "tool", t.Name)
			schema = []byte(`{"type":"object"}`)
		}
		cached = append(cached, cachedTool{Name: t.Name, Description: t.Description, InputSchema: schema})
		defs = append(defs, llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: schema})
	}

	raw, err := json.Marshal(cached)
	if err != nil {
		raw = []byte("[]")
	}
	b.recordSync(server, raw, StatusConnected, "")
	return defs, nil
}

// Call invokes one tool and returns its text content, decoded as JSON when
// possible.
func (b *Bridge) Call(ctx context.Context, server *store.MCPServer, toolName string, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	client, err := b.connect(ctx, server)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args

	result, err := client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", toolName, server.Name, err)
	}

	text := extractText(result)
	if result.IsError {
		return nil, fmt.Errorf("tool %s on %s returned error: %s", toolName, server.Name, text)
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded, nil
	}
	return text, nil
}

// connect builds a client for the server's URL and completes the handshake.
// Streamable HTTP is tried first, SSE only when the URL says so.
func (b *Bridge) connect(ctx context.Context, server *store.MCPServer) (*mcpclient.Client, error) {
	if b.policy != nil {
		if err := b.policy.CheckURL(ctx, server.ServerURL); err != nil {
			return nil, fmt.Errorf("server %s: %w", server.Name, err)
		}
	}

	headers := authHeaders(server.AuthType, server.AuthConfig)

	var client *mcpclient.Client
	var err error
	if strings.HasSuffix(strings.TrimSuffix(server.ServerURL, "/"), "/sse") {
		var opts []transport.ClientOption
		if len(headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(headers))
		}
		client, err = mcpclient.NewSSEMCPClient(server.ServerURL, opts...)
	} else {
		var opts []transport.StreamableHTTPCOption
		if len(headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(headers))
		}
		client, err = mcpclient.NewStreamableHttpClient(server.ServerURL, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", server.Name, err)
	}

	if err := client.Start(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("start transport for %s: %w", server.Name, err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "centurion", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("initialize %s: %w", server.Name, err)
	}
	return client, nil
}

func (b *Bridge) recordSync(server *store.MCPServer, tools json.RawMessage, status, lastError string) {
	// Persist with a fresh context so a canceled dispatch still records the
	// outcome.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.UpdateMCPSync(ctx, server.ID, tools, status, lastError); err != nil {
		b.logger.Warn("mcp.sync_record_failed", "server", server.Name, "error", err)
	}
}

func decodeCached(raw json.RawMessage) ([]llm.ToolDefinition, error) {
	var cached []cachedTool
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, err
	}
	defs := make([]llm.ToolDefinition, 0, len(cached))
	for _, t := range cached {
		defs = append(defs, llm.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return defs, nil
}

func authHeaders(authType string, authConfig map[string]any) map[string]string {
	headers := map[string]string{}
	switch authType {
	case "bearer":
		if token, _ := authConfig["token"].(string); token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	case "api_key":
		key, _ := authConfig["key"].(string)
		name, _ := authConfig["header_name"].(string)
		if name == "" {
			name = "x-api-key"
		}
		if key != "" {
			headers[name] = key
		}
	}
	return headers
}

func extractText(result *mcpgo.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
