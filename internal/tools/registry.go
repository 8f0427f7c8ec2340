package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/store"
)

// MCPCaller is implemented by the MCP bridge. Defined here so the registry
// does not depend on the transport package.
type MCPCaller interface {
	Tools(ctx context.Context, server *store.MCPServer) ([]llm.ToolDefinition, error)
	Call(ctx context.Context, server *store.MCPServer, toolName string, args map[string]any) (any, error)
}

// Registry assembles the tool set for one dispatch: tenant HTTP tools, MCP
// server tools, and built-ins.
type Registry struct {
	tools    store.ToolStore
	media    store.MediaStore
	executor *Executor
	mcp      MCPCaller
	audit    *Auditor
	logger   *slog.Logger
}

func NewRegistry(toolStore store.ToolStore, media store.MediaStore, executor *Executor, mcp MCPCaller, audit *Auditor, logger *slog.Logger) *Registry {
	return &Registry{
		tools:    toolStore,
		media:    media,
		executor: executor,
		mcp:      mcp,
		audit:    audit,
		logger:   logger,
	}
}

type handler func(ctx context.Context, args map[string]any) Result

// Set is the resolved tool set for one conversation turn.
type Set struct {
	definitions []llm.ToolDefinition
	handlers    map[string]handler
}

// Definitions lists the tools in registration order.
func (s *Set) Definitions() []llm.ToolDefinition { return s.definitions }

// Len reports how many tools are callable.
func (s *Set) Len() int { return len(s.handlers) }

// Execute dispatches one model tool call by function name. Unknown names
// return a structured failure.
func (s *Set) Execute(ctx context.Context, name, rawArgs string) Result {
	h, ok := s.handlers[name]
	if !ok {
		return failure("unknown tool", name)
	}
	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return failure("invalid tool arguments", err.Error())
		}
	}
	return h(ctx, args)
}

// ForCenturion resolves every tool the bot may call. Config load failures on
// one source degrade to the remaining sources.
func (reg *Registry) ForCenturion(ctx context.Context, companyID, centurionID uuid.UUID, includeMedia bool) *Set {
	set := &Set{handlers: make(map[string]handler)}

	configs, err := reg.tools.ListTools(ctx, companyID, centurionID)
	if err != nil {
		reg.logger.Error("tools.list_failed", "company_id", companyID, "error", err)
	}
	for _, cfg := range configs {
		tool := cfg
		name := SanitizeName(tool.ToolName)
		if _, dup := set.handlers[name]; dup {
			reg.logger.Warn("tools.duplicate_name", "tool", name)
			continue
		}
		set.definitions = append(set.definitions, llm.ToolDefinition{
			Name:        name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
		set.handlers[name] = reg.audit.wrap(companyID, centurionID, KindHTTP, name,
			func(ctx context.Context, args map[string]any) Result {
				return reg.executor.Execute(ctx, tool, args)
			})
	}

	reg.addMCPTools(ctx, set, companyID, centurionID)

	if includeMedia {
		def := mediaSearchDefinition()
		if _, dup := set.handlers[def.Name]; !dup {
			set.definitions = append(set.definitions, def)
			set.handlers[def.Name] = reg.audit.wrap(companyID, centurionID, KindBuiltin, def.Name,
				func(ctx context.Context, args map[string]any) Result {
					return executeMediaSearch(ctx, reg.media, companyID, centurionID, args)
				})
		}
	}

	return set
}

func (reg *Registry) addMCPTools(ctx context.Context, set *Set, companyID, centurionID uuid.UUID) {
	if reg.mcp == nil {
		return
	}
	servers, err := reg.tools.ListMCPServers(ctx, companyID, centurionID)
	if err != nil {
		reg.logger.Error("tools.mcp_list_failed", "company_id", companyID, "error", err)
		return
	}
	for _, srv := range servers {
		server := srv
		defs, err := reg.mcp.Tools(ctx, server)
		if err != nil {
			reg.logger.Warn("tools.mcp_sync_failed", "server", server.Name, "error", err)
			continue
		}
		for _, def := range defs {
			toolName := def.Name
			fnName := MCPFunctionName(server.Name, toolName)
			if _, dup := set.handlers[fnName]; dup {
				continue
			}
			def.Name = fnName
			set.definitions = append(set.definitions, def)
			set.handlers[fnName] = reg.audit.wrap(companyID, centurionID, KindMCP, fnName,
				func(ctx context.Context, args map[string]any) Result {
					out, err := reg.mcp.Call(ctx, server, toolName, args)
					if err != nil {
						return failure("mcp call failed", err.Error())
					}
					return Result{OK: true, StatusCode: 200, Body: out}
				})
		}
	}
}
