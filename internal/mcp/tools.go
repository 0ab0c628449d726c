// Package mcp binds registered service endpoints to MCP tools and resources.
package mcp

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"

	"github.com/sunqi/platform-mcp/internal/common"
	"github.com/sunqi/platform-mcp/internal/registry"
	"github.com/sunqi/platform-mcp/internal/service"
)

// ToolName derives the externally visible tool name for one endpoint.
func ToolName(serviceName, endpointName string) string {
	return serviceName + "_" + endpointName
}

// BuildEndpointTool converts an endpoint's declared parameter schema into an
// mcp.Tool. The schema is descriptive metadata; type coercion happens at
// invocation time against the stored endpoint definition.
func BuildEndpointTool(name string, ep service.APIEndpoint) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(ep.Description)}

	// Sorted for a stable schema across rebinds.
	paramNames := make([]string, 0, len(ep.Parameters))
	for pn := range ep.Parameters {
		paramNames = append(paramNames, pn)
	}
	sort.Strings(paramNames)

	for _, pn := range paramNames {
		opts = append(opts, buildParamOption(pn, ep.Parameters[pn]))
	}

	return mcp.NewTool(name, opts...)
}

// buildParamOption maps one parameter spec to the matching mcp-go option.
// Unknown types are passed as string; integer shares the number type.
func buildParamOption(name string, p service.ParamSpec) mcp.ToolOption {
	var opts []mcp.PropertyOption
	if p.Required {
		opts = append(opts, mcp.Required())
	}

	switch p.Type {
	case "number", "integer":
		if p.Default != nil {
			opts = append(opts, mcp.DefaultNumber(cast.ToFloat64(p.Default)))
		}
		return mcp.WithNumber(name, opts...)
	case "boolean":
		if p.Default != nil {
			opts = append(opts, mcp.DefaultBool(cast.ToBool(p.Default)))
		}
		return mcp.WithBoolean(name, opts...)
	case "array":
		opts = append([]mcp.PropertyOption{mcp.WithStringItems()}, opts...)
		return mcp.WithArray(name, opts...)
	case "object":
		return mcp.WithObject(name, opts...)
	default:
		if p.Default != nil {
			opts = append(opts, mcp.DefaultString(cast.ToString(p.Default)))
		}
		return mcp.WithString(name, opts...)
	}
}

// EndpointToolHandler creates the handler for one bound endpoint. It closes
// over the service and endpoint names only; the live definition and client
// are resolved from the registry on every call so a reload takes effect
// without rebinding in-flight handlers.
//
// The handler never returns an error: registry misses and call failures are
// converted to readable text results so the agent layer always receives a
// valid tool response. Tool invocations bypass the response cache.
func EndpointToolHandler(reg *registry.Registry, serviceName, endpointName string, logger *common.Logger) server.ToolHandlerFunc {
	toolName := ToolName(serviceName, endpointName)

	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log := logger.WithCorrelationId(uuid.New().String())

		def, cli, ok := reg.Lookup(serviceName)
		if !ok {
			return textResult(fmt.Sprintf("service %s is not available", serviceName)), nil
		}
		ep, ok := def.Endpoints[endpointName]
		if !ok {
			return textResult(fmt.Sprintf("service %s is not available", serviceName)), nil
		}

		args := r.GetArguments()
		params := make(map[string]any, len(ep.Parameters))
		for pn, spec := range ep.Parameters {
			if v, present := args[pn]; present && v != nil {
				params[pn] = v
				continue
			}
			if spec.Default != nil {
				params[pn] = spec.Default
			}
		}

		log.Debug().
			Str("tool", toolName).
			Str("service", serviceName).
			Str("endpoint", endpointName).
			Msg("tool invocation")

		payload, err := cli.Call(ctx, &ep, params, false)
		if err != nil {
			log.Warn().
				Str("tool", toolName).
				Str("error", err.Error()).
				Msg("tool call failed")
			return errorResult(fmt.Sprintf("call failed: %v", err)), nil
		}

		return textResult(prettyJSON(payload)), nil
	}
}

// RegisterServiceTools binds one tool per endpoint of def onto the MCP
// server and returns the sorted tool names it added.
func RegisterServiceTools(s *server.MCPServer, reg *registry.Registry, def *service.ServiceDefinition, logger *common.Logger) []string {
	names := make([]string, 0, len(def.Endpoints))
	for epName, ep := range def.Endpoints {
		name := ToolName(def.Name, epName)
		s.AddTool(BuildEndpointTool(name, ep), EndpointToolHandler(reg, def.Name, epName, logger))
		names = append(names, name)
	}
	sort.Strings(names)

	logger.Info().
		Str("service", def.Name).
		Int("tools", len(names)).
		Msg("bound service tools")

	return names
}
