package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sunqi/platform-mcp/internal/registry"
	"github.com/sunqi/platform-mcp/internal/service"
)

// servicesURI lists all registered services; serviceURIPrefix addresses one.
const (
	servicesURI      = "platform://services"
	serviceURIPrefix = "platform://service/"
)

// RegisterResources adds the platform:// resources to the MCP server.
func RegisterResources(s *server.MCPServer, reg *registry.Registry) {
	s.AddResource(
		mcp.NewResource(servicesURI, "Platform Services",
			mcp.WithResourceDescription("List all registered platform services"),
			mcp.WithMIMEType("text/markdown"),
		),
		listServicesHandler(reg),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(serviceURIPrefix+"{service_name}", "Platform Service Detail",
			mcp.WithTemplateDescription("Detailed endpoint information for one registered service"),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		serviceInfoHandler(reg),
	)
}

// listServicesHandler renders a markdown summary of every registered service.
func listServicesHandler(reg *registry.Registry) server.ResourceHandlerFunc {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		var b strings.Builder
		for _, def := range reg.Services() {
			fmt.Fprintf(&b, "## %s\n", def.Name)
			fmt.Fprintf(&b, "**Category**: %s\n", def.Category)
			fmt.Fprintf(&b, "**Description**: %s\n", def.Description)
			fmt.Fprintf(&b, "**Endpoints**: %d\n\n", len(def.Endpoints))
		}

		text := b.String()
		if text == "" {
			text = "No services available"
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      servicesURI,
				MIMEType: "text/markdown",
				Text:     text,
			},
		}, nil
	}
}

// serviceInfoHandler renders the endpoint detail page for one service.
func serviceInfoHandler(reg *registry.Registry) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		uri := request.Params.URI
		name := strings.TrimPrefix(uri, serviceURIPrefix)

		def := reg.Get(name)
		if def == nil {
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     fmt.Sprintf("Service %q does not exist", name),
				},
			}, nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n", def.Name)
		fmt.Fprintf(&b, "**Category**: %s\n", def.Category)
		fmt.Fprintf(&b, "**Description**: %s\n\n", def.Description)
		b.WriteString("## Endpoints\n\n")

		for _, epName := range sortedEndpointNames(def) {
			ep := def.Endpoints[epName]
			fmt.Fprintf(&b, "### %s\n", epName)
			fmt.Fprintf(&b, "- **Path**: %s\n", ep.Path)
			fmt.Fprintf(&b, "- **Method**: %s\n", ep.Method)
			fmt.Fprintf(&b, "- **Description**: %s\n", ep.Description)
			fmt.Fprintf(&b, "- **Parameters**: %s\n\n", strings.Join(sortedParamNames(ep), ", "))
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      uri,
				MIMEType: "text/markdown",
				Text:     b.String(),
			},
		}, nil
	}
}

func sortedEndpointNames(def *service.ServiceDefinition) []string {
	names := make([]string, 0, len(def.Endpoints))
	for name := range def.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedParamNames(ep service.APIEndpoint) []string {
	names := make([]string, 0, len(ep.Parameters))
	for name := range ep.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
