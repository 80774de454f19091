package geolocation

import (
	"context"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/domain"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/schema"
)

// ToolName is the registered name of the lookup tool.
const ToolName = "query-ip"

// QueryIPArguments are the arguments accepted by the query-ip tool.
type QueryIPArguments struct {
	IP string `json:"ip,omitempty" jsonschema:"description=要查询的 IP 地址，如果不提供则查询当前客户端 IP"`
}

// NewQueryIPTool returns the query-ip tool definition backed by lookup.
func NewQueryIPTool(lookup domain.GeoLookup) domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        ToolName,
		Description: "查询 IP 地址归属地信息",
		InputSchema: schema.Reflect[QueryIPArguments](),
		Handler: func(ctx context.Context, args domain.Arguments) ([]domain.ContentBlock, error) {
			return []domain.ContentBlock{domain.TextContent(lookup.Lookup(ctx, args.String("ip")))}, nil
		},
	}
}
