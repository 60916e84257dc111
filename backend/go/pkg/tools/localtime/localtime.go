// Package localtime 提供一个查询与换算时区时间的 MCP 工具服务，
// 可以通过 stdio、sse 或 http_stream 任一传输对外提供。
package localtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName 是该工具服务对外声明的名称。
const ServerName = "localtime"

// Clock 返回当前时间，测试中可以替换。
type Clock func() time.Time

type timeResult struct {
	Timezone string `json:"timezone"`
	Datetime string `json:"datetime"`
	IsDST    bool   `json:"is_dst"`
}

type conversionResult struct {
	Source         timeResult `json:"source"`
	Target         timeResult `json:"target"`
	TimeDifference string     `json:"time_difference"`
}

// NewServer 创建注册了全部时间工具的 MCP 服务。
func NewServer(clock Clock) *server.MCPServer {
	if clock == nil {
		clock = time.Now
	}
	s := server.NewMCPServer(
		ServerName,
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("get_current_time",
		mcp.WithDescription("Get the current time in a specific timezone"),
		mcp.WithString("timezone",
			mcp.Required(),
			mcp.Description("IANA timezone name, e.g. 'Asia/Shanghai' or 'UTC'"),
		),
	), currentTimeHandler(clock))

	s.AddTool(mcp.NewTool("convert_time",
		mcp.WithDescription("Convert a wall-clock time between timezones"),
		mcp.WithString("source_timezone", mcp.Required(), mcp.Description("Source IANA timezone name")),
		mcp.WithString("time", mcp.Required(), mcp.Description("Time to convert in 24-hour format (HH:MM)")),
		mcp.WithString("target_timezone", mcp.Required(), mcp.Description("Target IANA timezone name")),
	), convertTimeHandler(clock))

	return s
}

func currentTimeHandler(clock Clock) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := request.RequireString("timezone")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid timezone: %s", name)), nil
		}
		return jsonResult(describe(clock().In(loc), name))
	}
}

func convertTimeHandler(clock Clock) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		srcName := request.GetString("source_timezone", "")
		dstName := request.GetString("target_timezone", "")
		hhmm := request.GetString("time", "")

		src, err := time.LoadLocation(srcName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid timezone: %s", srcName)), nil
		}
		dst, err := time.LoadLocation(dstName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid timezone: %s", dstName)), nil
		}
		parsed, err := time.Parse("15:04", hhmm)
		if err != nil {
			return mcp.NewToolResultError("invalid time format, expected HH:MM [24-hour format]"), nil
		}

		now := clock().In(src)
		at := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, src)
		converted := at.In(dst)

		_, srcOffset := at.Zone()
		_, dstOffset := converted.Zone()
		diff := time.Duration(dstOffset-srcOffset) * time.Second

		return jsonResult(conversionResult{
			Source:         describe(at, srcName),
			Target:         describe(converted, dstName),
			TimeDifference: formatOffset(diff),
		})
	}
}

func describe(t time.Time, zone string) timeResult {
	return timeResult{
		Timezone: zone,
		Datetime: t.Format(time.RFC3339),
		IsDST:    t.IsDST(),
	}
}

func formatOffset(d time.Duration) string {
	hours := d.Hours()
	if hours == float64(int(hours)) {
		return fmt.Sprintf("%+.1fh", hours)
	}
	return fmt.Sprintf("%+.2fh", hours)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
