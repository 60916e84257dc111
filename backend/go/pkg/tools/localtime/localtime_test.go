package localtime

import (
	"asterism/backend/go/pkg/jsonrpc"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)
}

func callTool(t *testing.T, name string, args map[string]interface{}) *jsonrpc.Response {
	t.Helper()
	s := NewServer(fixedClock)
	req, err := json.Marshal(jsonrpc.NewRequest(1, jsonrpc.MethodToolsCall, jsonrpc.CallToolParams(name, args)))
	require.NoError(t, err)

	out := s.HandleMessage(context.Background(), req)
	data, err := json.Marshal(out)
	require.NoError(t, err)
	resp, err := jsonrpc.Decode(data)
	require.NoError(t, err)
	return resp
}

func TestGetCurrentTime(t *testing.T) {
	res := jsonrpc.DecodeToolResult(callTool(t, "get_current_time", map[string]interface{}{"timezone": "Asia/Shanghai"}))
	require.True(t, res.Success, res.Error)

	body := res.Result.(map[string]interface{})
	require.Equal(t, "Asia/Shanghai", body["timezone"])
	require.Equal(t, "2024-01-15T20:00:00+08:00", body["datetime"])
	require.Equal(t, false, body["is_dst"])
}

func TestGetCurrentTime_InvalidTimezone(t *testing.T) {
	res := jsonrpc.DecodeToolResult(callTool(t, "get_current_time", map[string]interface{}{"timezone": "Mars/Olympus"}))
	require.False(t, res.Success)
	require.Contains(t, res.Error, "invalid timezone: Mars/Olympus")
}

func TestConvertTime(t *testing.T) {
	res := jsonrpc.DecodeToolResult(callTool(t, "convert_time", map[string]interface{}{
		"source_timezone": "UTC",
		"time":            "09:30",
		"target_timezone": "Asia/Tokyo",
	}))
	require.True(t, res.Success, res.Error)

	body := res.Result.(map[string]interface{})
	target := body["target"].(map[string]interface{})
	require.Equal(t, "2024-01-15T18:30:00+09:00", target["datetime"])
	require.Equal(t, "+9.0h", body["time_difference"])
}

func TestConvertTime_BadFormat(t *testing.T) {
	res := jsonrpc.DecodeToolResult(callTool(t, "convert_time", map[string]interface{}{
		"source_timezone": "UTC",
		"time":            "9.30pm",
		"target_timezone": "UTC",
	}))
	require.False(t, res.Success)
	require.Contains(t, res.Error, "HH:MM")
}

func TestFormatOffset(t *testing.T) {
	require.Equal(t, "+5.75h", formatOffset(5*time.Hour+45*time.Minute))
	require.Equal(t, "-8.0h", formatOffset(-8*time.Hour))
}
