// Package jsonrpc 实现了三种 MCP 传输共享的 JSON-RPC 2.0 核心：
// 请求ID序列、与 mcp-go 传输之间的信封转换以及工具结果的解码。
package jsonrpc

import (
	"asterism/backend/go/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// Version 是 JSON-RPC 协议版本。
const Version = mcp.JSONRPC_VERSION

// 所有传输使用相同的方法名。
var (
	MethodInitialize  = string(mcp.MethodInitialize)
	MethodToolsList   = string(mcp.MethodToolsList)
	MethodToolsCall   = string(mcp.MethodToolsCall)
	MethodInitialized = "notifications/initialized"
)

// Error 是 JSON-RPC 错误对象。
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Response 是对某个请求的回复。
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewRequest 构造 mcp-go 传输使用的请求信封；ID 由调用方的 IDSequence 分配，params 为 nil 时发送空对象。
func NewRequest(id int64, method string, params interface{}) transport.JSONRPCRequest {
	if params == nil {
		params = map[string]interface{}{}
	}
	return transport.JSONRPCRequest{
		JSONRPC: Version,
		ID:      mcp.NewRequestId(id),
		Method:  method,
		Params:  params,
	}
}

// NewNotification 构造不带参数的通知信封。
func NewNotification(method string) mcp.JSONRPCNotification {
	return mcp.JSONRPCNotification{
		JSONRPC:      Version,
		Notification: mcp.Notification{Method: method},
	}
}

// InitializeParams 返回 initialize 请求的参数。
func InitializeParams(clientName, clientVersion string) mcp.InitializeParams {
	return mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo: mcp.Implementation{
			Name:    clientName,
			Version: clientVersion,
		},
		Capabilities: mcp.ClientCapabilities{},
	}
}

// CallToolParams 返回 tools/call 请求的参数。
func CallToolParams(name string, args map[string]interface{}) mcp.CallToolParams {
	if args == nil {
		args = map[string]interface{}{}
	}
	return mcp.CallToolParams{Name: name, Arguments: args}
}

// Decode 解析一条回复消息。
func Decode(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FromTransport 把 mcp-go 传输返回的回复转换为本包的 Response。
func FromTransport(resp *transport.JSONRPCResponse) (*Response, error) {
	if resp == nil {
		return nil, &models.DecodeError{Err: errors.New("empty reply")}
	}
	id, err := json.Marshal(resp.ID)
	if err != nil {
		return nil, &models.DecodeError{Err: err}
	}
	out := &Response{JSONRPC: resp.JSONRPC, ID: id, Result: resp.Result}
	if resp.Error != nil {
		out.Error = &Error{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
	}
	return out, nil
}

// IDSequence 为单个会话分配请求ID：从 1 开始严格递增，永不复用。
type IDSequence struct {
	last atomic.Int64
}

// Next 返回下一个请求ID。
func (s *IDSequence) Next() int64 {
	return s.last.Add(1)
}

// Last 返回最近分配的ID，尚未分配时为 0。
func (s *IDSequence) Last() int64 {
	return s.last.Load()
}
