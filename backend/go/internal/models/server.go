package models

// TransportKind 是 MCP 服务使用的传输方式。
type TransportKind string

const (
	TransportStdio      TransportKind = "stdio"
	TransportSSE        TransportKind = "sse"
	TransportHTTPStream TransportKind = "http_stream"
)

// Valid 判断传输类型是否受支持（区分大小写）。
func (k TransportKind) Valid() bool {
	switch k {
	case TransportStdio, TransportSSE, TransportHTTPStream:
		return true
	default:
		return false
	}
}

// ServerDescriptor 描述一个 MCP 服务，加载后只读。
type ServerDescriptor struct {
	Name       string        `json:"name" yaml:"name"`
	Transport  TransportKind `json:"transport" yaml:"transport"`
	Connection []string      `json:"connection" yaml:"connection"` // 命令或 URL，后跟参数
	Env        []string      `json:"env,omitempty" yaml:"env,omitempty"`
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Tools      []string      `json:"tools" yaml:"tools"`
}

// HasTool 判断工具是否在声明列表中。
func (d ServerDescriptor) HasTool(name string) bool {
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Command 返回连接参数中的命令（或 URL）。
func (d ServerDescriptor) Command() string {
	if len(d.Connection) == 0 {
		return ""
	}
	return d.Connection[0]
}

// Args 返回命令之后的参数。
func (d ServerDescriptor) Args() []string {
	if len(d.Connection) <= 1 {
		return nil
	}
	return d.Connection[1:]
}
