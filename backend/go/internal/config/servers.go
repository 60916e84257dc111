package config

import (
	"asterism/backend/go/internal/models"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// serverCatalog 是服务目录文件的根结构，YAML 与 JSON 两种格式都可以解析。
type serverCatalog struct {
	Servers map[string]serverEntry `yaml:"mcp_servers"`
}

type serverEntry struct {
	Enabled    bool                 `yaml:"enabled"`
	Transport  models.TransportKind `yaml:"transport"`
	Connection connection           `yaml:"connection"`
	Env        envList              `yaml:"env"`
	Tools      []string             `yaml:"tools"`
}

// connection 可以写成列表 [命令或URL, 参数...]，
// 也可以写成对象 {command, args} 或 {url}。
type connection []string

func (c *connection) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		var list []string
		if err := n.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	}
	var obj struct {
		Command string   `yaml:"command"`
		URL     string   `yaml:"url"`
		Args    []string `yaml:"args"`
	}
	if err := n.Decode(&obj); err != nil {
		return err
	}
	head := obj.Command
	if head == "" {
		head = obj.URL
	}
	if head == "" {
		*c = nil
		return nil
	}
	*c = append([]string{head}, obj.Args...)
	return nil
}

// envList 可以写成 ["KEY=VALUE"] 列表或 {KEY: VALUE} 映射。
type envList []string

func (e *envList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		var list []string
		if err := n.Decode(&list); err != nil {
			return err
		}
		*e = list
		return nil
	}
	var m map[string]string
	if err := n.Decode(&m); err != nil {
		return err
	}
	list := make([]string, 0, len(m))
	for k, v := range m {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	*e = list
	return nil
}

// LoadServers 读取服务目录文件并返回按名称排序的服务描述。
func LoadServers(path string) ([]models.ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取服务目录 '%s': %w", path, err)
	}
	servers, err := ParseServers(data)
	if err != nil {
		return nil, fmt.Errorf("解析服务目录 '%s' 失败: %w", path, err)
	}
	return servers, nil
}

// ParseServers 解析服务目录内容。传输类型不受支持或缺少连接参数时返回 *models.ConfigError。
// 被禁用的服务只校验传输类型。
func ParseServers(data []byte) ([]models.ServerDescriptor, error) {
	var catalog serverCatalog
	if err := decodeWithEnv(data, &catalog); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(catalog.Servers))
	for name := range catalog.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]models.ServerDescriptor, 0, len(names))
	for _, name := range names {
		entry := catalog.Servers[name]
		if strings.TrimSpace(name) == "" || strings.Contains(name, ":") {
			return nil, &models.ConfigError{Server: name, Message: fmt.Sprintf("invalid server name %q", name)}
		}
		if entry.Transport == "" {
			entry.Transport = models.TransportStdio
		}
		if !entry.Transport.Valid() {
			return nil, &models.ConfigError{
				Server:  name,
				Message: fmt.Sprintf("server %s: unsupported transport type: %s", name, entry.Transport),
			}
		}
		if entry.Enabled && len(entry.Connection) == 0 {
			return nil, &models.ConfigError{Server: name, Message: fmt.Sprintf("server %s: connection is required", name)}
		}
		servers = append(servers, models.ServerDescriptor{
			Name:       name,
			Transport:  entry.Transport,
			Connection: []string(entry.Connection),
			Env:        []string(entry.Env),
			Enabled:    entry.Enabled,
			Tools:      entry.Tools,
		})
	}
	return servers, nil
}
