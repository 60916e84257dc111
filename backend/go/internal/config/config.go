package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认值
const (
	DefaultMCPTimeout  = 30 * time.Second
	DefaultWaveTimeout = 120 * time.Second
	DefaultServersFile = "mcp_servers.json"
	DefaultPreviewLen  = 500
)

// envPrefix 开头的字符串值会在加载时替换为同名环境变量的值。
const envPrefix = "env."

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MongoConfig 定义了 MongoDB 数据库的连接配置。
type MongoConfig struct {
	Address  string `yaml:"address"`  // MongoDB 服务器地址
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// KafkaTopics 定义了执行服务使用的主题。
type KafkaTopics struct {
	Requests string `yaml:"requests"` // 执行请求
	Results  string `yaml:"results"`  // 执行结果
	Logs     string `yaml:"logs"`     // 任务进度日志
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"` // Kafka Broker 地址列表
	GroupID string      `yaml:"groupID"` // 消费者组
	Topics  KafkaTopics `yaml:"topics"`  // 主题
}

// DatabaseConfigs 包含所有数据库的配置。
type DatabaseConfigs struct {
	Redis   RedisConfig `yaml:"redis"`   // Redis 数据库配置
	MongoDB MongoConfig `yaml:"mongodb"` // MongoDB 数据库配置
	Kafka   KafkaConfig `yaml:"kafka"`   // Kafka 消息队列配置
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// MCPConfig 定义了工具服务目录与传输的配置。
type MCPConfig struct {
	ServersFile   string `yaml:"serversFile"`   // 服务目录文件，相对路径以配置文件所在目录为基准
	Timeout       string `yaml:"timeout"`       // 握手与单次调用超时，例如 "30s"
	ClientName    string `yaml:"clientName"`    // initialize 时上报的客户端名称
	ClientVersion string `yaml:"clientVersion"` // initialize 时上报的客户端版本
}

// CallTimeout 返回解析后的调用超时。
func (c MCPConfig) CallTimeout() time.Duration {
	return parseDuration(c.Timeout, DefaultMCPTimeout)
}

// ExecutorConfig 定义了调度器的配置。
type ExecutorConfig struct {
	Mode          string `yaml:"mode"`          // "parallel"（默认）或 "sequential"
	MaxParallel   int    `yaml:"maxParallel"`   // 单个波次的最大并发，0 表示不限制
	WaveTimeout   string `yaml:"waveTimeout"`   // 单个波次的超时，例如 "120s"
	ResolveInputs bool   `yaml:"resolveInputs"` // 是否用前序结果替换输入中的占位符
	PreviewLength int    `yaml:"previewLength"` // 推理提示中每条结果的最大字符数
}

// ParallelEnabled 返回是否允许并行波次执行。
func (c ExecutorConfig) ParallelEnabled() bool {
	return c.Mode != "sequential"
}

// WaveDeadline 返回解析后的波次超时。
func (c ExecutorConfig) WaveDeadline() time.Duration {
	return parseDuration(c.WaveTimeout, DefaultWaveTimeout)
}

// LLMConfig 包含了不同LLM提供商的配置。
type LLMConfig struct {
	Provider    string       `yaml:"provider"`    // LLM提供商 ("openai", "ollama", "gemini")，为空时不启用推理
	Temperature float32      `yaml:"temperature"` // 采样温度
	OpenAI      OpenAIConfig `yaml:"openai"`      // OpenAI 兼容接口配置
	Ollama      OllamaConfig `yaml:"ollama"`      // Ollama 配置
	Gemini      GeminiConfig `yaml:"gemini"`      // Gemini 模型配置
}

// OpenAIConfig 包含了 OpenAI 兼容接口的配置。
type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

// OllamaConfig 包含了 Ollama 的配置。
type OllamaConfig struct {
	Host  string `yaml:"host"` // 为空时读取 OLLAMA_HOST
	Model string `yaml:"model"`
}

// GeminiConfig 包含了 Gemini 模型的配置。
type GeminiConfig struct {
	APIKey string `yaml:"apiKey"` // Gemini API 密钥
	Model  string `yaml:"model"`  // Gemini 模型名称
}

// StoreConfig 定义了任务结果的存储后端。
type StoreConfig struct {
	Backend    string `yaml:"backend"`    // "memory"（默认）、"mongo" 或 "redis"
	Collection string `yaml:"collection"` // Mongo 集合名
	KeyPrefix  string `yaml:"keyPrefix"`  // Redis 键前缀
	TTL        string `yaml:"ttl"`        // Redis 键过期时间，为空表示不过期
}

// ResultTTL 返回解析后的结果过期时间。
func (c StoreConfig) ResultTTL() time.Duration {
	return parseDuration(c.TTL, 0)
}

// MiddlewareConfig 包含所有中间件的配置，作用于每个工具服务。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// RateLimiterConfig 定义了限流器的配置。
type RateLimiterConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Algorithm   string            `yaml:"algorithm"` // 支持: "tokenBucket"（默认）, "fixedWindow"
	FixedWindow FixedWindowConfig `yaml:"fixedWindow"`
	TokenBucket TokenBucketConfig `yaml:"tokenBucket"`
}

// FixedWindowConfig 定义了固定窗口计数器算法的配置。
type FixedWindowConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"` // 例如: "1m", "30s"
}

// WindowDuration 返回解析后的窗口长度。
func (c FixedWindowConfig) WindowDuration() time.Duration {
	return parseDuration(c.Window, time.Minute)
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// OpenTimeout 返回熔断打开后的等待时间。
func (c CircuitBreakerConfig) OpenTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`        // 应用程序信息
	Logger     LoggerConfig     `yaml:"logger"`     // 日志记录器配置
	MCP        MCPConfig        `yaml:"mcp"`        // 工具服务配置
	Executor   ExecutorConfig   `yaml:"executor"`   // 调度器配置
	LLM        LLMConfig        `yaml:"llm"`        // LLM 配置部分
	Store      StoreConfig      `yaml:"store"`      // 结果存储配置
	Databases  DatabaseConfigs  `yaml:"databases"`  // 数据库配置
	Middleware MiddlewareConfig `yaml:"middleware"` // 中间件配置

	// baseDir 是配置文件所在目录，用于解析相对路径。
	baseDir string
}

// ServersPath 返回服务目录文件的路径。
func (c *AppConfig) ServersPath() string {
	path := c.MCP.ServersFile
	if path == "" {
		path = DefaultServersFile
	}
	if filepath.IsAbs(path) || c.baseDir == "" {
		return path
	}
	return filepath.Join(c.baseDir, path)
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 以 "env." 开头的字符串值会被替换为对应的环境变量，未设置时为空值。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	cfg, err := ParseConfig(yamlFile)
	if err != nil {
		return nil, fmt.Errorf("解析 YAML 文件 '%s' 失败: %w", path, err)
	}
	cfg.baseDir = filepath.Dir(path)
	return cfg, nil
}

// ParseConfig 从内存中的 YAML 内容解析配置并填充默认值。
func ParseConfig(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := decodeWithEnv(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "asterism"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.MCP.ClientName == "" {
		c.MCP.ClientName = c.App.Name
	}
	if c.MCP.ClientVersion == "" {
		c.MCP.ClientVersion = "1.0.0"
	}
	if c.Executor.PreviewLength <= 0 {
		c.Executor.PreviewLength = DefaultPreviewLen
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.Collection == "" {
		c.Store.Collection = "task_results"
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "asterism:results:"
	}
	if c.Databases.Kafka.GroupID == "" {
		c.Databases.Kafka.GroupID = "executor_service"
	}
	t := &c.Databases.Kafka.Topics
	if t.Requests == "" {
		t.Requests = "execution_requests"
	}
	if t.Results == "" {
		t.Results = "execution_results"
	}
	if t.Logs == "" {
		t.Logs = "agent_logs"
	}
}

func (c *AppConfig) validate() error {
	durations := map[string]string{
		"mcp.timeout":                               c.MCP.Timeout,
		"executor.waveTimeout":                      c.Executor.WaveTimeout,
		"store.ttl":                                 c.Store.TTL,
		"middleware.circuitBreaker.timeout":         c.Middleware.CircuitBreaker.Timeout,
		"middleware.rateLimiter.fixedWindow.window": c.Middleware.RateLimiter.FixedWindow.Window,
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: 无效的时间间隔 %q", field, value)
		}
	}
	switch c.Executor.Mode {
	case "", "parallel", "sequential":
	default:
		return fmt.Errorf("executor.mode: 不支持的模式 %q", c.Executor.Mode)
	}
	if c.Executor.MaxParallel < 0 {
		return fmt.Errorf("executor.maxParallel 不能为负数")
	}
	switch c.Store.Backend {
	case "memory", "mongo", "redis":
	default:
		return fmt.Errorf("store.backend: 不支持的存储后端 %q", c.Store.Backend)
	}
	return nil
}

// decodeWithEnv 先把内容解析为节点树，替换 env. 引用后再解码到 out。
func decodeWithEnv(data []byte, out interface{}) error {
	if json.Valid(data) {
		// JSON 中允许出现 YAML 不接受的制表符缩进，先转换为 YAML
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		converted, err := yaml.Marshal(generic)
		if err != nil {
			return err
		}
		data = converted
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if root.Kind == 0 {
		return nil
	}
	resolveEnv(&root)
	return root.Decode(out)
}

func resolveEnv(n *yaml.Node) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			resolveEnv(c)
		}
	case yaml.MappingNode:
		// 只处理值，键保持不变
		for i := 1; i < len(n.Content); i += 2 {
			resolveEnv(n.Content[i])
		}
	case yaml.ScalarNode:
		if n.ShortTag() != "!!str" || !strings.HasPrefix(n.Value, envPrefix) {
			return
		}
		value, ok := os.LookupEnv(strings.TrimPrefix(n.Value, envPrefix))
		if !ok {
			n.Tag = "!!null"
			n.Value = ""
			return
		}
		n.Value = value
	}
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
