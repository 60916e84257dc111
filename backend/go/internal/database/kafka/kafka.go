package kafka

import (
	"asterism/backend/go/internal/config"
	"asterism/backend/go/pkg/logger"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Client 持有共享的 writer 和管理连接。reader 按主题单独创建。
type Client struct {
	Writer *kafka.Writer
	Conn   *kafka.Conn // 用于管理的连接
	Config config.KafkaConfig
}

// NewClient 连接到 Kafka，并根据配置自动创建缺失的主题。
func NewClient(cfg config.KafkaConfig, log *logger.Logger) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("未配置 Kafka brokers")
	}
	topics := topicNames(cfg.Topics)
	if len(topics) == 0 {
		return nil, fmt.Errorf("未配置 Kafka topics")
	}

	// 1. 建立管理连接
	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka 初始化连接失败: %w", err)
	}

	// 2. 获取已存在的主题
	partitions, err := conn.ReadPartitions()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("无法读取 Kafka 分区信息: %w", err)
	}
	existing := make(map[string]struct{})
	for _, p := range partitions {
		existing[p.Topic] = struct{}{}
	}

	// 3. 创建不存在的主题
	var toCreate []kafka.TopicConfig
	for _, name := range topics {
		if _, ok := existing[name]; !ok {
			log.With("topic", name).Info("主题不存在，准备创建")
			toCreate = append(toCreate, kafka.TopicConfig{Topic: name, NumPartitions: 1, ReplicationFactor: 1})
		}
	}
	if len(toCreate) > 0 {
		if err := conn.CreateTopics(toCreate...); err != nil {
			conn.Close()
			return nil, fmt.Errorf("自动创建 Kafka 主题失败: %w", err)
		}
	}

	// 4. 共享 writer，每条消息自带主题
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	log.With("brokers", cfg.Brokers).Info("成功初始化 Kafka 客户端")
	return &Client{Writer: writer, Conn: conn, Config: cfg}, nil
}

// NewReader 为指定主题创建消费者组 reader。
func (c *Client) NewReader(topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.Config.Brokers,
		GroupID:     c.Config.GroupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxAttempts: 10,
		Dialer: &kafka.Dialer{
			Timeout: 10 * time.Second,
		},
	})
}

// Close 关闭 writer 和管理连接。
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Writer != nil {
		if err := c.Writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 Kafka writer 失败: %w", err))
		}
	}
	if c.Conn != nil {
		if err := c.Conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 Kafka 管理连接失败: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HealthCheck 检查 Kafka 连接的健康状况。
func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil || c.Conn == nil {
		return fmt.Errorf("kafka 客户端未初始化，无法进行健康检查")
	}
	_, err := c.Conn.Controller()
	return err
}

// ControllerAddress 返回 Kafka 控制器的地址。
func (c *Client) ControllerAddress() (string, error) {
	if c == nil || c.Conn == nil {
		return "", fmt.Errorf("kafka 客户端未初始化")
	}
	controller, err := c.Conn.Controller()
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)), nil
}

func topicNames(t config.KafkaTopics) []string {
	var out []string
	for _, name := range []string{t.Requests, t.Results, t.Logs} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
