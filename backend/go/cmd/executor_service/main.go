package main

import (
	"asterism/backend/go/internal/config"
	"asterism/backend/go/internal/database/kafka"
	mongodb "asterism/backend/go/internal/database/mongo"
	redisdb "asterism/backend/go/internal/database/redis"
	"asterism/backend/go/internal/executor"
	"asterism/backend/go/internal/executor_service/consumer"
	"asterism/backend/go/internal/executor_service/publisher"
	"asterism/backend/go/internal/executor_service/service"
	"asterism/backend/go/internal/executor_service/store"
	"asterism/backend/go/internal/llm"
	"asterism/backend/go/internal/mcp"
	"asterism/backend/go/internal/models"
	"asterism/backend/go/pkg/logger"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// 2. 初始化 Logger
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	appLogger := logger.New("executor_service", "")
	appLogger.Info("Logger initialized for Executor Service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. 初始化 Kafka 客户端和日志发布器
	kafkaCfg := cfg.Databases.Kafka
	kafkaClient, err := kafka.NewClient(kafkaCfg, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create kafka client: %v", err))
	}
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			appLogger.Error(fmt.Sprintf("Failed to close kafka client cleanly: %v", err))
		}
	}()
	kafkaPublisher := kafka.NewPublisher(kafkaClient.Writer)
	logPublisher := kafka.NewLogPublisher(kafkaPublisher, kafkaCfg.Topics.Logs)
	appLogger.Info("Kafka log publisher initialized")

	// 4. 初始化结果存储
	var backends store.Backends
	switch cfg.Store.Backend {
	case "mongo":
		mongoClient, err := mongodb.NewClient(ctx, cfg.Databases.MongoDB)
		if err != nil {
			appLogger.Fatal(fmt.Sprintf("Failed to connect to MongoDB: %v", err))
		}
		defer mongoClient.Disconnect(context.Background())
		backends.Mongo = mongoClient.Database(cfg.Databases.MongoDB.Database)
	case "redis":
		redisClient, err := redisdb.NewClient(ctx, cfg.Databases.Redis)
		if err != nil {
			appLogger.Fatal(fmt.Sprintf("Failed to connect to Redis: %v", err))
		}
		defer redisClient.Close()
		backends.Redis = redisClient
	}
	resultStore, err := store.New(cfg.Store, backends)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create result store: %v", err))
	}
	appLogger.With("backend", cfg.Store.Backend).Info("Result store initialized")

	// 5. 加载服务目录并创建注册表
	registry, err := mcp.NewRegistryFromConfig(cfg, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create MCP registry: %v", err))
	}
	defer registry.Close()
	if err := registry.Start(ctx); err != nil {
		// 启动失败的服务会在首次调用时重试
		appLogger.WithError(models.NewErrorInfo(err)).Warn("部分 MCP 服务启动失败")
	}
	appLogger.With("servers", len(registry.Servers())).Info("MCP registry initialized")

	// 6. 初始化推理器（可选）
	runnerOpts := []executor.RunnerOption{
		executor.WithProgressSink(logPublisher),
		executor.WithPreviewLength(cfg.Executor.PreviewLength),
		executor.WithRunnerLogger(appLogger),
	}
	llmClient, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create LLM client: %v", err))
	}
	if llmClient != nil {
		runnerOpts = append(runnerOpts, executor.WithReasoner(llm.NewReasoner(llmClient, cfg.LLM.Temperature)))
		appLogger.With("provider", cfg.LLM.Provider).Info("LLM reasoner initialized")
	}
	if cfg.Executor.ResolveInputs {
		runnerOpts = append(runnerOpts, executor.WithInputResolver(executor.PlaceholderResolver{}))
	}

	// 7. 初始化调度器与协调器
	scheduler := executor.NewScheduler(
		executor.NewRunner(registry, runnerOpts...),
		executor.WithParallel(cfg.Executor.ParallelEnabled(), cfg.Executor.MaxParallel),
		executor.WithWaveTimeout(cfg.Executor.WaveDeadline()),
		executor.WithResultStore(resultStore),
		executor.WithSchedulerSink(logPublisher),
		executor.WithSchedulerLogger(appLogger),
	)
	resultPublisher := publisher.NewResultPublisher(kafkaPublisher, kafkaCfg.Topics.Results, appLogger)
	coordinator := service.NewCoordinator(scheduler, resultPublisher, resultStore, appLogger)

	// 8. 启动消费者
	requestConsumer := consumer.NewRequestConsumer(kafkaClient.NewReader(kafkaCfg.Topics.Requests), appLogger)
	requestConsumer.Start(ctx, coordinator.ProcessRequest)
	appLogger.With("topic", kafkaCfg.Topics.Requests).Info("Executor service started")

	<-requestConsumer.Done()
	if err := requestConsumer.Close(); err != nil {
		appLogger.Error(fmt.Sprintf("Failed to close request consumer: %v", err))
	}
	appLogger.Info("Executor service stopped")
}
