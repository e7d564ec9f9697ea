package service

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-vitals/common/database"
	commonmqtt "wisefido-vitals/common/mqtt"
	commonredis "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/accumulator"
	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/consumer"
	httpapi "wisefido-vitals/internal/http"
	ingestmqtt "wisefido-vitals/internal/mqtt"
	"wisefido-vitals/internal/notify"
	"wisefido-vitals/internal/processor"
	"wisefido-vitals/internal/queue"
	"wisefido-vitals/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// VitalsService 心率接入服务：累积器 + 任务队列 + 批处理器 + HTTP/MQTT 接入
type VitalsService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client

	accumulator    *accumulator.Accumulator
	batchQueue     *queue.RedisQueue
	batchConsumer  *consumer.BatchConsumer
	mqttClient     *commonmqtt.Client
	mqttSubscriber *ingestmqtt.IngestSubscriber
	httpServer     *Server
}

// NewVitalsService 创建服务（显式依赖注入，连接失败直接报错）
func NewVitalsService(cfg *config.Config, logger *zap.Logger) (*VitalsService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化 Redis（极值缓存 + 任务队列）
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// Repository
	readingRepo := repository.NewPostgresReadingRepository(db, logger)
	dailyRepo := repository.NewPostgresHeartRateDailyRepository(db, logger)

	// 极值缓存
	extremaStore := cache.NewRedisStore(redisClient, cfg.Cache.KeyPrefix, cfg.Cache.TTLSkew, logger)

	// 任务队列
	batchQueue := queue.NewRedisQueue(redisClient, queue.Options{
		Stream:             cfg.Queue.Stream,
		Group:              cfg.Queue.Group,
		Consumer:           cfg.Queue.Consumer,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		RetryBaseDelay:     cfg.Queue.RetryBaseDelay,
		VisibilityTimeout:  cfg.Queue.VisibilityTimeout,
		ReadBatchSize:      cfg.Queue.ReadBatchSize,
		CompletedLimit:     cfg.Queue.CompletedLimit,
		CompletedRetention: cfg.Queue.CompletedRetention,
	}, logger)

	// 批量累积器
	acc, err := accumulator.New(
		batchQueue,
		cfg.Ingest.BatchThreshold,
		cfg.Ingest.IdleTimeout,
		cfg.Ingest.FlushInterval,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}

	// 批处理器 + 消费者
	batchProcessor := processor.NewBatchProcessor(readingRepo, dailyRepo, extremaStore, logger)
	var notifier consumer.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, logger)
	}
	batchConsumer := consumer.NewBatchConsumer(
		batchQueue,
		batchProcessor,
		notifier,
		cfg.Queue.MaxAttempts,
		cfg.Queue.VisibilityTimeout,
		logger,
	)

	// HTTP 路由
	vitalsHandler := httpapi.NewVitalsHandler(acc, dailyRepo, logger)
	adminHandler := httpapi.NewAdminHandler(batchQueue, acc, cfg.Queue.CompletedRetention, logger)
	router := httpapi.NewRouter(logger)
	router.RegisterVitalsRoutes(vitalsHandler)
	router.RegisterAdminRoutes(adminHandler)
	httpServer := NewServer(cfg.HTTP.Addr, router, logger)

	svc := &VitalsService{
		config:        cfg,
		logger:        logger,
		db:            db,
		redisClient:   redisClient,
		accumulator:   acc,
		batchQueue:    batchQueue,
		batchConsumer: batchConsumer,
		httpServer:    httpServer,
	}

	// MQTT 设备接入（可选）
	if cfg.MQTTIngest.Enabled {
		mqttClient, err := commonmqtt.NewClient(&cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		svc.mqttClient = mqttClient
		svc.mqttSubscriber = ingestmqtt.NewIngestSubscriber(
			mqttClient, acc, cfg.MQTTIngest.Topic, cfg.MQTT.QoS, logger,
		)
	}

	return svc, nil
}

// Start 启动服务组件（HTTP 服务阻塞在调用方）
func (s *VitalsService) Start(ctx context.Context) error {
	s.logger.Info("Starting vitals ingestion components",
		zap.Int("batch_threshold", s.config.Ingest.BatchThreshold),
		zap.String("queue_stream", s.config.Queue.Stream),
	)

	s.accumulator.Start()

	go func() {
		if err := s.batchConsumer.Start(ctx); err != nil {
			s.logger.Error("Batch consumer stopped with error", zap.Error(err))
		}
	}()

	if s.mqttSubscriber != nil {
		if err := s.mqttSubscriber.Start(); err != nil {
			return err
		}
	}

	return s.httpServer.Start()
}

// Stop 优雅停机：先停接入面，再刷出缓冲区，最后关闭连接
func (s *VitalsService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wisefido-vitals service")

	if s.mqttSubscriber != nil {
		if err := s.mqttSubscriber.Stop(); err != nil {
			s.logger.Error("Error stopping MQTT subscriber", zap.Error(err))
		}
		s.mqttClient.Disconnect()
	}

	if err := s.httpServer.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}

	// 停止累积器会把剩余读数同步刷入队列
	s.accumulator.Stop()

	if s.redisClient != nil {
		if err := commonredis.Close(s.redisClient); err != nil {
			s.logger.Error("Error closing redis connection", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Service stopped")
	return nil
}
