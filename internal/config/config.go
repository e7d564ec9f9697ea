package config

import (
	"os"
	"strconv"
	"time"

	"wisefido-vitals/common/config"
)

// Config 心率接入服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr string
	}

	// 批量累积配置
	Ingest struct {
		BatchThreshold int           // 触发刷新的缓冲区大小
		IdleTimeout    time.Duration // 最后一次提交后的空闲刷新时间
		FlushInterval  time.Duration // 周期性强制刷新间隔
	}

	// 任务队列配置
	Queue struct {
		Stream             string
		Group              string
		Consumer           string
		MaxAttempts        int           // 重试次数上限
		RetryBaseDelay     time.Duration // 首次重试延迟（之后逐次翻倍）
		VisibilityTimeout  time.Duration // 未确认消息被回收重投的空闲时间
		ReadBatchSize      int64         // 单次 XREADGROUP 读取条数
		CompletedLimit     int64         // 已完成任务保留条数
		CompletedRetention time.Duration // 已完成任务清理保留时长
	}

	// 极值缓存配置
	Cache struct {
		KeyPrefix string
		TTLSkew   time.Duration // 跨午夜迟到读数的额外容忍时间
	}

	// MQTT 设备接入（可选）
	MQTTIngest struct {
		Enabled bool
		Topic   string
	}

	// 任务失败通知（可选）
	Notify struct {
		WebhookURL string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "vitals")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8086")

	cfg.Ingest.BatchThreshold = getEnvInt("INGEST_BATCH_THRESHOLD", 200)
	cfg.Ingest.IdleTimeout = getEnvDuration("INGEST_IDLE_TIMEOUT", 500*time.Millisecond)
	cfg.Ingest.FlushInterval = getEnvDuration("INGEST_FLUSH_INTERVAL", 2*time.Second)

	cfg.Queue.Stream = getEnv("QUEUE_STREAM", "vitals:hr:batch:stream")
	cfg.Queue.Group = getEnv("QUEUE_GROUP", "hr-batch-processors")
	cfg.Queue.Consumer = getEnv("QUEUE_CONSUMER", "hr-batch-processor-1")
	cfg.Queue.MaxAttempts = getEnvInt("QUEUE_MAX_ATTEMPTS", 3)
	cfg.Queue.RetryBaseDelay = getEnvDuration("QUEUE_RETRY_BASE_DELAY", 2*time.Second)
	cfg.Queue.VisibilityTimeout = getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 60*time.Second)
	cfg.Queue.ReadBatchSize = int64(getEnvInt("QUEUE_READ_BATCH_SIZE", 10))
	cfg.Queue.CompletedLimit = int64(getEnvInt("QUEUE_COMPLETED_LIMIT", 1000))
	cfg.Queue.CompletedRetention = getEnvDuration("QUEUE_COMPLETED_RETENTION", 24*time.Hour)

	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "vitals:hr:extrema:")
	cfg.Cache.TTLSkew = getEnvDuration("CACHE_TTL_SKEW", time.Hour)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-vitals")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTTIngest.Enabled = getEnv("MQTT_INGEST_ENABLED", "false") == "true"
	cfg.MQTTIngest.Topic = getEnv("MQTT_INGEST_TOPIC", "vitals/+/heartrate")

	cfg.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
