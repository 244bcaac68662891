package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// applyEnvOverrides lets the environment win over file and defaults.
// Broker and AWS variable names match the ones the primary API deployment already exports.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("SECRET_KEY", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	}

	// Logging env overrides
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}

	b := &c.Broker
	if v := getEnv("BROKER_DRIVER", ""); v != "" {
		b.Driver = v
	}
	if v := getEnv("RABBITMQ_USER", ""); v != "" {
		b.RabbitUser = v
	}
	if v := getEnv("RABBITMQ_PASS", ""); v != "" {
		b.RabbitPass = v
	}
	if v := getEnv("RABBITMQ_HOST", ""); v != "" {
		b.RabbitHost = v
	}
	if v := getEnv("RABBITMQ_PORT", ""); v != "" {
		b.RabbitPort = mustParseInt(v)
	}
	if v := getEnv("RABBITMQ_VHOST", ""); v != "" {
		b.RabbitVHost = v
	}
	if v := getEnv("RABBIT_QUEUE_NAME", ""); v != "" {
		b.RabbitQueueName = v
	}
	if v := getEnv("RABBIT_DEAD_LETTER_EXCHANGE", ""); v != "" {
		b.RabbitDeadLetterExchange = v
	}
	if v := getEnv("RABBIT_QUEUE_DURABLE", ""); v != "" {
		b.RabbitDurable = v != "false"
	}
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		b.KafkaBrokers = readListEnv("KAFKA_BROKERS", b.KafkaBrokers)
	}
	if v := getEnv("KAFKA_TOPIC", ""); v != "" {
		b.KafkaTopic = v
	}
	if v := getEnv("KAFKA_GROUP_ID", ""); v != "" {
		b.KafkaGroupID = v
	}

	if v := getEnv("CONSUMER_HANDLER_TIMEOUT_SEC", ""); v != "" {
		c.Consumer.HandlerTimeout = time.Duration(mustParseInt(v)) * time.Second
	}
	if v := getEnv("CONSUMER_RETRY_BACKOFF_MS", ""); v != "" {
		c.Consumer.RetryBackoff = time.Duration(mustParseInt(v)) * time.Millisecond
	}

	s := &c.Store
	if v := getEnv("STORE_DRIVER", ""); v != "" {
		s.Driver = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		s.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		s.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		s.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		s.RedisPassword = v
	}
	if v := getEnv("AWS_DEFAULT_REGION", ""); v != "" {
		s.AWSRegion = v
	}
	if v := getEnv("AWS_ACCESS_KEY_ID", ""); v != "" {
		s.AWSAccessKeyID = v
	}
	if v := getEnv("AWS_SECRET_ACCESS_KEY", ""); v != "" {
		s.AWSSecretAccessKey = v
	}
	if v := getEnv("AWS_URL", ""); v != "" {
		s.AWSURL = v
	}
	if v := getEnv("AWS_DYNAMODB_TABLE_NAME", ""); v != "" {
		s.DynamoTable = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		s.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		s.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		s.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		s.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		s.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		s.DBName = v
	}
	if v := getEnv("MONGO_URI", ""); v != "" {
		s.MongoURI = v
	}
	if v := getEnv("MONGO_DATABASE", ""); v != "" {
		s.MongoDatabase = v
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
