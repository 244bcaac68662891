package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via config file or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	Broker   BrokerConfig
	Consumer ConsumerConfig
	Store    StoreConfig
}

// BrokerConfig selects and configures the message transport.
type BrokerConfig struct {
	// Driver is "rabbitmq" or "kafka".
	Driver string

	RabbitUser               string
	RabbitPass               string
	RabbitHost               string
	RabbitPort               int
	RabbitVHost              string
	RabbitQueueName          string
	RabbitDeadLetterExchange string
	// RabbitDurable declares the queue durable. Defaults to true; only a
	// legacy transient queue needs false, on publisher and consumer alike.
	RabbitDurable bool

	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	KafkaKindHeader string
}

// RabbitURL builds the AMQP connection url.
func (b BrokerConfig) RabbitURL() string {
	vhost := strings.TrimPrefix(b.RabbitVHost, "/")
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", b.RabbitUser, b.RabbitPass, b.RabbitHost, b.RabbitPort, vhost)
}

// ConsumerConfig tunes the event consumer loop.
type ConsumerConfig struct {
	HandlerTimeout time.Duration
	RetryBackoff   time.Duration
}

// StoreConfig selects and configures the statistics store backend.
type StoreConfig struct {
	// Driver is one of "redis", "dynamodb", "mysql", "mongodb", "memory".
	Driver string

	RedisHost      string
	RedisPort      int
	RedisDB        int
	RedisPassword  string
	RedisKeyPrefix string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSURL             string
	DynamoTable        string

	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

var cfg AppConfig
var loaded bool

// ErrMissingSecret is returned when no JWT signing secret is configured.
var ErrMissingSecret = errors.New("JWT_SECRET (or SECRET_KEY) must be set")

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}
	c, err := LoadFile(filepath.Join("config", "config.json"))
	if err != nil {
		log.Fatal(err)
	}
	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// LoadFile builds a configuration with precedence: JSON file -> defaults -> environment overrides.
// A missing file is not an error; invalid JSON is.
func LoadFile(path string) (AppConfig, error) {
	c := AppConfig{Broker: BrokerConfig{RabbitDurable: true}}
	if err := loadJSONConfig(path, &c); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	applyDefaults(&c)
	applyEnvOverrides(&c)
	if c.JWTSecret == "" {
		return c, ErrMissingSecret
	}
	return c, nil
}

func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
		out.AllowedOrigins = getStringSlice(app, "AllowedOrigins")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		out.LogLevel = getString(lg, "Level")
		out.LogPath = getString(lg, "Path")
		out.GinMode = getString(lg, "GinMode")
		out.GinPath = getString(lg, "GinPath")
		out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
		out.LogMaxBackups = getInt(lg, "MaxBackups")
		out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
		out.LogCompress = getBool(lg, "Compress")
	}

	if br, ok := raw["broker"].(map[string]any); ok {
		b := &out.Broker
		b.Driver = getString(br, "Driver")
		b.RabbitUser = getString(br, "RabbitUser")
		b.RabbitPass = getString(br, "RabbitPass")
		b.RabbitHost = getString(br, "RabbitHost")
		b.RabbitPort = getInt(br, "RabbitPort")
		b.RabbitVHost = getString(br, "RabbitVHost")
		b.RabbitQueueName = getString(br, "RabbitQueueName")
		b.RabbitDeadLetterExchange = getString(br, "RabbitDeadLetterExchange")
		if v, ok := br["RabbitDurable"].(bool); ok {
			b.RabbitDurable = v
		}
		b.KafkaBrokers = getStringSlice(br, "KafkaBrokers")
		b.KafkaTopic = getString(br, "KafkaTopic")
		b.KafkaGroupID = getString(br, "KafkaGroupID")
		b.KafkaKindHeader = getString(br, "KafkaKindHeader")
	}

	if cs, ok := raw["consumer"].(map[string]any); ok {
		out.Consumer.HandlerTimeout = time.Duration(getInt(cs, "HandlerTimeoutSec")) * time.Second
		out.Consumer.RetryBackoff = time.Duration(getInt(cs, "RetryBackoffMs")) * time.Millisecond
	}

	if st, ok := raw["store"].(map[string]any); ok {
		s := &out.Store
		s.Driver = getString(st, "Driver")
		s.RedisHost = getString(st, "RedisHost")
		s.RedisPort = getInt(st, "RedisPort")
		s.RedisDB = getInt(st, "RedisDB")
		s.RedisPassword = getString(st, "RedisPassword")
		s.RedisKeyPrefix = getString(st, "RedisKeyPrefix")
		s.AWSRegion = getString(st, "AWSRegion")
		s.AWSAccessKeyID = getString(st, "AWSAccessKeyID")
		s.AWSSecretAccessKey = getString(st, "AWSSecretAccessKey")
		s.AWSURL = getString(st, "AWSURL")
		s.DynamoTable = getString(st, "DynamoTable")
		s.DatabaseURI = getString(st, "DatabaseURI")
		s.DBHost = getString(st, "DBHost")
		s.DBPort = getString(st, "DBPort")
		s.DBUser = getString(st, "DBUser")
		s.DBPassword = getString(st, "DBPassword")
		s.DBName = getString(st, "DBName")
		s.MongoURI = getString(st, "MongoURI")
		s.MongoDatabase = getString(st, "MongoDatabase")
		s.MongoCollection = getString(st, "MongoCollection")
	}

	return nil
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case float64:
			return int(t)
		case int:
			return t
		case string:
			i, _ := strconv.Atoi(t)
			return i
		}
	}
	return 0
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func getStringSlice(m map[string]any, key string) []string {
	if v, ok := m[key]; ok {
		if arr, ok := v.([]any); ok {
			res := make([]string, 0, len(arr))
			for _, it := range arr {
				if s, ok := it.(string); ok {
					res = append(res, s)
				}
			}
			return res
		}
	}
	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8001"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}

	b := &c.Broker
	if b.Driver == "" {
		b.Driver = "rabbitmq"
	}
	if b.RabbitHost == "" {
		b.RabbitHost = "127.0.0.1"
	}
	if b.RabbitPort == 0 {
		b.RabbitPort = 5672
	}
	if b.RabbitUser == "" {
		b.RabbitUser = "guest"
	}
	if b.RabbitPass == "" {
		b.RabbitPass = "guest"
	}
	if b.RabbitQueueName == "" {
		b.RabbitQueueName = "page_statistics"
	}
	if len(b.KafkaBrokers) == 0 {
		b.KafkaBrokers = []string{"127.0.0.1:9092"}
	}
	if b.KafkaTopic == "" {
		b.KafkaTopic = "page_statistics"
	}
	if b.KafkaGroupID == "" {
		b.KafkaGroupID = "pagestats"
	}
	if b.KafkaKindHeader == "" {
		b.KafkaKindHeader = "content_type"
	}

	if c.Consumer.HandlerTimeout == 0 {
		c.Consumer.HandlerTimeout = 10 * time.Second
	}
	if c.Consumer.RetryBackoff == 0 {
		c.Consumer.RetryBackoff = time.Second
	}

	s := &c.Store
	if s.Driver == "" {
		s.Driver = "redis"
	}
	if s.RedisHost == "" {
		s.RedisHost = "127.0.0.1"
	}
	if s.RedisPort == 0 {
		s.RedisPort = 6379
	}
	if s.RedisKeyPrefix == "" {
		s.RedisKeyPrefix = "pagestats:"
	}
	if s.AWSRegion == "" {
		s.AWSRegion = "us-east-1"
	}
	if s.DynamoTable == "" {
		s.DynamoTable = "page_statistics"
	}
	if s.DBHost == "" {
		s.DBHost = "127.0.0.1"
	}
	if s.DBPort == "" {
		s.DBPort = "3306"
	}
	if s.DBUser == "" {
		s.DBUser = "root"
	}
	if s.DBName == "" {
		s.DBName = "innotter_stats"
	}
	if s.MongoURI == "" {
		s.MongoURI = "mongodb://127.0.0.1:27017"
	}
	if s.MongoDatabase == "" {
		s.MongoDatabase = "innotter"
	}
	if s.MongoCollection == "" {
		s.MongoCollection = "page_statistics"
	}
}
