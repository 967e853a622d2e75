package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pkgstrings "icstore/pkg/platform/strings"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Merge    MergeConfig
	Log      LogConfig

	// VocabularyFile is a YAML term list. Empty disables term validation.
	VocabularyFile string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	JWTSigningKey  string
	RequestTimeout time.Duration
}

// DatabaseConfig selects the constellation store backend.
type DatabaseConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
}

// RedisConfig configures the vocabulary cache. An empty URL disables it.
type RedisConfig struct {
	URL           string
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	VocabularyTTL time.Duration
}

// KafkaConfig configures indexer notifications. No brokers disables them.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Linger            time.Duration
	DeliveryTimeout   time.Duration
	Partitions        int32
	ReplicationFactor int16
}

// MergeConfig tunes batch merging.
type MergeConfig struct {
	Concurrency int
	ReportDir   string
}

// LogConfig selects the log level and handler format (json or text).
type LogConfig struct {
	Level  string
	Format string
}

// FromEnv builds the configuration from ICSTORE_* environment variables so main stays lean.
func FromEnv() Config {
	jwtSigningKey := os.Getenv("ICSTORE_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Config{
		Server: Server{
			Addr:           envOr("ICSTORE_ADDR", ":8080"),
			JWTSigningKey:  jwtSigningKey,
			RequestTimeout: envDuration("ICSTORE_REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          envOr("ICSTORE_DB_DRIVER", "sqlite"),
			DSN:             envOr("ICSTORE_DB_DSN", "icstore.db"),
			MaxOpenConns:    envInt("ICSTORE_DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("ICSTORE_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("ICSTORE_DB_CONN_MAX_LIFETIME", 30*time.Minute),
			TxTimeout:       envDuration("ICSTORE_DB_TX_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:           os.Getenv("ICSTORE_REDIS_URL"),
			PoolSize:      envInt("ICSTORE_REDIS_POOL_SIZE", 10),
			MinIdleConns:  envInt("ICSTORE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   envDuration("ICSTORE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   envDuration("ICSTORE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  envDuration("ICSTORE_REDIS_WRITE_TIMEOUT", 3*time.Second),
			VocabularyTTL: envDuration("ICSTORE_VOCABULARY_TTL", time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:           pkgstrings.SplitList(os.Getenv("ICSTORE_KAFKA_BROKERS")),
			Topic:             envOr("ICSTORE_KAFKA_TOPIC", "icstore.versions"),
			ClientID:          envOr("ICSTORE_KAFKA_CLIENT_ID", "icstore"),
			Linger:            envDuration("ICSTORE_KAFKA_LINGER", 10*time.Millisecond),
			DeliveryTimeout:   envDuration("ICSTORE_KAFKA_DELIVERY_TIMEOUT", 30*time.Second),
			Partitions:        int32(envInt("ICSTORE_KAFKA_PARTITIONS", 6)),
			ReplicationFactor: int16(envInt("ICSTORE_KAFKA_REPLICATION_FACTOR", 1)),
		},
		Merge: MergeConfig{
			Concurrency: envInt("ICSTORE_MERGE_CONCURRENCY", 4),
			ReportDir:   envOr("ICSTORE_MERGE_REPORT_DIR", "."),
		},
		Log: LogConfig{
			Level:  envOr("ICSTORE_LOG_LEVEL", "info"),
			Format: envOr("ICSTORE_LOG_FORMAT", "json"),
		},
		VocabularyFile: os.Getenv("ICSTORE_VOCABULARY_FILE"),
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}
