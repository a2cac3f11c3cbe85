// Package config builds runtime configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "mpi/pkg/platform/strings"
)

// Config is the full server configuration.
type Config struct {
	Addr string

	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	// PostgresURL selects the durable store; empty means the in-memory store.
	PostgresURL string

	Redis RedisConfig

	// KafkaBrokers enables the feed publisher when non-empty.
	KafkaBrokers    []string
	KafkaTopic      string
	FeedInterval    time.Duration
	FeedBatchSize   int
	TopicPartitions int32

	// GovernedFields lists the field names whose edits require approval.
	GovernedFields []string
	// TrustedFacilities may edit governed fields without review.
	TrustedFacilities []string

	// HealthIDStart seeds the sequential allocator.
	HealthIDStart uint64
}

// RedisConfig captures the optional Redis checkpoint cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:          envOr("MPI_ADDR", ":8080"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     envOr("JWT_ISSUER", "mpi"),
		JWTAudience:   envOr("JWT_AUDIENCE", "mpi-api"),
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		KafkaBrokers:    envList("KAFKA_BROKERS"),
		KafkaTopic:      envOr("KAFKA_FEED_TOPIC", "mpi.patient-updates"),
		FeedInterval:    envDuration("FEED_PUBLISH_INTERVAL", time.Second),
		FeedBatchSize:   envInt("FEED_BATCH_SIZE", 500),
		TopicPartitions: int32(envInt("KAFKA_FEED_PARTITIONS", 3)),

		GovernedFields:    envList("GOVERNED_FIELDS"),
		TrustedFacilities: envList("TRUSTED_FACILITIES"),

		HealthIDStart: uint64(envInt("HEALTH_ID_START", 9800000001)),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	out := platformstrings.DedupeAndTrim(strings.Split(v, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
