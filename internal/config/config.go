package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                    string
	DatabaseURL             string
	JWTSecret               string
	DefaultClientID         int64
	TicketNumberMaxAttempts int
	StockMaxAttempts        int
	StockRetryInterval      time.Duration
	StockBatchSize          int
	OutboxPollInterval      time.Duration
	OutboxBatchSize         int
	RabbitMQURL             string
	RabbitMQExchange        string
	Redis                   RedisConfig
	RateLimitPerMinute      int
	RateLimitBurst          int
	OTLPEndpoint            string
	OTLPInsecure            bool
}

// LoadEnvFile merges a dotenv file into the process environment. Variables
// already set win. A missing default file is not an error.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func Load() Config {
	return Config{
		Port:                    readString("PORT", "8080"),
		DatabaseURL:             os.Getenv("DB_DSN"),
		JWTSecret:               os.Getenv("JWT_SECRET"),
		DefaultClientID:         int64(readInt("DEFAULT_CLIENT_ID", 1)),
		TicketNumberMaxAttempts: readInt("TICKET_NUMBER_MAX_ATTEMPTS", 5),
		StockMaxAttempts:        readInt("STOCK_MAX_ATTEMPTS", 5),
		StockRetryInterval:      readDurationSeconds("STOCK_RETRY_INTERVAL_SECONDS", 30),
		StockBatchSize:          readInt("STOCK_BATCH_SIZE", 50),
		OutboxPollInterval:      readDurationSeconds("OUTBOX_POLL_INTERVAL_SECONDS", 1),
		OutboxBatchSize:         readInt("OUTBOX_BATCH_SIZE", 100),
		RabbitMQURL:             os.Getenv("RABBITMQ_URL"),
		RabbitMQExchange:        readString("RABBITMQ_EXCHANGE", "turnos.events"),
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       readInt("REDIS_DB", 0),
		},
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:       readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
