package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"

	EventsBackendLocal = "local"
	EventsBackendRedis = "redis"
)

type Config struct {
	Port        string
	StoreDriver string
	DatabaseURL string
	SQLiteDSN   string

	DirectoryFile string
	Timezone      string

	EventsBackend string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers []string
	AuditTopic   string

	ConflictMaxRetries int
	RateLimitPerMinute int
	RateLimitBurst     int
	TrustProxyHeaders  bool

	HubClientBuffer int
	WSPingInterval  time.Duration
	QRSize          int

	LogLevel  string
	LogFormat string

	OTelEndpoint string
	OTelInsecure bool
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:               port,
		StoreDriver:        readString("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:        os.Getenv("DB_DSN"),
		SQLiteDSN:          readString("SQLITE_DSN", "file:queue.db?cache=shared"),
		DirectoryFile:      os.Getenv("DIRECTORY_FILE"),
		Timezone:           readString("QUEUE_TIMEZONE", "UTC"),
		EventsBackend:      readString("EVENTS_BACKEND", EventsBackendLocal),
		RedisAddr:          readString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            readInt("REDIS_DB", 0),
		KafkaBrokers:       readList("KAFKA_BROKERS"),
		AuditTopic:         readString("AUDIT_TOPIC", "queue.audit"),
		ConflictMaxRetries: readInt("CONFLICT_MAX_RETRIES", 5),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		TrustProxyHeaders:  readBool("TRUST_PROXY_HEADERS", false),
		HubClientBuffer:    readInt("HUB_CLIENT_BUFFER", 16),
		WSPingInterval:     readDurationSeconds("WS_PING_SECONDS", 30),
		QRSize:             readInt("QR_SIZE", 256),
		LogLevel:           readString("LOG_LEVEL", "info"),
		LogFormat:          readString("LOG_FORMAT", "console"),
		OTelEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelInsecure:       readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
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
