package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/heraldhq/herald/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration

	// Logging
	LogFile string

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Dispatch bus
	BusTopics        map[domain.Channel]string
	BusDLQTopics     map[domain.Channel]string
	BusPartitions    int
	BusBufferSize    int
	BusMaxDeliveries int

	// Workers
	WorkersPerChannel int
	SiteRateLimit     int

	// Retry policy
	MaxAttempts      map[domain.Channel]int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	RateLimitBackoff time.Duration
	RateLimitCap     time.Duration

	// Adapters
	AdapterEndpoints map[domain.Channel]string
	AdapterTimeouts  map[domain.Channel]time.Duration

	// Background loops
	SchedulerTick time.Duration
	RetryTick     time.Duration
	StalePending  time.Duration

	// Tenant credential resolution
	RedisAddr          string
	CredentialCacheTTL time.Duration
	TenantDefaults     map[domain.Channel]TenantDefault

	// Admin auth
	AdminAPIKey   string
	SessionSecret string
}

// TenantDefault is the platform-wide fallback credential set for one channel.
type TenantDefault struct {
	APIKey      string
	From        string
	SessionName string
}

func Load() (*Config, error) {
	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:    getDuration("WORKER_DRAIN_TIMEOUT", 30*time.Second),

		LogFile: os.Getenv("LOG_FILE"),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		BusTopics:        map[domain.Channel]string{},
		BusDLQTopics:     map[domain.Channel]string{},
		BusPartitions:    getInt("BUS_PARTITIONS", 8),
		BusBufferSize:    getInt("BUS_BUFFER_SIZE", 1024),
		BusMaxDeliveries: getInt("BUS_MAX_DELIVERIES", 5),

		WorkersPerChannel: getInt("WORKERS_PER_CHANNEL", 4),
		SiteRateLimit:     getInt("SITE_RATE_LIMIT", 50),

		MaxAttempts:      map[domain.Channel]int{},
		BackoffBase:      getDuration("RETRY_BACKOFF_BASE_MS", 3*time.Second),
		BackoffCap:       getDuration("RETRY_BACKOFF_CAP_MS", 5*time.Minute),
		RateLimitBackoff: getDuration("RETRY_RATELIMIT_BASE_MS", 2*time.Second),
		RateLimitCap:     getDuration("RETRY_RATELIMIT_CAP_MS", 15*time.Minute),

		AdapterEndpoints: map[domain.Channel]string{},
		AdapterTimeouts:  map[domain.Channel]time.Duration{},

		SchedulerTick: getDuration("SCHEDULER_TICK_INTERVAL_MS", time.Second),
		RetryTick:     getDuration("RETRY_TICK_INTERVAL_MS", time.Second),
		StalePending:  getDuration("STALE_PENDING_AFTER", 2*time.Minute),

		RedisAddr:          os.Getenv("REDIS_ADDR"),
		CredentialCacheTTL: getDuration("CREDENTIAL_CACHE_TTL", 60*time.Second),
		TenantDefaults:     map[domain.Channel]TenantDefault{},

		AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),
		SessionSecret: getEnv("SESSION_SECRET", "herald-dev-session-secret"),
	}

	for _, ch := range domain.Channels {
		key := strings.ToUpper(string(ch))
		lower := strings.ToLower(string(ch))

		cfg.BusTopics[ch] = getEnv("BUS_TOPIC_"+key, "notif."+lower)
		cfg.BusDLQTopics[ch] = getEnv("BUS_DLQ_"+key, "notif."+lower+".dlq")
		cfg.MaxAttempts[ch] = getInt("RETRY_MAX_ATTEMPTS_"+key, 5)
		cfg.AdapterEndpoints[ch] = getEnv("ADAPTER_"+key+"_URL", "http://localhost:9090/"+lower)
		cfg.AdapterTimeouts[ch] = getDuration("ADAPTER_"+key+"_TIMEOUT_MS", 10*time.Second)

		cfg.TenantDefaults[ch] = TenantDefault{
			APIKey:      os.Getenv("TENANT_DEFAULT_" + key + "_API_KEY"),
			From:        os.Getenv("TENANT_DEFAULT_" + key + "_FROM"),
			SessionName: os.Getenv("TENANT_DEFAULT_" + key + "_SESSION"),
		}
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// getDuration accepts either a Go duration string ("250ms", "1m") or, for the
// *_MS keys, a bare integer interpreted as milliseconds.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return defaultVal
}
