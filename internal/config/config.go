package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	InstanceID  int64
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBLogLevel        string
	DBSlowQueryMs     int

	Redis          RedisConfig
	Accounting     AccountingConfig
	BillStorage    BillStorageConfig
	RevenueMetrics RevenueMetricsConfig
	SDRRateLimit   SDRRateLimitConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// AccountingConfig points the CDR sink at a RabbitMQ broker. An empty URL
// selects the logging sink.
type AccountingConfig struct {
	AMQPURL    string
	Exchange   string
	RoutingKey string
}

type BillStorageConfig struct {
	Driver        string
	LocalDir      string
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

type RevenueMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

type SDRRateLimitConfig struct {
	Rate  float64
	Burst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "chargeflow"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		InstanceID:   getenvInt64("INSTANCE_ID", 1),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "chargeflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBLogLevel:        strings.ToLower(getenv("DATABASE_LOG_LEVEL", "warn")),
		DBSlowQueryMs:     getenvInt("DATABASE_SLOW_QUERY_MS", 0),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Accounting: AccountingConfig{
			AMQPURL:    strings.TrimSpace(getenv("ACCOUNTING_AMQP_URL", "")),
			Exchange:   getenv("ACCOUNTING_EXCHANGE", "accounting"),
			RoutingKey: getenv("ACCOUNTING_ROUTING_KEY", "cdr.created"),
		},
		BillStorage: BillStorageConfig{
			Driver:        strings.ToLower(getenv("BILL_STORAGE_DRIVER", "local")),
			LocalDir:      getenv("BILL_STORAGE_DIR", "media/bills"),
			Bucket:        strings.TrimSpace(getenv("BILL_STORAGE_BUCKET", "")),
			Region:        getenv("BILL_STORAGE_REGION", "us-east-1"),
			Endpoint:      strings.TrimSpace(getenv("BILL_STORAGE_ENDPOINT", "")),
			AccessKey:     strings.TrimSpace(getenv("BILL_STORAGE_ACCESS_KEY", "")),
			SecretKey:     strings.TrimSpace(getenv("BILL_STORAGE_SECRET_KEY", "")),
			PublicBaseURL: strings.TrimSpace(getenv("BILL_STORAGE_PUBLIC_URL", "")),
		},
		RevenueMetrics: RevenueMetricsConfig{
			Enabled:   getenvBool("REVENUE_METRICS_ENABLED", false),
			Exporter:  strings.ToLower(getenv("REVENUE_METRICS_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("REVENUE_METRICS_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("REVENUE_METRICS_AUTH_TOKEN", "")),
		},
		SDRRateLimit: SDRRateLimitConfig{
			Rate:  getenvFloat("SDR_RATE_LIMIT_RATE", 50),
			Burst: getenvInt("SDR_RATE_LIMIT_BURST", 100),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
