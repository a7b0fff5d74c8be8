package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// GoLivePeriod is the first billable period ("YYYY-MM"). No debt is
	// ever computed for months before it, regardless of enrollment date.
	GoLivePeriod string
	// GraceDueDay is the day of month before which the current period is
	// reported as open instead of due.
	GraceDueDay int
	// Currency applied to every payment and ledger line.
	Currency string
	// CarryForward lets allocation surplus pre-pay the next period instead
	// of being rejected as overpayment.
	CarryForward bool

	// ReceiptSecret signs receipt QR payloads (HMAC-SHA256).
	ReceiptSecret string
	ReceiptDir    string
	ReceiptURL    string

	RulesCacheTTL     time.Duration
	RecomputeWorkers  int
	OutboxBatchSize   int
	OutboxMaxAttempts int

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
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "previsora"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		GoLivePeriod: getenv("BILLING_GO_LIVE", "2023-01"),
		GraceDueDay:  getenvInt("BILLING_GRACE_DUE_DAY", 10),
		Currency:     strings.ToUpper(getenv("BILLING_CURRENCY", "ARS")),
		CarryForward: getenvBool("BILLING_CARRY_FORWARD", true),

		ReceiptSecret: strings.TrimSpace(getenv("RECEIPT_SECRET", "")),
		ReceiptDir:    getenv("RECEIPT_DIR", "receipts"),
		ReceiptURL:    getenv("RECEIPT_URL", "/receipts"),

		RulesCacheTTL:     getenvDuration("PRICING_RULES_CACHE_TTL", time.Minute),
		RecomputeWorkers:  getenvInt("RECOMPUTE_WORKERS", 8),
		OutboxBatchSize:   getenvInt("OUTBOX_BATCH_SIZE", 50),
		OutboxMaxAttempts: getenvInt("OUTBOX_MAX_ATTEMPTS", 8),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "previsora"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
