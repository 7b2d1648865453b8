// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRemote   = "remote"
)

type Config struct {
	Port     string
	LogLevel logrus.Level

	StoreBackend  string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	BackofficeURL string

	KafkaBrokers  string
	NotifierGroup string
	ReplayDLQ     bool
	ReplayDelay   time.Duration
	RedisAddr     string

	CancelCodeTTL     time.Duration
	CancelMaxAttempts int
	CancelCodeDigits  int

	StrictSequence  bool
	AllowReturns    bool
	DiscountPercent decimal.Decimal
	TaxRate         decimal.Decimal

	AllowedOrigins []string
}

// Load reads the environment. Values that do not parse fall back to their
// defaults with a warning.
func Load(logger *logrus.Logger) Config {
	l := loader{logger: logger}
	cfg := Config{
		Port:     getEnv("FULFILLMENT_PORT", "8080"),
		LogLevel: l.level("LOG_LEVEL", logrus.InfoLevel),

		StoreBackend:  l.oneOf("STORE_BACKEND", BackendMemory, BackendMemory, BackendPostgres, BackendRemote),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "fulfillment"),
		DBPassword:    getEnv("DB_PASSWORD", "fulfillment"),
		DBName:        getEnv("DB_NAME", "fulfillment"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		BackofficeURL: strings.TrimRight(getEnv("BACKOFFICE_URL", "http://localhost:5000/api/admin"), "/"),

		KafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		NotifierGroup: getEnv("NOTIFIER_GROUP", "fulfillment-notifier"),
		ReplayDLQ:     l.boolean("NOTIFIER_REPLAY_DLQ", false),
		ReplayDelay:   l.duration("NOTIFIER_REPLAY_DELAY", 30*time.Second),
		RedisAddr:     os.Getenv("REDIS_ADDR"),

		CancelCodeTTL:     l.duration("CANCEL_CODE_TTL", 5*time.Minute),
		CancelMaxAttempts: l.intRange("CANCEL_MAX_ATTEMPTS", 5, 1, 20),
		CancelCodeDigits:  l.intRange("CANCEL_CODE_DIGITS", 6, 4, 10),

		StrictSequence:  l.boolean("STRICT_STATUS_SEQUENCE", false),
		AllowReturns:    l.boolean("ALLOW_RETURNS", true),
		DiscountPercent: l.percent("DEFAULT_DISCOUNT_PERCENT"),
		TaxRate:         l.percent("DEFAULT_TAX_RATE"),

		AllowedOrigins: splitList(os.Getenv("WS_ALLOWED_ORIGINS")),
	}
	return cfg
}

// PostgresDSN assembles a lib/pq connection string.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type loader struct {
	logger *logrus.Logger
}

func (l loader) invalid(key, value string, def interface{}) {
	l.logger.WithFields(logrus.Fields{
		"variable":      key,
		"invalid_value": value,
		"default_value": def,
	}).Warn("Invalid configuration value, using default")
}

func (l loader) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		l.invalid(key, raw, def)
		return def
	}
	return d
}

func (l loader) intRange(key string, def, min, max int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		l.invalid(key, raw, def)
		return def
	}
	return n
}

func (l loader) boolean(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		l.invalid(key, raw, def)
		return def
	}
	return b
}

func (l loader) oneOf(key, def string, allowed ...string) string {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return def
	}
	for _, a := range allowed {
		if raw == a {
			return raw
		}
	}
	l.invalid(key, raw, def)
	return def
}

func (l loader) level(key string, def logrus.Level) logrus.Level {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	lvl, err := logrus.ParseLevel(raw)
	if err != nil {
		l.invalid(key, raw, def.String())
		return def
	}
	return lvl
}

// percent reads a percentage in [0, 100]. Unset means zero.
func (l loader) percent(key string) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		l.invalid(key, raw, "0")
		return decimal.Zero
	}
	return d
}
