package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Admission AdmissionConfig
	Guard     GuardConfig
	Breach    BreachConfig
	Rotation  RotationConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	GlobalRateLimit int // coarse per-IP ceiling ahead of the admission layer
	SweepInterval   time.Duration
}

type DatabaseConfig struct {
	Enabled           bool
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string // empty disables decision stats
	Password string
	DB       int
	StatsTTL time.Duration
}

// ClassPolicy configures one endpoint class's admission gates.
type ClassPolicy struct {
	Window          time.Duration
	MaxRequests     int
	BurstCapacity   int
	RefillPerSecond float64
}

// AdmissionConfig holds the per-class policies.
type AdmissionConfig struct {
	Auth      ClassPolicy
	API       ClassPolicy
	Static    ClassPolicy
	Expensive ClassPolicy
}

type GuardConfig struct {
	MaxAttempts        int
	LockoutDuration    time.Duration
	Window             time.Duration
	BlacklistThreshold int
}

type BreachConfig struct {
	BruteForceCount  int
	BruteForceWindow time.Duration
	VolumeRecords    int
	APIAbuseCount    int
	APIAbuseWindow   time.Duration
	PaymentFailures  int
	PaymentWindow    time.Duration
}

type RotationConfig struct {
	AuditKey    string // 64 hex chars, 32 bytes
	TokenSecret string
	GracePeriod time.Duration
	TokenExpiry time.Duration
	StorePath   string
}

type NotifyConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	Recipients  []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	auditKey := getEnv("AUDIT_ENCRYPTION_KEY", "")
	if auditKey == "" {
		return nil, fmt.Errorf("AUDIT_ENCRYPTION_KEY is required")
	}
	if len(auditKey) != 64 {
		return nil, fmt.Errorf("AUDIT_ENCRYPTION_KEY must be 64 hex characters (256 bits), got %d", len(auditKey))
	}

	tokenSecret := getEnv("TOKEN_SECRET", "")
	if tokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")
	if err := validateSecret(tokenSecret, env); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			GlobalRateLimit: getEnvAsInt("GLOBAL_RATE_LIMIT_PER_MINUTE", 600),
			SweepInterval:   getEnvAsDuration("SWEEP_INTERVAL", 5*time.Minute),
		},
		Database: DatabaseConfig{
			Enabled:           getEnvAsBool("DB_ENABLED", false),
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "palisade"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			StatsTTL: getEnvAsDuration("REDIS_STATS_TTL", 24*time.Hour),
		},
		Admission: AdmissionConfig{
			Auth: ClassPolicy{
				Window:          getEnvAsDuration("AUTH_WINDOW", time.Minute),
				MaxRequests:     getEnvAsInt("AUTH_MAX_REQUESTS", 5),
				BurstCapacity:   getEnvAsInt("AUTH_BURST_CAPACITY", 3),
				RefillPerSecond: getEnvAsFloat("AUTH_REFILL_PER_SECOND", 0.1),
			},
			API: ClassPolicy{
				Window:          getEnvAsDuration("API_WINDOW", time.Minute),
				MaxRequests:     getEnvAsInt("API_MAX_REQUESTS", 100),
				BurstCapacity:   getEnvAsInt("API_BURST_CAPACITY", 20),
				RefillPerSecond: getEnvAsFloat("API_REFILL_PER_SECOND", 2),
			},
			Static: ClassPolicy{
				Window:          getEnvAsDuration("STATIC_WINDOW", time.Minute),
				MaxRequests:     getEnvAsInt("STATIC_MAX_REQUESTS", 300),
				BurstCapacity:   getEnvAsInt("STATIC_BURST_CAPACITY", 60),
				RefillPerSecond: getEnvAsFloat("STATIC_REFILL_PER_SECOND", 5),
			},
			Expensive: ClassPolicy{
				Window:          getEnvAsDuration("EXPENSIVE_WINDOW", time.Minute),
				MaxRequests:     getEnvAsInt("EXPENSIVE_MAX_REQUESTS", 10),
				BurstCapacity:   getEnvAsInt("EXPENSIVE_BURST_CAPACITY", 2),
				RefillPerSecond: getEnvAsFloat("EXPENSIVE_REFILL_PER_SECOND", 0.2),
			},
		},
		Guard: GuardConfig{
			MaxAttempts:        getEnvAsInt("GUARD_MAX_ATTEMPTS", 5),
			LockoutDuration:    getEnvAsDuration("GUARD_LOCKOUT_DURATION", 15*time.Minute),
			Window:             getEnvAsDuration("GUARD_WINDOW", time.Hour),
			BlacklistThreshold: getEnvAsInt("GUARD_BLACKLIST_THRESHOLD", 20),
		},
		Breach: BreachConfig{
			BruteForceCount:  getEnvAsInt("BREACH_BRUTE_FORCE_COUNT", 10),
			BruteForceWindow: getEnvAsDuration("BREACH_BRUTE_FORCE_WINDOW", 15*time.Minute),
			VolumeRecords:    getEnvAsInt("BREACH_VOLUME_RECORDS", 1000),
			APIAbuseCount:    getEnvAsInt("BREACH_API_ABUSE_COUNT", 1000),
			APIAbuseWindow:   getEnvAsDuration("BREACH_API_ABUSE_WINDOW", 60*time.Second),
			PaymentFailures:  getEnvAsInt("BREACH_PAYMENT_FAILURES", 5),
			PaymentWindow:    getEnvAsDuration("BREACH_PAYMENT_WINDOW", 10*time.Minute),
		},
		Rotation: RotationConfig{
			AuditKey:    auditKey,
			TokenSecret: tokenSecret,
			GracePeriod: getEnvAsDuration("ROTATION_GRACE_PERIOD", 30*24*time.Hour),
			TokenExpiry: getEnvAsDuration("TOKEN_EXPIRY", 15*time.Minute),
			StorePath:   getEnv("SECRETS_STORE_PATH", "secrets.json"),
		},
		Notify: NotifyConfig{
			Enabled:     getEnvAsBool("NOTIFY_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("NOTIFY_FROM_ADDRESS", ""),
			Recipients:  splitList(getEnv("NOTIFY_RECIPIENTS", "")),
		},
	}

	if cfg.Database.Enabled && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required when DB_ENABLED is set")
	}
	if cfg.Notify.Enabled && (cfg.Notify.FromAddress == "" || len(cfg.Notify.Recipients) == 0) {
		return nil, fmt.Errorf("NOTIFY_FROM_ADDRESS and NOTIFY_RECIPIENTS are required when NOTIFY_ENABLED is set")
	}

	return cfg, nil
}

// validateSecret enforces minimum strength for the token secret
func validateSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("TOKEN_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("TOKEN_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
