package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfig marks configuration problems that must stop the process.
var ErrConfig = errors.New("invalid configuration")

// ConfigError names the setting that failed validation.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Auth       AuthConfig
	Features   FeatureFlags
	Detection  DetectionConfig
	Encryption EncryptionConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Notify     NotifyConfig
	Retention  RetentionConfig
}

type DatabaseConfig struct {
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

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestsPerMin int
	TrustedProxies []string
	AllowedOrigins []string
}

type AuthConfig struct {
	JWTSecret        string
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	SessionTimeout   time.Duration
	FailureDelay     time.Duration
	FailureJitter    time.Duration
	TOTPIssuer       string
}

// FeatureFlags toggle optional security behaviour at runtime.
type FeatureFlags struct {
	TwoFactorAuth  bool
	BiometricAuth  bool
	DataEncryption bool
	AuditLogging   bool
	RateLimiting   bool
	Monitoring     bool
}

// DetectionConfig holds the ThreatMonitor thresholds. Values can be
// overridden by a YAML rules file.
type DetectionConfig struct {
	RulesFile             string        `yaml:"-"`
	EventLogCapacity      int           `yaml:"event_log_capacity"`
	FailedLoginsThreshold int           `yaml:"failed_logins_threshold"`
	FailedLoginsWindow    time.Duration `yaml:"failed_logins_window"`
	DataAccessThreshold   int           `yaml:"data_access_threshold"`
	DataAccessWindow      time.Duration `yaml:"data_access_window"`
	APICallThreshold      int           `yaml:"api_call_threshold"`
	APICallWindow         time.Duration `yaml:"api_call_window"`
	MaxLocations          int           `yaml:"max_locations"`
	LocationWindow        time.Duration `yaml:"location_window"`
	RapidFireThreshold    int           `yaml:"rapid_fire_threshold"`
	RapidFireWindow       time.Duration `yaml:"rapid_fire_window"`
	InactivityThreshold   time.Duration `yaml:"inactivity_threshold"`
	ScanInterval          time.Duration `yaml:"scan_interval"`
	PurgeInterval         time.Duration `yaml:"purge_interval"`
	ThreatRetention       time.Duration `yaml:"threat_retention"`
}

type EncryptionConfig struct {
	Key      string
	SecretID string
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	AlertChannel string
}

type KafkaConfig struct {
	Brokers      []string
	EventsTopic  string
	BatchSize    int
	BatchTimeout time.Duration
}

type NotifyConfig struct {
	AWSRegion   string
	SenderEmail string
	AdminEmails []string
}

type RetentionConfig struct {
	// Collections maps a collection name to its retention in days.
	Collections map[string]int
	Interval    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, &ConfigError{Key: "JWT_SECRET", Reason: "is required"}
	}

	env := getEnv("ENV", "development")

	retention, err := parseRetention(getEnv("RECORD_RETENTION", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "careguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestsPerMin: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Auth: AuthConfig{
			JWTSecret:        jwtSecret,
			MaxLoginAttempts: getEnvAsInt("MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:  getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			SessionTimeout:   getEnvAsDuration("SESSION_TIMEOUT", 30*time.Minute),
			FailureDelay:     getEnvAsDuration("AUTH_FAILURE_DELAY", 200*time.Millisecond),
			FailureJitter:    getEnvAsDuration("AUTH_FAILURE_JITTER", 100*time.Millisecond),
			TOTPIssuer:       getEnv("TOTP_ISSUER", "CareGuard"),
		},
		Features: FeatureFlags{
			TwoFactorAuth:  getEnvAsBool("FEATURE_TWO_FACTOR_AUTH", true),
			BiometricAuth:  getEnvAsBool("FEATURE_BIOMETRIC_AUTH", false),
			DataEncryption: getEnvAsBool("FEATURE_DATA_ENCRYPTION", true),
			AuditLogging:   getEnvAsBool("FEATURE_AUDIT_LOGGING", true),
			RateLimiting:   getEnvAsBool("FEATURE_RATE_LIMITING", true),
			Monitoring:     getEnvAsBool("SECURITY_MONITORING_ENABLED", true),
		},
		Detection: DefaultDetection(),
		Encryption: EncryptionConfig{
			Key:      getEnv("ENCRYPTION_KEY", ""),
			SecretID: getEnv("ENCRYPTION_KEY_SECRET_ID", ""),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			AlertChannel: getEnv("REDIS_ALERT_CHANNEL", "careguard:security-alerts"),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvAsList("KAFKA_BROKERS"),
			EventsTopic:  getEnv("KAFKA_SECURITY_EVENTS_TOPIC", "security-events"),
			BatchSize:    getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			BatchTimeout: getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 1*time.Second),
		},
		Notify: NotifyConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			SenderEmail: getEnv("ALERT_SENDER_EMAIL", ""),
			AdminEmails: getEnvAsList("ADMIN_ALERT_EMAILS"),
		},
		Retention: RetentionConfig{
			Collections: retention,
			Interval:    getEnvAsDuration("RETENTION_CLEANUP_INTERVAL", 24*time.Hour),
		},
	}

	cfg.Detection.RulesFile = getEnv("DETECTION_RULES_FILE", "")
	if cfg.Detection.RulesFile != "" {
		if err := cfg.Detection.LoadRules(cfg.Detection.RulesFile); err != nil {
			return nil, err
		}
	}

	if cfg.Database.Password == "" {
		return nil, &ConfigError{Key: "DB_PASSWORD", Reason: "is required"}
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}

	if err := cfg.Detection.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production guarantees.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return &ConfigError{
			Key:    "JWT_SECRET",
			Reason: fmt.Sprintf("must be at least %d characters in %s environment (got %d)", minLength, env, len(secret)),
		}
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return &ConfigError{Key: "JWT_SECRET", Reason: "cannot be a common weak value"}
		}
	}

	return nil
}

func (a AuthConfig) validate() error {
	if a.MaxLoginAttempts < 1 {
		return &ConfigError{Key: "MAX_LOGIN_ATTEMPTS", Reason: "must be at least 1"}
	}
	if a.LockoutDuration <= 0 {
		return &ConfigError{Key: "LOCKOUT_DURATION", Reason: "must be positive"}
	}
	if a.SessionTimeout <= 0 {
		return &ConfigError{Key: "SESSION_TIMEOUT", Reason: "must be positive"}
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// parseRetention reads "collection=days" pairs separated by commas.
func parseRetention(raw string) (map[string]int, error) {
	out := make(map[string]int)
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		name, days, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			return nil, &ConfigError{Key: "RECORD_RETENTION", Reason: fmt.Sprintf("malformed entry %q", pair)}
		}
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 {
			return nil, &ConfigError{Key: "RECORD_RETENTION", Reason: fmt.Sprintf("invalid days for %s", name)}
		}
		out[name] = n
	}
	return out, nil
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

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
