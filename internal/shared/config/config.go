package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	TLS        TLSConfig
	GoCardless GoCardlessConfig
	Plaid      PlaidConfig
	Redis      RedisConfig
	NATS       NATSConfig
	Firebase   FirebaseConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
	Cron       CronConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	AllowedHosts []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled               bool
	BalanceSyncTime       string
	TransactionImportTime string
	WorkerCount           int
	JobDelay              time.Duration
	QueueSize             int
	JobTimeout            time.Duration
	RunOnStartup          bool
	ImportWindowDays      int
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

type GoCardlessConfig struct {
	BaseURL      string
	SecretID     string
	SecretKey    string
	Timeout      time.Duration
	RedirectURL  string
	UserLanguage string
}

// PlaidConfig enables the Plaid provider when ClientID and Secret are set.
type PlaidConfig struct {
	BaseURL      string
	ClientID     string
	Secret       string
	Timeout      time.Duration
	ClientName   string
	CountryCodes []string
}

func (c PlaidConfig) Enabled() bool {
	return c.ClientID != "" && c.Secret != ""
}

// RedisConfig enables the shared aggregator token store when Addr is set.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type NATSConfig struct {
	URL     string
	Subject string
}

type FirebaseConfig struct {
	CredentialsFile string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	MetricsPort  string
}

type LogConfig struct {
	Level string
}

// CronConfig holds the bcrypt hash of the key accepted by the internal cron endpoints.
type CronConfig struct {
	KeyHash string
}

// Load reads configuration from, in increasing priority: an optional YAML file
// named by CONFIG_FILE, a .env file in the working directory, and the process environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables always win over it.
	_ = godotenv.Load()

	k := koanf.New(".")
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv(k, "DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	jwtTTL, err := time.ParseDuration(getEnv(k, "JWT_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}

	schedulerWorkers, err := strconv.Atoi(getEnv(k, "SCHEDULER_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv(k, "SCHEDULER_JOB_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv(k, "SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}
	schedulerJobTimeout, err := time.ParseDuration(getEnv(k, "SCHEDULER_JOB_TIMEOUT", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_TIMEOUT: %w", err)
	}
	importWindowDays, err := strconv.Atoi(getEnv(k, "IMPORT_WINDOW_DAYS", "7"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMPORT_WINDOW_DAYS: %w", err)
	}

	gcTimeout, err := time.ParseDuration(getEnv(k, "GOCARDLESS_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid GOCARDLESS_TIMEOUT: %w", err)
	}

	plaidTimeout, err := time.ParseDuration(getEnv(k, "PLAID_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PLAID_TIMEOUT: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv(k, "REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv(k, "PORT", "8080"),
			Host:         getEnv(k, "HOST", "0.0.0.0"),
			Environment:  getEnv(k, "APP_ENV", "development"),
			AllowedHosts: splitList(getEnv(k, "ALLOWED_HOSTS", "")),
		},
		Database: DatabaseConfig{
			Host:     getEnv(k, "DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv(k, "DB_USER", "famfin"),
			Password: getEnv(k, "DB_PASSWORD", ""),
			DBName:   getEnv(k, "DB_NAME", "famfin"),
			SSLMode:  getEnv(k, "DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv(k, "JWT_SECRET", ""),
			TTL:    jwtTTL,
		},
		Encryption: EncryptionConfig{
			Key: getEnv(k, "ENCRYPTION_KEY", ""),
		},
		Scheduler: SchedulerConfig{
			Enabled:               getBoolEnv(k, "SCHEDULER_ENABLED", true),
			BalanceSyncTime:       getEnv(k, "BALANCE_SYNC_TIME", "06:00"),
			TransactionImportTime: getEnv(k, "TRANSACTION_IMPORT_TIME", "07:00"),
			WorkerCount:           schedulerWorkers,
			JobDelay:              schedulerJobDelay,
			QueueSize:             schedulerQueueSize,
			JobTimeout:            schedulerJobTimeout,
			RunOnStartup:          getBoolEnv(k, "SCHEDULER_RUN_ON_STARTUP", false),
			ImportWindowDays:      importWindowDays,
		},
		TLS: TLSConfig{
			Enabled:      getBoolEnv(k, "TLS_ENABLED", false),
			CertPath:     getEnv(k, "TLS_CERT_PATH", ""),
			KeyPath:      getEnv(k, "TLS_KEY_PATH", ""),
			RedirectHTTP: getBoolEnv(k, "TLS_REDIRECT_HTTP", false),
		},
		GoCardless: GoCardlessConfig{
			BaseURL:      getEnv(k, "GOCARDLESS_BASE_URL", "https://bankaccountdata.gocardless.com/api/v2"),
			SecretID:     getEnv(k, "GOCARDLESS_SECRET_ID", ""),
			SecretKey:    getEnv(k, "GOCARDLESS_SECRET_KEY", ""),
			Timeout:      gcTimeout,
			RedirectURL:  getEnv(k, "GOCARDLESS_REDIRECT_URL", "http://localhost:3000/dashboard/financial"),
			UserLanguage: getEnv(k, "GOCARDLESS_USER_LANGUAGE", "EN"),
		},
		Plaid: PlaidConfig{
			BaseURL:      getEnv(k, "PLAID_BASE_URL", "https://sandbox.plaid.com"),
			ClientID:     getEnv(k, "PLAID_CLIENT_ID", ""),
			Secret:       getEnv(k, "PLAID_SECRET", ""),
			Timeout:      plaidTimeout,
			ClientName:   getEnv(k, "PLAID_CLIENT_NAME", "famfin"),
			CountryCodes: splitList(getEnv(k, "PLAID_COUNTRY_CODES", "US")),
		},
		Redis: RedisConfig{
			Addr:      getEnv(k, "REDIS_ADDR", ""),
			Password:  getEnv(k, "REDIS_PASSWORD", ""),
			DB:        redisDB,
			KeyPrefix: getEnv(k, "REDIS_KEY_PREFIX", "famfin:"),
		},
		NATS: NATSConfig{
			URL:     getEnv(k, "NATS_URL", ""),
			Subject: getEnv(k, "NATS_SUBJECT", "banksync.completed"),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv(k, "FIREBASE_CREDENTIALS_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv(k, "OTEL_ENABLED", false),
			ServiceName:  getEnv(k, "OTEL_SERVICE_NAME", "famfin-api"),
			OTLPEndpoint: getEnv(k, "OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv(k, "METRICS_PORT", "9464"),
		},
		Log: LogConfig{
			Level: getEnv(k, "LOG_LEVEL", "info"),
		},
		Cron: CronConfig{
			KeyHash: getEnv(k, "CRON_KEY_HASH", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Encryption.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(c.Encryption.Key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}

	if c.Scheduler.Enabled {
		if c.GoCardless.SecretID == "" || c.GoCardless.SecretKey == "" {
			return fmt.Errorf("GOCARDLESS_SECRET_ID and GOCARDLESS_SECRET_KEY are required when SCHEDULER_ENABLED=true")
		}
		if c.Scheduler.WorkerCount < 1 {
			return fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
		}
	}

	if (c.Plaid.ClientID == "") != (c.Plaid.Secret == "") {
		return fmt.Errorf("PLAID_CLIENT_ID and PLAID_SECRET must be set together")
	}

	if c.Scheduler.ImportWindowDays < 1 {
		return fmt.Errorf("IMPORT_WINDOW_DAYS must be at least 1")
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(k *koanf.Koanf, key, defaultValue string) string {
	if value := strings.TrimSpace(k.String(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(k *koanf.Koanf, key string, defaultValue bool) bool {
	value := k.String(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
