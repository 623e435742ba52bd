package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	ServiceName string
	// StorageBackend is "scylla" or "memory". The memory backend is for
	// local development and single-process demos only.
	StorageBackend string
	Server         ServerConfig
	Scylla         ScyllaConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Clickhouse     ClickhouseConfig
	Elasticsearch  ElasticsearchConfig
	SMTP           SMTPConfig
	JWT            JWTConfig
	Hashing        HashingConfig
	Bucketing      BucketingConfig
	OTP            OTPConfig
	RateLimit      RateLimitConfig
	Logging        LoggingConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	CAPath   string
	CertPath string
	KeyPath  string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	URL          string
	Username     string
	Password     string
	AccountIndex string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
	Timeout  time.Duration
	// Disabled logs codes instead of sending them. Never honoured in production.
	Disabled bool
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Pepper mixed into OTP hashes. Must be identical across replicas.
	OTPPepper        string
	OTPPepperVersion int
	// OTPPepperPrevious keeps codes issued under version-1 verifiable while
	// a rotation rolls out. Drop it once the OTP TTL has passed.
	OTPPepperPrevious string
}

type BucketingConfig struct {
	UserBuckets  int
	EventBuckets int
}

type OTPConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	LockoutWindow  time.Duration
	ResendCooldown time.Duration
}

type RateLimitConfig struct {
	GlobalPerMinute int
	AuthPerMinute   int
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServiceName:    getEnv("SERVICE_NAME", "webgrave"),
		StorageBackend: getEnv("STORAGE_BACKEND", "scylla"),
		Server: ServerConfig{
			Port:           getInt("SERVER_PORT", 8080),
			TLSPort:        getInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      getBool("SERVER_ENABLE_TLS", false),
			AutoCert:       getBool("SERVER_AUTOCERT", false),
			Domain:         getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       getEnv("SERVER_CERT_FILE", ""),
			KeyFile:        getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    getEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:          getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Scylla: ScyllaConfig{
			Nodes:    getList("SCYLLA_NODES", []string{"127.0.0.1:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "webgrave"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			CAPath:   getEnv("SCYLLA_CA_PATH", ""),
			CertPath: getEnv("SCYLLA_CERT_PATH", ""),
			KeyPath:  getEnv("SCYLLA_KEY_PATH", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
			PoolSize: getInt("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Brokers:     getList("KAFKA_BROKERS", []string{"localhost:9092"}),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "webgrave.security-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "webgrave"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:          getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:     getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:     getEnv("ELASTICSEARCH_PASSWORD", ""),
			AccountIndex: getEnv("ELASTICSEARCH_ACCOUNT_INDEX", "webgrave-accounts"),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "WebGrave <no-reply@webgrave.local>"),
			TLS:      getBool("SMTP_TLS", true),
			Timeout:  getDuration("SMTP_TIMEOUT", 15*time.Second),
			Disabled: getBool("SMTP_DISABLED", false),
		},
		JWT: JWTConfig{
			Secret:   getEnv("JWT_SECRET", ""),
			Issuer:   getEnv("JWT_ISSUER", "webgrave"),
			TokenTTL: getDuration("JWT_TOKEN_TTL", 24*time.Hour),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getInt("ARGON2_MEMORY_KIB", 64*1024),
			Argon2TimeCost:    getInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getInt("ARGON2_PARALLELISM", 2),
			OTPPepper:         getEnv("OTP_PEPPER", ""),
			OTPPepperVersion:  getInt("OTP_PEPPER_VERSION", 1),
			OTPPepperPrevious: getEnv("OTP_PEPPER_PREVIOUS", ""),
		},
		Bucketing: BucketingConfig{
			UserBuckets:  getInt("BUCKETS_USERS", 64),
			EventBuckets: getInt("BUCKETS_EVENTS", 16),
		},
		OTP: OTPConfig{
			TTL:            getDuration("OTP_TTL", 10*time.Minute),
			MaxAttempts:    getInt("OTP_MAX_ATTEMPTS", 3),
			LockoutWindow:  getDuration("OTP_LOCKOUT_WINDOW", 15*time.Minute),
			ResendCooldown: getDuration("OTP_RESEND_COOLDOWN", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			GlobalPerMinute: getInt("RATE_LIMIT_GLOBAL_PER_MINUTE", 300),
			AuthPerMinute:   getInt("RATE_LIMIT_AUTH_PER_MINUTE", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}

	if !cfg.IsProduction() {
		if cfg.JWT.Secret == "" {
			cfg.JWT.Secret = "dev-only-jwt-secret"
		}
		if cfg.Hashing.OTPPepper == "" {
			cfg.Hashing.OTPPepper = "dev-only-otp-pepper"
		}
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return cfg
}

// Get returns the last loaded config, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if c.IsProduction() && len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}
	if c.Hashing.OTPPepper == "" {
		errs = append(errs, errors.New("OTP_PEPPER is required"))
	}
	if c.Hashing.OTPPepperVersion < 1 {
		errs = append(errs, errors.New("OTP_PEPPER_VERSION must be at least 1"))
	} else if c.Hashing.OTPPepperPrevious != "" && c.Hashing.OTPPepperVersion < 2 {
		errs = append(errs, errors.New("OTP_PEPPER_PREVIOUS requires OTP_PEPPER_VERSION of at least 2"))
	}
	if c.JWT.TokenTTL <= 0 {
		errs = append(errs, errors.New("JWT_TOKEN_TTL must be positive"))
	}
	if c.OTP.MaxAttempts <= 0 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be positive"))
	}
	if c.Bucketing.UserBuckets <= 0 || c.Bucketing.EventBuckets <= 0 {
		errs = append(errs, errors.New("bucket counts must be positive"))
	}
	if c.IsProduction() && c.SMTP.Disabled {
		errs = append(errs, errors.New("SMTP_DISABLED cannot be set in production"))
	}
	switch c.StorageBackend {
	case "scylla":
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("STORAGE_BACKEND=memory cannot be used in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	if c.StorageBackend == "scylla" && len(c.Scylla.Nodes) == 0 {
		errs = append(errs, errors.New("SCYLLA_NODES is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(key string, def int) int {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := getEnv(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := getEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
