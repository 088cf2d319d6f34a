package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Backend      BackendConfig
	Push         PushConfig
	Storage      StorageConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Storage.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Backend.validate(); err != nil {
		return nil, err
	}
	if cfg.Storage.Driver == StorageDriverSQL {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if cfg.Storage.Driver == StorageDriverRedis && cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("%s or %s is required for the redis storage driver", EnvRedisURL, EnvRedisAddr)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TABLESIDE_APP_ENV" required:"true"`
	Port         string `envconfig:"TABLESIDE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TABLESIDE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TABLESIDE_LOG_WARN_STACK" default:"false"`

	CORSOrigins     []string      `envconfig:"TABLESIDE_CORS_ORIGINS"`
	EventHeartbeat  time.Duration `envconfig:"TABLESIDE_EVENT_HEARTBEAT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"TABLESIDE_SHUTDOWN_TIMEOUT" default:"10s"`
	MaxTableNumber  int           `envconfig:"TABLESIDE_MAX_TABLE_NUMBER" default:"500"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// BackendConfig points at the restaurant REST API.
type BackendConfig struct {
	BaseURL                 string        `envconfig:"TABLESIDE_BACKEND_BASE_URL" default:"http://localhost:8000/api"`
	Timeout                 time.Duration `envconfig:"TABLESIDE_BACKEND_TIMEOUT" default:"30s"`
	BearerToken             string        `envconfig:"TABLESIDE_BACKEND_BEARER_TOKEN"`
	BreakerMaxFailures      uint32        `envconfig:"TABLESIDE_BACKEND_BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout      time.Duration `envconfig:"TABLESIDE_BACKEND_BREAKER_OPEN_TIMEOUT" default:"30s"`
	BreakerHalfOpenRequests uint32        `envconfig:"TABLESIDE_BACKEND_BREAKER_HALF_OPEN_REQUESTS" default:"1"`
}

func (b BackendConfig) validate() error {
	parsed, err := url.Parse(b.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvBackendBaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url", EnvBackendBaseURL)
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvBackendTimeout)
	}
	return nil
}

// PushConfig drives the order status push channel and its polling fallback.
type PushConfig struct {
	URL          string        `envconfig:"TABLESIDE_PUSH_URL" default:"ws://localhost:8000/ws"`
	Enabled      bool          `envconfig:"TABLESIDE_PUSH_ENABLED" default:"true"`
	MaxRetries   int           `envconfig:"TABLESIDE_PUSH_MAX_RETRIES" default:"5"`
	RetryDelay   time.Duration `envconfig:"TABLESIDE_PUSH_RETRY_DELAY" default:"3s"`
	DialTimeout  time.Duration `envconfig:"TABLESIDE_PUSH_DIAL_TIMEOUT" default:"10s"`
	PollInterval time.Duration `envconfig:"TABLESIDE_POLL_INTERVAL" default:"10s"`
	MinUptime    time.Duration `envconfig:"TABLESIDE_PUSH_MIN_UPTIME" default:"5s"`
}

type StorageConfig struct {
	Driver        string        `envconfig:"TABLESIDE_STORAGE_DRIVER" default:"sql"`
	CartTTL       time.Duration `envconfig:"TABLESIDE_STORAGE_CART_TTL" default:"24h"`
	PurgeInterval time.Duration `envconfig:"TABLESIDE_STORAGE_PURGE_INTERVAL" default:"1h"`
	RetryInterval time.Duration `envconfig:"TABLESIDE_STORAGE_RETRY_INTERVAL" default:"30s"`
}

func (s StorageConfig) validate() error {
	switch s.Driver {
	case StorageDriverMemory, StorageDriverRedis, StorageDriverSQL:
		return nil
	}
	return fmt.Errorf("unsupported %s %q", EnvStorageDriver, s.Driver)
}

type DBConfig struct {
	DSN    string `envconfig:"TABLESIDE_DB_DSN"`
	Driver string `envconfig:"TABLESIDE_DB_DRIVER" default:"sqlite"`

	SQLitePath string `envconfig:"TABLESIDE_DB_SQLITE_PATH" default:"tableside.db"`

	LegacyHost     string `envconfig:"TABLESIDE_DB_HOST"`
	LegacyPort     int    `envconfig:"TABLESIDE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TABLESIDE_DB_USER"`
	LegacyPassword string `envconfig:"TABLESIDE_DB_PASSWORD"`
	LegacyName     string `envconfig:"TABLESIDE_DB_NAME"`
	LegacySSLMode  string `envconfig:"TABLESIDE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TABLESIDE_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"TABLESIDE_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"TABLESIDE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TABLESIDE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"TABLESIDE_REDIS_URL"`
	Address      string        `envconfig:"TABLESIDE_REDIS_ADDR"`
	Password     string        `envconfig:"TABLESIDE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TABLESIDE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TABLESIDE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TABLESIDE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TABLESIDE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TABLESIDE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TABLESIDE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"TABLESIDE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TABLESIDE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TABLESIDE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TABLESIDE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.IsSQLite() {
		if db.DSN == "" {
			db.DSN = db.SQLitePath
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
