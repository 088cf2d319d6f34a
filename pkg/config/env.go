package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "TABLESIDE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	StorageDriverMemory = "memory"
	StorageDriverRedis  = "redis"
	StorageDriverSQL    = "sql"
)

const (
	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "postgres"
)

const (
	EnvAppEnv         = "TABLESIDE_APP_ENV"
	EnvPort           = "TABLESIDE_APP_PORT"
	EnvBackendBaseURL = "TABLESIDE_BACKEND_BASE_URL"
	EnvBackendTimeout = "TABLESIDE_BACKEND_TIMEOUT"
	EnvPushURL        = "TABLESIDE_PUSH_URL"
	EnvPushMaxRetries = "TABLESIDE_PUSH_MAX_RETRIES"
	EnvPollInterval   = "TABLESIDE_POLL_INTERVAL"
	EnvStorageDriver  = "TABLESIDE_STORAGE_DRIVER"
	EnvDBDSN          = "TABLESIDE_DB_DSN"
	EnvDBDriver       = "TABLESIDE_DB_DRIVER"
	EnvDBHost         = "TABLESIDE_DB_HOST"
	EnvDBUser         = "TABLESIDE_DB_USER"
	EnvDBName         = "TABLESIDE_DB_NAME"
	EnvRedisURL       = "TABLESIDE_REDIS_URL"
	EnvRedisAddr      = "TABLESIDE_REDIS_ADDR"
	EnvJWTSecret      = "TABLESIDE_JWT_SECRET"
	EnvJWTIssuer      = "TABLESIDE_JWT_ISSUER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
