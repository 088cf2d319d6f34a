package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected App.Env to be production, got %q", cfg.App.Env)
	}
	if cfg.Backend.Timeout != 30*time.Second {
		t.Fatalf("expected default backend timeout 30s, got %v", cfg.Backend.Timeout)
	}
	if cfg.Push.MaxRetries != 5 || cfg.Push.RetryDelay != 3*time.Second {
		t.Fatalf("unexpected push retry policy %d/%v", cfg.Push.MaxRetries, cfg.Push.RetryDelay)
	}
	if cfg.Push.PollInterval != 10*time.Second {
		t.Fatalf("expected poll interval 10s, got %v", cfg.Push.PollInterval)
	}
	if cfg.Push.MinUptime != 5*time.Second || cfg.Storage.RetryInterval != 30*time.Second {
		t.Fatalf("unexpected recovery policy %v/%v", cfg.Push.MinUptime, cfg.Storage.RetryInterval)
	}
	if cfg.App.MaxTableNumber != 500 {
		t.Fatalf("expected max table number 500, got %d", cfg.App.MaxTableNumber)
	}
	if cfg.DB.DSN != "tableside.db" {
		t.Fatalf("expected sqlite path to become the dsn, got %q", cfg.DB.DSN)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv(EnvAppEnv); err != nil {
		t.Fatalf("failed to unset %s: %v", EnvAppEnv, err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_UnknownStorageDriver(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvStorageDriver, "floppy")

	if _, err := Load(); err == nil {
		t.Fatal("expected unsupported storage driver to fail")
	}
}

func TestLoad_RedisDriverRequiresEndpoint(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvStorageDriver, StorageDriverRedis)

	if _, err := Load(); err == nil {
		t.Fatal("expected redis driver without url to fail")
	}

	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error with redis url: %v", err)
	}
}

func TestLoad_PostgresLegacyDSN(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvDBDriver, DBDriverPostgres)
	t.Setenv(EnvDBHost, "db.local")
	t.Setenv(EnvDBUser, "tableside")
	t.Setenv(EnvDBName, "carts")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	want := "postgres://tableside@db.local:5432/carts?sslmode=disable"
	if cfg.DB.DSN != want {
		t.Fatalf("expected dsn %q, got %q", want, cfg.DB.DSN)
	}
}

func TestLoad_BadBackendURL(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvBackendBaseURL, "ftp://menu")

	if _, err := Load(); err == nil {
		t.Fatal("expected non-http backend url to fail")
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvPort, "8081")
	t.Setenv(EnvJWTSecret, "secret")
	t.Setenv(EnvJWTIssuer, "tableside")
}
