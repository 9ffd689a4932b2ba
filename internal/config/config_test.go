package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_ENV", "APP_HTTP_ADDR", "DB_DSN", "METRICS_ADDR", "STORE_TYPE",
		"RATE_LIMIT_PER_IP", "RATE_LIMIT_PER_KEY", "RATE_LIMIT_ADMIN_PER_KEY",
		"AUTH_TOKEN_PREFIX", "JWT_SECRET", "REDIS_ADDR", "CACHE_ENABLED",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.AppEnv != "dev" {
		t.Errorf("expected AppEnv=dev, got %q", cfg.AppEnv)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected HTTPAddr=:8080, got %q", cfg.HTTPAddr)
	}
	if cfg.StoreType != "postgres" {
		t.Errorf("expected StoreType=postgres, got %q", cfg.StoreType)
	}
	if cfg.AuthTokenPrefix != "exk_" {
		t.Errorf("expected AuthTokenPrefix=exk_, got %q", cfg.AuthTokenPrefix)
	}
}

func TestLoad_MemoryStoreSkipsDSNRequirement(t *testing.T) {
	clearEnv(t)
	os.Setenv("STORE_TYPE", "memory")
	os.Setenv("DB_DSN", "")
	defer os.Unsetenv("STORE_TYPE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.StoreType != "memory" {
		t.Errorf("expected StoreType=memory, got %q", cfg.StoreType)
	}
}

func TestLoad_RejectsUnsupportedStoreType(t *testing.T) {
	clearEnv(t)
	os.Setenv("STORE_TYPE", "sqlite")
	defer os.Unsetenv("STORE_TYPE")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported STORE_TYPE")
	}
}
