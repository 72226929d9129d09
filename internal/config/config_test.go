package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr == "" || cfg.DatabaseURL == "" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("AccessTTL = %v, want 15m", cfg.AccessTTL)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("GMP_ACCESS_TTL_SECONDS", "60")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Fatalf("Addr = %q, want :9999", cfg.Addr)
	}
	if cfg.AccessTTL != time.Minute {
		t.Fatalf("AccessTTL = %v, want 1m", cfg.AccessTTL)
	}
	if !cfg.MinIOUseSSL {
		t.Fatal("expected MinIOUseSSL")
	}
}

func TestLoadFallsBackOnInvalidSeconds(t *testing.T) {
	t.Setenv("GMP_REFRESH_TTL_SECONDS", "soon")
	cfg := Load()
	if cfg.RefreshTTL != 30*24*time.Hour {
		t.Fatalf("RefreshTTL = %v, want 30 days", cfg.RefreshTTL)
	}
}
