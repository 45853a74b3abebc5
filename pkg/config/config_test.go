package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Load()
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.DecisionCacheTTL != 60*time.Second {
		t.Fatalf("decision TTL = %v, want 60s", cfg.DecisionCacheTTL)
	}
	if cfg.ResetMaxPerHour != 5 {
		t.Fatalf("reset max per hour = %d, want 5", cfg.ResetMaxPerHour)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MERIDIAN_RBAC_DECISION_TTL", "90s")
	t.Setenv("MERIDIAN_LISTEN_ADDR", ":9999")
	t.Setenv("MERIDIAN_RBAC_SEED_WATCH", "true")
	t.Setenv("MERIDIAN_DB_MAX_OPEN_CONNS", "50")

	cfg := Load()
	if cfg.DecisionCacheTTL != 90*time.Second {
		t.Fatalf("decision TTL = %v, want 90s", cfg.DecisionCacheTTL)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if !cfg.WatchSeedFile {
		t.Fatal("seed watch not enabled")
	}
	if cfg.DBMaxOpenConns != 50 {
		t.Fatalf("max open conns = %d", cfg.DBMaxOpenConns)
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsMissingSecret(t *testing.T) {
	cfg := validConfig()
	cfg.JWTSecret = ""
	if cfg.Validate() == nil {
		t.Fatal("missing JWT secret must be rejected")
	}
}

func TestValidateRejectsShortSecret(t *testing.T) {
	cfg := validConfig()
	cfg.JWTSecret = "short"
	if cfg.Validate() == nil {
		t.Fatal("short JWT secret must be rejected")
	}
}

func TestValidateRejectsBadTTLs(t *testing.T) {
	cfg := validConfig()
	cfg.AccessTokenTTL = cfg.RefreshTokenTTL
	if cfg.Validate() == nil {
		t.Fatal("access TTL >= refresh TTL must be rejected")
	}

	cfg = validConfig()
	cfg.DecisionCacheTTL = 0
	if cfg.Validate() == nil {
		t.Fatal("zero decision TTL must be rejected")
	}
}

func TestValidateRejectsPartialOIDC(t *testing.T) {
	cfg := validConfig()
	cfg.OIDCIssuerURL = "https://idp.example.com"
	if cfg.Validate() == nil {
		t.Fatal("issuer without client credentials must be rejected")
	}
}
