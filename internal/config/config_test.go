package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "ZBD_API_BASE_URL")
	unsetEnvWithCleanup(t, "CHARGE_EXPIRY_MINUTES")
	unsetEnvWithCleanup(t, "SWEEPER_STALE_MINUTES")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default server port 8080, got %q", cfg.ServerPort)
	}
	if cfg.ZBDAPIBaseURL != "https://api.zebedee.io" {
		t.Fatalf("unexpected default ZBD base url %q", cfg.ZBDAPIBaseURL)
	}
	if cfg.ChargeExpiryMinutes != 10 {
		t.Fatalf("expected default charge expiry of 10 minutes, got %d", cfg.ChargeExpiryMinutes)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9000" {
		t.Fatalf("expected PORT to take precedence, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_TrimsTrailingSlashFromZBDBaseURL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "ZBD_API_BASE_URL", "https://api.zebedee.io/")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ZBDAPIBaseURL != "https://api.zebedee.io" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.ZBDAPIBaseURL)
	}
}

func TestLoadConfig_StaleWindowExceedsChargeExpiry(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CHARGE_EXPIRY_MINUTES", "20")
	setEnvWithCleanup(t, "SWEEPER_STALE_MINUTES", "10")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SweeperStaleMinutes <= cfg.ChargeExpiryMinutes {
		t.Fatalf("expected stale window above charge expiry, got stale=%d expiry=%d", cfg.SweeperStaleMinutes, cfg.ChargeExpiryMinutes)
	}
}

func TestConfig_OriginsSplitsCommaList(t *testing.T) {
	cfg := Config{AllowedOrigins: " https://satstip.app , https://staging.satstip.app ,"}
	origins := cfg.Origins()
	if len(origins) != 2 {
		t.Fatalf("expected 2 origins, got %d (%v)", len(origins), origins)
	}
	if origins[0] != "https://satstip.app" || origins[1] != "https://staging.satstip.app" {
		t.Fatalf("unexpected origins %v", origins)
	}
}

func TestConfig_OriginsEmpty(t *testing.T) {
	cfg := Config{}
	if got := cfg.Origins(); got != nil {
		t.Fatalf("expected nil origins, got %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
