package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
api:
  rest_url: "https://clob.example.com"
  market_ws_url: "wss://ws.example.com/market"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "paper" {
		t.Errorf("Mode = %q, want paper", cfg.Mode)
	}
	if cfg.Liveness.PingIntervalSec != 5 {
		t.Errorf("PingIntervalSec = %d, want 5", cfg.Liveness.PingIntervalSec)
	}
	if !cfg.Liveness.AutoReconnect {
		t.Error("AutoReconnect should default true")
	}
	if cfg.Paper.StartingBalance != 10000 {
		t.Errorf("StartingBalance = %v, want 10000", cfg.Paper.StartingBalance)
	}
	if cfg.Harness.HeartbeatIntervalSec != 30 {
		t.Errorf("HeartbeatIntervalSec = %d, want 30", cfg.Harness.HeartbeatIntervalSec)
	}
}

func TestLoadRespectsExplicitAutoReconnectFalse(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
api:
  rest_url: "https://clob.example.com"
  market_ws_url: "wss://ws.example.com/market"
liveness:
  auto_reconnect: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Liveness.AutoReconnect {
		t.Error("explicit auto_reconnect: false should be respected")
	}
}

func TestEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_REST_URL", "https://from-env.example.com")
	path := writeConfig(t, `
api:
  rest_url: "${TEST_REST_URL}"
  market_ws_url: "${MISSING_VAR:wss://fallback.example.com/market}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.RESTURL != "https://from-env.example.com" {
		t.Errorf("RESTURL = %q, want substituted value", cfg.API.RESTURL)
	}
	if cfg.API.MarketWSURL != "wss://fallback.example.com/market" {
		t.Errorf("MarketWSURL = %q, want fallback default", cfg.API.MarketWSURL)
	}
}

func TestSecretEnvOverride(t *testing.T) {
	t.Setenv("POLY_PRIVATE_KEY", "0xdeadbeef")
	path := writeConfig(t, `
api:
  rest_url: "https://clob.example.com"
  market_ws_url: "wss://ws.example.com/market"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wallet.PrivateKey != "0xdeadbeef" {
		t.Errorf("PrivateKey = %q, want env override", cfg.Wallet.PrivateKey)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := &Config{Mode: "paper", API: APIConfig{RESTURL: "x", MarketWSURL: "y"}, Paper: PaperConfig{StartingBalance: 10000}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	bad := &Config{Mode: "live", API: APIConfig{RESTURL: "x", MarketWSURL: "y"}, Paper: PaperConfig{StartingBalance: 10000}}
	if err := bad.Validate(); err == nil {
		t.Error("live mode without private key should fail validation")
	}
}
