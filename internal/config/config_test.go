package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policygate.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Policy.Driver != "file" {
		t.Fatalf("unexpected policy driver: %s", cfg.Policy.Driver)
	}
	if cfg.Intake.Driver != "memory" {
		t.Fatalf("unexpected intake driver: %s", cfg.Intake.Driver)
	}
	if cfg.Ledger.Driver != "memory" {
		t.Fatalf("unexpected ledger driver: %s", cfg.Ledger.Driver)
	}
	if cfg.Run.Workers != 4 || cfg.Run.AuditMaxAttempts != 3 || cfg.Run.AuditBackoffMS != 200 {
		t.Fatalf("unexpected run defaults: %+v", cfg.Run)
	}
	if cfg.Bridge.BurnTimeoutSec != 60 || cfg.Bridge.MintTimeoutSec != 300 || cfg.Bridge.BetTimeoutSec != 60 {
		t.Fatalf("unexpected bridge timeouts: %+v", cfg.Bridge)
	}
	if cfg.Bridge.PrivateKeyEnv != "POLICYGATE_PRIVATE_KEY" {
		t.Fatalf("unexpected private key env: %s", cfg.Bridge.PrivateKeyEnv)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policygate.json")
	content := `{
  "policy": {"driver": "file", "path": "policies.yaml"},
  "bridge": {"chain_config": "chain.yaml"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Policy.Path != filepath.Join(dir, "policies.yaml") {
		t.Fatalf("policy path not resolved against config dir: %s", cfg.Policy.Path)
	}
	if cfg.Bridge.ChainConfig != filepath.Join(dir, "chain.yaml") {
		t.Fatalf("chain config not resolved against config dir: %s", cfg.Bridge.ChainConfig)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected load failure for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected load failure for empty path")
	}
}

func TestTimeoutHelpers(t *testing.T) {
	bridge := BridgeConfig{BurnTimeoutSec: 30, MintTimeoutSec: 120, BetTimeoutSec: 45}
	if bridge.BurnTimeout().Seconds() != 30 || bridge.MintTimeout().Seconds() != 120 || bridge.BetTimeout().Seconds() != 45 {
		t.Fatalf("unexpected timeout conversion: %v %v %v", bridge.BurnTimeout(), bridge.MintTimeout(), bridge.BetTimeout())
	}

	ledger := LedgerConfig{ConnMaxLifetime: "5m"}
	lifetime, err := ledger.ParseConnMaxLifetime()
	if err != nil {
		t.Fatalf("parse lifetime: %v", err)
	}
	if lifetime.Minutes() != 5 {
		t.Fatalf("unexpected lifetime: %v", lifetime)
	}

	ledger.ConnMaxLifetime = "not-a-duration"
	if _, err := ledger.ParseConnMaxLifetime(); err == nil {
		t.Fatal("expected parse failure")
	}
}
