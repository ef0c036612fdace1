package config

import (
	"os"
	"path/filepath"
	"testing"

	"tenderd/native/auction"
)

func TestLoadCreatesDefaultConfigAndKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8545" || cfg.GatewayAddress != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Auction.GracePeriod <= 0 || cfg.Auction.GracePeriod > auction.MaxGracePeriod {
		t.Fatalf("default grace period out of range: %d", cfg.Auction.GracePeriod)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := os.Stat(cfg.OwnerKeystorePath); err != nil {
		t.Fatalf("owner keystore not written: %v", err)
	}

	// A second load must read the persisted file, not regenerate it.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if again.OwnerKeystorePath != cfg.OwnerKeystorePath {
		t.Fatalf("keystore path changed across loads")
	}
}

func TestLoadUsesPassphraseSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	calls := 0
	_, err := Load(path, WithKeystorePassphraseSource(func() (string, error) {
		calls++
		return "hunter2", nil
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if calls == 0 {
		t.Fatalf("passphrase source never consulted")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataDir: "./data",
			Auction: AuctionConfig{
				TotalBudget:         "1000",
				MinimumBid:          "10",
				SafetyDepositAmount: "1",
				UnlockDuration:      60,
				GracePeriod:         30,
				ContractDuration:    1_000,
			},
		}
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing data dir", func(c *Config) { c.DataDir = " " }},
		{"zero unlock duration", func(c *Config) { c.Auction.UnlockDuration = 0 }},
		{"zero grace period", func(c *Config) { c.Auction.GracePeriod = 0 }},
		{"grace period over cap", func(c *Config) { c.Auction.GracePeriod = auction.MaxGracePeriod + 1 }},
		{"zero contract duration", func(c *Config) { c.Auction.ContractDuration = 0 }},
		{"non-numeric budget", func(c *Config) { c.Auction.TotalBudget = "ten" }},
		{"negative minimum bid", func(c *Config) { c.Auction.MinimumBid = "-5" }},
		{"empty deposit", func(c *Config) { c.Auction.SafetyDepositAmount = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
DataDir = "./data"
OwnerKeystorePath = "` + filepath.Join(dir, "owner.keystore") + `"

[Auction]
TotalBudget = "1000"
MinimumBid = "10"
SafetyDepositAmount = "1"
UnlockDuration = 60
GracePeriod = 0
ContractDuration = 1000
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("invalid grace period must be rejected")
	}
}

func TestMirrorDSNDefaultsIntoDataDir(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/tenderd"}
	applyDefaults(cfg)
	if cfg.MirrorDSN != filepath.Join("/var/lib/tenderd", "mirror.db") {
		t.Fatalf("mirror dsn = %s", cfg.MirrorDSN)
	}
}
