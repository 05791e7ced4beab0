package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadCreatesTemplate(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "created template") {
		t.Fatalf("expected template error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Errorf("template not written: %v", err)
	}
}

func TestTemplateLoadsOnceFilledIn(t *testing.T) {
	dir := t.TempDir()
	tmpl := strings.Replace(configTemplate, `spreadsheet_id = ""`, `spreadsheet_id = "sheet-1"`, 1)
	writeFile(t, dir, "config.toml", tmpl)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	p, warnings, err := cfg.BuildPolicy()
	if err != nil || len(warnings) != 0 {
		t.Fatalf("BuildPolicy: %v %v", warnings, err)
	}
	if p.LotSize(models.NFO) != 65 || p.MaxOrderQuantity(models.BFO) != 2000 {
		t.Errorf("unexpected policy from template")
	}
	if cfg.Trigger.PollInterval != time.Second || cfg.Trigger.Cooldown != 10*time.Second {
		t.Errorf("durations not decoded: %+v", cfg.Trigger)
	}
	if cfg.Session.TokenDir != filepath.Join(dir, "tokens") {
		t.Errorf("token dir not resolved: %s", cfg.Session.TokenDir)
	}
	if _, err := os.Stat(filepath.Join(dir, "credentials.toml")); err != nil {
		t.Errorf("credentials template not written: %v", err)
	}
}

func TestLoadOverridesAndCredentials(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", `
[policy]
lot_sizes = { NFO = 75, BFO = 20 }
max_quantity = { NFO = 1780, BFO = 2000 }

[sync]
parallelism = 3

[registry]
source = "file"
accounts_file = "/abs/accounts_config.json"

[trigger]
mode = "auto"
`)
	writeFile(t, dir, "credentials.toml", `
[[auto_login]]
account_id = "AB1234"
password = "pw"
totp_secret = "JBSWY3DPEHPK3PXP"
`)
	t.Setenv("COPIER_READ_ONLY", "true")
	t.Setenv("COPIER_MODE", "EDGE")
	t.Setenv("COPIER_SPREADSHEET_ID", "from-env")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Sync.ReadOnly || !cfg.IsEdgeMode() || cfg.Registry.SpreadsheetID != "from-env" {
		t.Errorf("env overrides not applied: %+v %+v", cfg.Sync, cfg.Trigger)
	}
	if cfg.Sync.Parallelism != 3 || cfg.Sync.Product != "NRML" {
		t.Errorf("unexpected sync config: %+v", cfg.Sync)
	}
	if cfg.Registry.AccountsFile != "/abs/accounts_config.json" {
		t.Errorf("absolute path rewritten: %s", cfg.Registry.AccountsFile)
	}
	if len(cfg.Credentials.AutoLogin) != 1 || cfg.Credentials.AutoLogin[0].AccountID != "AB1234" {
		t.Errorf("credentials not loaded: %+v", cfg.Credentials)
	}

	_, warnings, err := cfg.BuildPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "NFO cap 1780") {
		t.Errorf("1780 is not a multiple of 75, expected one warning, got %v", warnings)
	}
	if ex := cfg.Exchanges(); len(ex) != 2 || ex[0] != models.NFO {
		t.Errorf("Exchanges = %v", ex)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Policy:   PolicyConfig{LotSizes: map[string]int{"nfo": 65}, MaxQuantity: map[string]int{"nfo": 1755}},
			Sync:     SyncConfig{Product: "NRML", Exchanges: []string{"NFO"}, Parallelism: 1},
			Registry: RegistryConfig{Source: SourceFile},
			Trigger:  TriggerConfig{Mode: ModeAuto, Flag: "file", PollInterval: time.Second, UnreachableInterval: time.Second},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Registry.Source = "ftp" }},
		{"sheets without id", func(c *Config) { c.Registry.Source = SourceSheets }},
		{"unknown mode", func(c *Config) { c.Trigger.Mode = "sometimes" }},
		{"zero parallelism", func(c *Config) { c.Sync.Parallelism = 0 }},
		{"bad product", func(c *Config) { c.Sync.Product = "CNC" }},
		{"zero lot", func(c *Config) { c.Policy.LotSizes["nfo"] = 0 }},
		{"auto login without id", func(c *Config) { c.Credentials.AutoLogin = []AutoLogin{{Password: "x"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, errors.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}
