// Package config provides configuration management for the copier.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"zerodha-copier/internal/errors"
	"zerodha-copier/internal/models"
	"zerodha-copier/internal/policy"
)

// Registry sources.
const (
	SourceSheets = "sheets"
	SourceCSV    = "csv"
	SourceFile   = "file"
)

// Trigger modes.
const (
	ModeEdge = "edge"
	ModeAuto = "auto"
)

// Config holds all application configuration.
type Config struct {
	Policy        PolicyConfig       `mapstructure:"policy"`
	Sync          SyncConfig         `mapstructure:"sync"`
	Registry      RegistryConfig     `mapstructure:"registry"`
	Trigger       TriggerConfig      `mapstructure:"trigger"`
	Session       SessionConfig      `mapstructure:"session"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Journal       JournalConfig      `mapstructure:"journal"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Audit         AuditConfig        `mapstructure:"audit"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
	Dir           string             `mapstructure:"-"`
}

// PolicyConfig holds lot sizes and per-order caps keyed by exchange.
type PolicyConfig struct {
	LotSizes     map[string]int `mapstructure:"lot_sizes"`
	MaxQuantity  map[string]int `mapstructure:"max_quantity"`
	LotSizesFile string         `mapstructure:"lot_sizes_file"` // legacy lot_sizes_config.json
}

// SyncConfig holds order and cycle settings.
type SyncConfig struct {
	Product         string   `mapstructure:"product"`  // NRML, MIS
	Validity        string   `mapstructure:"validity"` // DAY
	Exchanges       []string `mapstructure:"exchanges"`
	Parallelism     int      `mapstructure:"parallelism"`
	ReadOnly        bool     `mapstructure:"read_only"`
	TagPrefixClose  string   `mapstructure:"tag_prefix_close"`
	TagPrefixMirror string   `mapstructure:"tag_prefix_mirror"`
	Snapshot        bool     `mapstructure:"snapshot"` // fetch all positions after the pass
}

// RegistryConfig locates the account registry.
type RegistryConfig struct {
	Source          string `mapstructure:"source"` // sheets, csv, file
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	GID             int64  `mapstructure:"gid"`
	SheetName       string `mapstructure:"sheet_name"`
	HeaderRow       int    `mapstructure:"header_row"`
	DataStartRow    int    `mapstructure:"data_start_row"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CSVPath         string `mapstructure:"csv_path"`
	AccountsFile    string `mapstructure:"accounts_file"`
}

// TriggerConfig selects how the listener starts sync cycles.
type TriggerConfig struct {
	Mode                string        `mapstructure:"mode"` // edge, auto
	Flag                string        `mapstructure:"flag"` // sheet, file
	Column              string        `mapstructure:"column"`
	Values              []string      `mapstructure:"values"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	UnreachableInterval time.Duration `mapstructure:"unreachable_interval"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	ScanRows            int           `mapstructure:"scan_rows"`
	ModeCell            string        `mapstructure:"mode_cell"`
	FlagFile            string        `mapstructure:"flag_file"`
}

// SessionConfig holds broker session settings.
type SessionConfig struct {
	TokenDir   string `mapstructure:"token_dir"`
	KiteWebURL string `mapstructure:"kite_web_url"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// JournalConfig holds the SQLite sync journal settings.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, failures_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// AuditConfig holds the order audit trail settings.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Credentials holds secrets kept out of config.toml.
type Credentials struct {
	AutoLogin []AutoLogin `mapstructure:"auto_login"`
}

// AutoLogin holds the Kite web login of one account for headless sessions.
type AutoLogin struct {
	AccountID  string `mapstructure:"account_id"`
	Password   string `mapstructure:"password"`
	TOTPSecret string `mapstructure:"totp_secret"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/zerodha-copier"
	}
	return filepath.Join(home, ".config", "zerodha-copier")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("policy.lot_sizes", map[string]int{"NFO": 65, "BFO": 20})
	v.SetDefault("policy.max_quantity", map[string]int{"NFO": 1755, "BFO": 2000})

	v.SetDefault("sync.product", "NRML")
	v.SetDefault("sync.validity", "DAY")
	v.SetDefault("sync.exchanges", []string{"NFO", "BFO"})
	v.SetDefault("sync.parallelism", 1)
	v.SetDefault("sync.read_only", false)
	v.SetDefault("sync.tag_prefix_close", "close")
	v.SetDefault("sync.tag_prefix_mirror", "mimic")
	v.SetDefault("sync.snapshot", true)

	v.SetDefault("registry.source", SourceSheets)
	v.SetDefault("registry.header_row", 7)
	v.SetDefault("registry.data_start_row", 8)
	v.SetDefault("registry.accounts_file", "accounts_config.json")

	v.SetDefault("trigger.mode", ModeEdge)
	v.SetDefault("trigger.flag", "sheet")
	v.SetDefault("trigger.column", "Sync Trigger")
	v.SetDefault("trigger.values", []string{"TRIGGER", "SYNC", "RUN", "1", "YES"})
	v.SetDefault("trigger.poll_interval", "1s")
	v.SetDefault("trigger.unreachable_interval", "10s")
	v.SetDefault("trigger.cooldown", "10s")
	v.SetDefault("trigger.scan_rows", 20)
	v.SetDefault("trigger.flag_file", "sync.trigger")

	v.SetDefault("session.token_dir", "tokens")
	v.SetDefault("session.kite_web_url", "https://kite.zerodha.com")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", filepath.Join("logs", "copier.log"))
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "journal.db")

	v.SetDefault("notifications.level", "all")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.dir", "audit")
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir)
		}
		return err
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COPIER_MODE"); v != "" {
		cfg.Trigger.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("COPIER_SPREADSHEET_ID"); v != "" {
		cfg.Registry.SpreadsheetID = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && cfg.Registry.CredentialsFile == "" {
		cfg.Registry.CredentialsFile = v
	}
	if v := os.Getenv("COPIER_READ_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sync.ReadOnly = b
		}
	}
}

// resolvePaths makes relative file settings relative to the config dir.
func (c *Config) resolvePaths() {
	for _, p := range []*string{
		&c.Session.TokenDir, &c.Logging.File, &c.Journal.Path, &c.Audit.Dir,
		&c.Registry.AccountsFile, &c.Registry.CSVPath, &c.Policy.LotSizesFile, &c.Trigger.FlagFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Dir, *p)
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Registry.Source {
	case SourceSheets:
		if c.Registry.SpreadsheetID == "" {
			return errors.NewValidationError("registry.spreadsheet_id", "", "required for the sheets source")
		}
	case SourceCSV:
		if c.Registry.CSVPath == "" {
			return errors.NewValidationError("registry.csv_path", "", "required for the csv source")
		}
	case SourceFile:
	default:
		return errors.NewValidationError("registry.source", c.Registry.Source, "must be sheets, csv or file")
	}

	if c.Trigger.Mode != ModeEdge && c.Trigger.Mode != ModeAuto {
		return errors.NewValidationError("trigger.mode", c.Trigger.Mode, "must be edge or auto")
	}
	if c.Trigger.Flag != "sheet" && c.Trigger.Flag != "file" {
		return errors.NewValidationError("trigger.flag", c.Trigger.Flag, "must be sheet or file")
	}
	if c.Trigger.Flag == "sheet" && c.Registry.SpreadsheetID == "" && c.Trigger.Mode == ModeEdge {
		return errors.NewValidationError("trigger.flag", c.Trigger.Flag, "the sheet flag needs registry.spreadsheet_id")
	}
	if c.Trigger.PollInterval <= 0 || c.Trigger.UnreachableInterval <= 0 {
		return errors.NewValidationError("trigger.poll_interval", c.Trigger.PollInterval, "intervals must be positive")
	}

	if c.Sync.Parallelism < 1 {
		return errors.NewValidationError("sync.parallelism", c.Sync.Parallelism, "must be at least 1")
	}
	switch models.ProductType(strings.ToUpper(c.Sync.Product)) {
	case models.ProductNRML, models.ProductMIS:
	default:
		return errors.NewValidationError("sync.product", c.Sync.Product, "must be NRML or MIS")
	}
	if len(c.Sync.Exchanges) == 0 {
		return errors.NewValidationError("sync.exchanges", c.Sync.Exchanges, "at least one exchange is required")
	}

	if _, _, err := c.BuildPolicy(); err != nil {
		return err
	}

	for _, a := range c.Credentials.AutoLogin {
		if a.AccountID == "" {
			return errors.NewValidationError("auto_login.account_id", "", "required for every auto_login entry")
		}
	}
	return nil
}

// BuildPolicy merges the configured tables with the legacy lot size file and
// validates the result. Warnings describe caps that are not lot multiples.
func (c *Config) BuildPolicy() (policy.Policy, []string, error) {
	p := policy.New(exchangeMap(c.Policy.LotSizes), exchangeMap(c.Policy.MaxQuantity))
	if c.Policy.LotSizesFile != "" {
		lots, caps, err := policy.LoadLegacyFile(c.Policy.LotSizesFile)
		if err != nil {
			return policy.Policy{}, nil, err
		}
		p = p.Merge(lots, caps)
	}
	warnings, err := p.Validate()
	if err != nil {
		return policy.Policy{}, nil, err
	}
	return p, warnings, nil
}

// Exchanges returns the traded exchanges.
func (c *Config) Exchanges() []models.Exchange {
	out := make([]models.Exchange, 0, len(c.Sync.Exchanges))
	for _, e := range c.Sync.Exchanges {
		out = append(out, models.ParseExchange(e))
	}
	return out
}

// IsEdgeMode returns true if sync cycles start from the trigger flag.
func (c *Config) IsEdgeMode() bool {
	return c.Trigger.Mode == ModeEdge
}

// viper lowercases map keys, so exchange codes are normalized here.
func exchangeMap(in map[string]int) map[models.Exchange]int {
	out := make(map[models.Exchange]int, len(in))
	for k, v := range in {
		out[models.ParseExchange(k)] = v
	}
	return out
}
