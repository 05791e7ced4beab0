package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Zerodha Copier Configuration

[policy]
# Contracts per lot, keyed by exchange
lot_sizes = { NFO = 65, BFO = 20 }
# Exchange freeze limit per order, keyed by exchange
max_quantity = { NFO = 1755, BFO = 2000 }
# Optional legacy lot_sizes_config.json whose values override the tables above
# lot_sizes_file = "lot_sizes_config.json"

[sync]
# Product for every order: NRML or MIS
product = "NRML"
validity = "DAY"
exchanges = ["NFO", "BFO"]
# Targets synced concurrently (1 = one after another)
parallelism = 1
# Log would-be orders without placing them
read_only = false
tag_prefix_close = "close"
tag_prefix_mirror = "mimic"
# Print every account's positions after a cycle
snapshot = true

[registry]
# Account source: "sheets", "csv" or "file"
source = "sheets"
spreadsheet_id = ""
# Worksheet GID from the sheet URL (0 = use sheet_name, then the first sheet)
gid = 0
sheet_name = ""
header_row = 7
data_start_row = 8
# Service account JSON (GOOGLE_APPLICATION_CREDENTIALS is used when empty)
credentials_file = ""
csv_path = ""
accounts_file = "accounts_config.json"

[trigger]
# "edge" waits for the Sync Trigger flag, "auto" syncs every minute
mode = "edge"
# Flag source for edge mode: "sheet" or "file"
flag = "sheet"
column = "Sync Trigger"
values = ["TRIGGER", "SYNC", "RUN", "1", "YES"]
poll_interval = "1s"
unreachable_interval = "10s"
cooldown = "10s"
scan_rows = 20
# Optional A1 cell holding EDGE or AUTO, read once at startup
mode_cell = ""
flag_file = "sync.trigger"

[session]
token_dir = "tokens"

[logging]
level = "info"
file = "logs/copier.log"

[journal]
enabled = true
path = "journal.db"

[metrics]
# Address for the Prometheus endpoint in listen mode, e.g. ":9108"
listen = ""

[audit]
enabled = true
dir = "audit"

[notifications]
enabled = false
# Notification level: all, failures_only
level = "all"

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
`

const credentialsTemplate = `# Zerodha Copier Credentials
# WARNING: Keep this file secure and never commit it to version control

# Headless login for accounts whose Request URL has expired.
# [[auto_login]]
# account_id = "AB1234"
# password = ""
# totp_secret = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

// createTemplateCredentials writes an empty credentials file. Auto-login is
// optional, so a missing file is not an error.
func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
