package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Candle Scanner Configuration

[kite]
# Kite Connect credentials. KITE_API_KEY / KITE_ACCESS_TOKEN override these.
api_key = ""
access_token = ""
# Session file written by the login flow, read when access_token is empty.
# token_path = "~/.config/candle-scanner/session.json"
exchange = "NSE"

[data]
# Series and artifacts directory. SCANNER_DATA_DIR overrides this.
# dir = "~/.config/candle-scanner/data"
# Storage backend: "file" (CSV) or "sqlite"
backend = "file"
# db_path = "~/.config/candle-scanner/data/scanner.db"
# Whitespace separated ticker list, merged with tickers below
tickers_file = ""
tickers = []

[ingest]
intervals = ["1m", "5m", "15m", "30m", "1h", "1d", "1w", "1mo"]
# Backfill stops once a series holds this many rows
row_target = 250
# Consecutive near-empty pages that end a backfill
max_thin_pages = 4
# Wait after a rate-limit signal before repeating the request
cooldown = "60s"
fetch_timeout = "30s"
staleness_threshold = "0s"
requests_per_second = 3.0
burst = 1

[pool]
fetch_workers = 8
indicator_workers = 6

[schedule]
first_delay = "1m"
interval = "1h"

[overview]
enabled = false
freshness = "24h"
recheck = "6h"
retry_empty = "1h"
request_interval = "1s"
shortable_url = ""
shortable_available = "Available"
cache_size = 4096
cache_ttl = "24h"

[stream]
enabled = true
reconnect_delay = "1m"

[redis]
# Mirror summaries to Redis for other consumers
enabled = false
addr = "localhost:6379"
password = ""
db = 0
prefix = "scanner"
ttl = "0s"

[metrics]
# Prometheus endpoint, e.g. ":9102". Empty disables it.
addr = ""

[log]
level = "info"
console = true
file = true
`

// createTemplateConfig writes the template config.toml into configDir.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
