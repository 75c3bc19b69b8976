package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# config.toml

# Hostname / IP
#
host = "localhost"

# Port
#
port = 7474

# Base url
# Set custom baseUrl eg /licentra/ to serve in subdirectory.
# Not needed for subdomain, or by accessing with the :port directly.
# Optional
#
#baseUrl = "/licentra/"

# Data directory
# Sqlite database is stored here. Defaults to the config directory.
# Optional
#
#dataDir = "/var/lib/licentra"

# Log file path
# If not defined, logs to stdout
# Optional
#
#logPath = "log/licentra.log"

# Log level
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
#
logLevel = "INFO"

[licensing]
# Defaults applied when a license is issued without explicit values.
#
defaultMaxDevices = 1

# 0 means perpetual
#
defaultValidityDays = 365

# Devices with last_seen within this window count as recently active.
# Display only.
#
activityWindowMins = 30
activityCacheSeconds = 60

[httpTimeouts]
readTimeout = 15
writeTimeout = 15
idleTimeout = 60
`

// WriteDefaultConfig writes the default config template to path unless a
// file already exists there.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
