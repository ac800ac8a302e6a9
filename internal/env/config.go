package env

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const configFileVar = "NUMLINK_CONFIG_FILE"

type Config struct {
	LogLevel  string `env:"NUMLINK_LOG_LEVEL,overwrite,default=info" yaml:"log_level"`
	DebugHTTP bool   `env:"NUMLINK_DEBUG_HTTP,overwrite" yaml:"debug_http"`

	// HTTPAddr is where the admin endpoints listen, empty disables them
	HTTPAddr string `env:"NUMLINK_HTTP_ADDR,overwrite,default=127.0.0.1:7362" yaml:"http_addr"`

	RequestTimeout time.Duration `env:"NUMLINK_REQUEST_TIMEOUT,overwrite,default=30s" yaml:"request_timeout"`
	DialAttempts   int           `env:"NUMLINK_DIAL_ATTEMPTS,overwrite,default=3" yaml:"dial_attempts"`
	DialBackoff    time.Duration `env:"NUMLINK_DIAL_BACKOFF,overwrite,default=1s" yaml:"dial_backoff"`
	PollInterval   time.Duration `env:"NUMLINK_POLL_INTERVAL,overwrite,default=100ms" yaml:"poll_interval"`
	MaxMessageSize int           `env:"NUMLINK_MAX_MESSAGE_SIZE,overwrite,default=1048576" yaml:"max_message_size"`

	// SnapshotFile seeds the subscriber's topic store on start and receives
	// its contents on exit. Empty disables snapshots.
	SnapshotFile string `env:"NUMLINK_SNAPSHOT_FILE,overwrite" yaml:"snapshot_file"`

	ConfigFile string `env:"NUMLINK_CONFIG_FILE" yaml:"-"`
}

// LoadConfig reads .env.local when present, then the YAML file named by
// NUMLINK_CONFIG_FILE, then the environment. Values already set by the file
// are kept unless the environment sets them too.
func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env.local: %w", err)
		}
	}

	if path := os.Getenv(configFileVar); path != "" {
		if err := loadFile(path, &config); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func loadFile(path string, config *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(raw, config); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	return nil
}
