// Package config loads the server configuration from defaults, an optional
// YAML file and TFTP_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
	"github.com/spf13/viper"
)

const EnvPrefix = "TFTP"

type Config struct {
	// Listen is the address of the shared listening socket.
	Listen string `mapstructure:"listen"`
	// BaseDir is the directory files are served from and written to.
	BaseDir string `mapstructure:"base_dir"`
	// Workers is the number of goroutines receiving on the listening socket.
	Workers int `mapstructure:"workers"`
	// Timeout is the inactivity timeout in seconds.
	Timeout uint `mapstructure:"timeout"`
	// Retries is how often a block is sent again after a timeout.
	Retries    int             `mapstructure:"retries"`
	AllowWrite bool            `mapstructure:"allow_write"`
	ReusePort  bool            `mapstructure:"reuse_port"`
	Trace      bool            `mapstructure:"trace"`
	Log        utils.LogConfig `mapstructure:"log"`
}

func Default() *Config {
	return &Config{
		Listen:     fmt.Sprintf(":%d", types.DefaultPort),
		Workers:    4,
		Timeout:    uint(types.DefaultTimeout / time.Second),
		Retries:    0,
		AllowWrite: true,
		ReusePort:  true,
		Log: utils.LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: utils.RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// TimeoutDuration returns Timeout as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Load reads configuration from path when set, otherwise from TFTP_CONFIG or
// tftpd.yaml in the working directory or ~/.tftp. Environment variables
// override file values, e.g. TFTP_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("base_dir", cfg.BaseDir)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("retries", cfg.Retries)
	v.SetDefault("allow_write", cfg.AllowWrite)
	v.SetDefault("reuse_port", cfg.ReusePort)
	v.SetDefault("trace", cfg.Trace)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tftpd")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tftp"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error while reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error while decoding config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := utils.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", utils.ErrInvalidArgument, c.Workers)
	}

	if c.Timeout < 1 {
		return fmt.Errorf("%w: timeout must be at least 1 second", utils.ErrInvalidArgument)
	}

	if c.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative", utils.ErrInvalidArgument)
	}

	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = fmt.Sprintf(":%d", types.DefaultPort)
	}

	if c.BaseDir == "" {
		dir, err := utils.DefaultBaseDir()
		if err != nil {
			return err
		}

		c.BaseDir = dir
	}

	return nil
}
