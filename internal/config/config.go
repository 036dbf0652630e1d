package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	OutputIndex     int    `mapstructure:"output_index" yaml:"output_index"`
	Backend         string `mapstructure:"backend" yaml:"backend"`
	IntervalMs      int    `mapstructure:"interval_ms" yaml:"interval_ms"`
	TimeoutMs       int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	Backpressure    string `mapstructure:"backpressure" yaml:"backpressure"`
	GetFrameRetries int    `mapstructure:"get_frame_retries" yaml:"get_frame_retries"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	ListenAddr      string `mapstructure:"listen_addr" yaml:"listen_addr"`
	MaxViewers      int    `mapstructure:"max_viewers" yaml:"max_viewers"`
	ViewerQueueSize int    `mapstructure:"viewer_queue_size" yaml:"viewer_queue_size"`
	SnapshotWorkers int    `mapstructure:"snapshot_workers" yaml:"snapshot_workers"`
}

func Default() *Config {
	return &Config{
		OutputIndex:     0,
		Backend:         "auto",
		IntervalMs:      100,
		TimeoutMs:       1000,
		Backpressure:    "latest",
		GetFrameRetries: 5,
		LogLevel:        "info",
		LogFormat:       "text",
		LogMaxSizeMB:    20,
		LogMaxBackups:   3,
		ListenAddr:      "127.0.0.1:8787",
		MaxViewers:      8,
		ViewerQueueSize: 4,
		SnapshotWorkers: 2,
	}
}

// Interval returns IntervalMs as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Timeout returns TimeoutMs as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Load reads deskdup.yaml from cfgFile or the default locations and applies
// DESKDUP_* environment overrides. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("deskdup")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DESKDUP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("output_index", cfg.OutputIndex)
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("interval_ms", cfg.IntervalMs)
	v.SetDefault("timeout_ms", cfg.TimeoutMs)
	v.SetDefault("backpressure", cfg.Backpressure)
	v.SetDefault("get_frame_retries", cfg.GetFrameRetries)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("max_viewers", cfg.MaxViewers)
	v.SetDefault("viewer_queue_size", cfg.ViewerQueueSize)
	v.SetDefault("snapshot_workers", cfg.SnapshotWorkers)
}

// YAML renders the effective config in the file format Load reads.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Deskdup")
	case "darwin":
		return "/Library/Application Support/Deskdup"
	default:
		return "/etc/deskdup"
	}
}
