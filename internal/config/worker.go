package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// WorkerConfig is the local configuration of one avworker process: where
// to find the coordinator, which binaries/capabilities it exposes, and
// where it stages files during a transcode.
type WorkerConfig struct {
	CoordinatorURL string   `yaml:"coordinator_url" mapstructure:"coordinator_url"`
	Capabilities   []string `yaml:"capabilities" mapstructure:"capabilities"`

	FFmpegPath  string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path" mapstructure:"ffprobe_path"`

	WorkDir string `yaml:"work_dir" mapstructure:"work_dir"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// DefaultWorkerConfig returns the defaults a freshly installed worker runs
// with before any local override.
func DefaultWorkerConfig() *WorkerConfig {
	hostname, _ := os.Hostname()
	return &WorkerConfig{
		CoordinatorURL:    "http://localhost:8484",
		Capabilities:      []string{"hevc", "av1", hostname},
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		WorkDir:           os.TempDir(),
		HeartbeatInterval: 5 * time.Second,
		PollInterval:      2 * time.Second,
		LogLevel:          "info",
	}
}

// LoadWorkerConfig reads avworker.yaml through viper with AVWORKER_-prefixed
// environment overrides, creating a default file the first time it's missing.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	cfg := DefaultWorkerConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if saveErr := cfg.Save(path); saveErr != nil {
			fmt.Printf("warning: could not create config file: %v\n", saveErr)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AVWORKER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read worker config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode worker config: %w", err)
	}

	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// Save writes the config to a YAML file, creating its directory if needed.
func (c *WorkerConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
