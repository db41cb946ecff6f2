// Package config defines the two YAML-backed configuration shapes of the
// farm (coordinator and worker) and loads them with viper, the way
// tvarr layers flags, environment, and file for its own config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CoordinatorConfig is the cluster configuration of spec §6: media roots,
// store location, scheduling knobs, and the timeouts that drive liveness
// and lease recovery.
type CoordinatorConfig struct {
	MediaRoots []string `yaml:"media_roots" mapstructure:"media_roots"`
	StorePath  string   `yaml:"store_path" mapstructure:"store_path"`
	ListenAddr string   `yaml:"listen_addr" mapstructure:"listen_addr"`

	LivenessTimeout time.Duration `yaml:"liveness_timeout" mapstructure:"liveness_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	LeaseTTL        time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`
	PinGrace        time.Duration `yaml:"pin_grace" mapstructure:"pin_grace"`
	SigtermGrace    time.Duration `yaml:"sigterm_grace" mapstructure:"sigterm_grace"`

	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	MinSavingsPercent float64 `yaml:"min_savings_percent" mapstructure:"min_savings_percent"`

	EventBusBacklog int `yaml:"event_bus_backlog" mapstructure:"event_bus_backlog"`

	TestingMode bool `yaml:"testing_mode" mapstructure:"testing_mode"`

	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// DefaultCoordinatorConfig mirrors the teacher's DefaultConfig pattern:
// a struct literal of sane production defaults, overridden by file/env/flag.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		MediaRoots:        []string{"/media"},
		StorePath:         "/config/avfarm.db",
		ListenAddr:        ":8484",
		LivenessTimeout:   30 * time.Second,
		SweepInterval:     10 * time.Second,
		LeaseTTL:          2 * time.Minute,
		PinGrace:          60 * time.Second,
		SigtermGrace:      15 * time.Second,
		MaxAttempts:       3,
		MinSavingsPercent: 5.0,
		EventBusBacklog:   1000,
		TestingMode:       false,
		LogLevel:          "info",
	}
}

// LoadCoordinatorConfig reads coordinatord.yaml through viper, layering in
// AVFARM_-prefixed environment overrides, and writes a default file the
// first time it's missing (same create-if-missing behavior the teacher's
// config.Load has).
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	cfg := DefaultCoordinatorConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if saveErr := cfg.Save(path); saveErr != nil {
			fmt.Printf("warning: could not create config file: %v\n", saveErr)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AVFARM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read coordinator config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode coordinator config: %w", err)
	}

	applyCoordinatorDefaults(cfg)
	return cfg, nil
}

func applyCoordinatorDefaults(cfg *CoordinatorConfig) {
	if len(cfg.MediaRoots) == 0 {
		cfg.MediaRoots = []string{"/media"}
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "/config/avfarm.db"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8484"
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.PinGrace <= 0 {
		cfg.PinGrace = 60 * time.Second
	}
	if cfg.SigtermGrace <= 0 {
		cfg.SigtermGrace = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.EventBusBacklog <= 0 {
		cfg.EventBusBacklog = 1000
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Save writes the config to a YAML file, creating its directory if needed.
func (c *CoordinatorConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
