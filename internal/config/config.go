// Package config handles configuration loading and management for the
// swarm orchestrator. It supports XDG config paths, project-level
// overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Store       StoreConfig       `mapstructure:"store"`
	Server      ServerConfig      `mapstructure:"server"`
	Comms       CommsConfig       `mapstructure:"comms"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Agents      AgentsConfig      `mapstructure:"agents"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Conflict    ConflictConfig    `mapstructure:"conflict"`
	Learning    LearningConfig    `mapstructure:"learning"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Path is the SQLite database file. Empty means the default
	// location under the user data directory.
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	// Addr is the listen address for the API server.
	Addr string `mapstructure:"addr"`
	// AuthToken, when set, is required as a bearer token on API calls.
	AuthToken string `mapstructure:"auth_token"`
}

// CommsConfig holds message delivery settings.
type CommsConfig struct {
	InboxSize     int           `mapstructure:"inbox_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	AckTimeout    time.Duration `mapstructure:"ack_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// TierConfig holds capacity and expiry for one memory tier.
type TierConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MemoryConfig holds per-tier memory settings.
type MemoryConfig struct {
	Working   TierConfig `mapstructure:"working"`
	ShortTerm TierConfig `mapstructure:"short_term"`
	LongTerm  TierConfig `mapstructure:"long_term"`
	Shared    TierConfig `mapstructure:"shared"`
	// CleanupInterval is how often expired records are swept.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// AgentsConfig holds agent registry settings.
type AgentsConfig struct {
	MaxAgentsPerType   int `mapstructure:"max_agents_per_type"`
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	MaxMemoryEntries   int `mapstructure:"max_memory_entries"`
}

// CoordinatorConfig holds task scheduling settings.
type CoordinatorConfig struct {
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
}

// ConflictConfig holds conflict resolution settings.
type ConflictConfig struct {
	EscalationTimeout time.Duration `mapstructure:"escalation_timeout"`
	DeadlockThreshold time.Duration `mapstructure:"deadlock_threshold"`
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
}

// LearningConfig holds learning engine settings.
type LearningConfig struct {
	WindowSize        int           `mapstructure:"window_size"`
	MinSamples        int           `mapstructure:"min_samples"`
	PatternConfidence float64       `mapstructure:"pattern_confidence"`
	MaxPenalty        float64       `mapstructure:"max_penalty"`
	PatternInterval   time.Duration `mapstructure:"pattern_interval"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (SWARM_ prefix, e.g. SWARM_SERVER_ADDR)
// 2. Project config (.swarm.yaml in current directory or parent)
// 3. User config (~/.config/swarm/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Server.AuthToken = os.ExpandEnv(cfg.Server.AuthToken)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Server.AuthToken = os.ExpandEnv(cfg.Server.AuthToken)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("store.path", cfg.Store.Path)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.auth_token", cfg.Server.AuthToken)
	v.Set("comms.inbox_size", cfg.Comms.InboxSize)
	v.Set("comms.max_retries", cfg.Comms.MaxRetries)
	v.Set("comms.retry_backoff", cfg.Comms.RetryBackoff.String())
	v.Set("comms.ack_timeout", cfg.Comms.AckTimeout.String())
	v.Set("comms.sweep_interval", cfg.Comms.SweepInterval.String())
	v.Set("memory.working.capacity", cfg.Memory.Working.Capacity)
	v.Set("memory.working.ttl", cfg.Memory.Working.TTL.String())
	v.Set("memory.short_term.capacity", cfg.Memory.ShortTerm.Capacity)
	v.Set("memory.short_term.ttl", cfg.Memory.ShortTerm.TTL.String())
	v.Set("memory.long_term.capacity", cfg.Memory.LongTerm.Capacity)
	v.Set("memory.long_term.ttl", cfg.Memory.LongTerm.TTL.String())
	v.Set("memory.shared.capacity", cfg.Memory.Shared.Capacity)
	v.Set("memory.shared.ttl", cfg.Memory.Shared.TTL.String())
	v.Set("memory.cleanup_interval", cfg.Memory.CleanupInterval.String())
	v.Set("agents.max_agents_per_type", cfg.Agents.MaxAgentsPerType)
	v.Set("agents.max_concurrent_tasks", cfg.Agents.MaxConcurrentTasks)
	v.Set("agents.max_memory_entries", cfg.Agents.MaxMemoryEntries)
	v.Set("coordinator.task_timeout", cfg.Coordinator.TaskTimeout.String())
	v.Set("coordinator.max_retries", cfg.Coordinator.MaxRetries)
	v.Set("coordinator.schedule_interval", cfg.Coordinator.ScheduleInterval.String())
	v.Set("conflict.escalation_timeout", cfg.Conflict.EscalationTimeout.String())
	v.Set("conflict.deadlock_threshold", cfg.Conflict.DeadlockThreshold.String())
	v.Set("conflict.scan_interval", cfg.Conflict.ScanInterval.String())
	v.Set("learning.window_size", cfg.Learning.WindowSize)
	v.Set("learning.min_samples", cfg.Learning.MinSamples)
	v.Set("learning.pattern_confidence", cfg.Learning.PatternConfidence)
	v.Set("learning.max_penalty", cfg.Learning.MaxPenalty)
	v.Set("learning.pattern_interval", cfg.Learning.PatternInterval.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DefaultStorePath returns the default SQLite database location.
func DefaultStorePath() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "swarm", "swarm.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".swarm", "swarm.db")
	}
	return filepath.Join(home, ".local", "share", "swarm", "swarm.db")
}

// bindEnv wires SWARM_-prefixed environment variables to config keys.
func bindEnv(v *viper.Viper) {
	v.AutomaticEnv()
	v.SetEnvPrefix("SWARM")

	v.BindEnv("store.path", "SWARM_STORE_PATH")
	v.BindEnv("server.addr", "SWARM_SERVER_ADDR")
	v.BindEnv("server.auth_token", "SWARM_API_TOKEN")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "")

	v.SetDefault("server.addr", "127.0.0.1:7420")
	v.SetDefault("server.auth_token", "")

	v.SetDefault("comms.inbox_size", 64)
	v.SetDefault("comms.max_retries", 3)
	v.SetDefault("comms.retry_backoff", "200ms")
	v.SetDefault("comms.ack_timeout", "5s")
	v.SetDefault("comms.sweep_interval", "250ms")

	v.SetDefault("memory.working.capacity", 50)
	v.SetDefault("memory.working.ttl", "15m")
	v.SetDefault("memory.short_term.capacity", 200)
	v.SetDefault("memory.short_term.ttl", "2h")
	v.SetDefault("memory.long_term.capacity", 1000)
	v.SetDefault("memory.long_term.ttl", "0")
	v.SetDefault("memory.shared.capacity", 500)
	v.SetDefault("memory.shared.ttl", "24h")
	v.SetDefault("memory.cleanup_interval", "1m")

	v.SetDefault("agents.max_agents_per_type", 10)
	v.SetDefault("agents.max_concurrent_tasks", 3)
	v.SetDefault("agents.max_memory_entries", 50)

	v.SetDefault("coordinator.task_timeout", "2m")
	v.SetDefault("coordinator.max_retries", 1)
	v.SetDefault("coordinator.schedule_interval", "500ms")

	v.SetDefault("conflict.escalation_timeout", "30s")
	v.SetDefault("conflict.deadlock_threshold", "5s")
	v.SetDefault("conflict.scan_interval", "1s")

	v.SetDefault("learning.window_size", 20)
	v.SetDefault("learning.min_samples", 5)
	v.SetDefault("learning.pattern_confidence", 0.7)
	v.SetDefault("learning.max_penalty", 0.5)
	v.SetDefault("learning.pattern_interval", "30s")
}

// getUserConfigDir returns the XDG config directory for the orchestrator.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "swarm")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "swarm")
	}
	return filepath.Join(home, ".config", "swarm")
}

// findProjectConfig searches for .swarm.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".swarm.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:7420",
		},
		Comms: CommsConfig{
			InboxSize:     64,
			MaxRetries:    3,
			RetryBackoff:  200 * time.Millisecond,
			AckTimeout:    5 * time.Second,
			SweepInterval: 250 * time.Millisecond,
		},
		Memory: MemoryConfig{
			Working:         TierConfig{Capacity: 50, TTL: 15 * time.Minute},
			ShortTerm:       TierConfig{Capacity: 200, TTL: 2 * time.Hour},
			LongTerm:        TierConfig{Capacity: 1000},
			Shared:          TierConfig{Capacity: 500, TTL: 24 * time.Hour},
			CleanupInterval: time.Minute,
		},
		Agents: AgentsConfig{
			MaxAgentsPerType:   10,
			MaxConcurrentTasks: 3,
			MaxMemoryEntries:   50,
		},
		Coordinator: CoordinatorConfig{
			TaskTimeout:      2 * time.Minute,
			MaxRetries:       1,
			ScheduleInterval: 500 * time.Millisecond,
		},
		Conflict: ConflictConfig{
			EscalationTimeout: 30 * time.Second,
			DeadlockThreshold: 5 * time.Second,
			ScanInterval:      time.Second,
		},
		Learning: LearningConfig{
			WindowSize:        20,
			MinSamples:        5,
			PatternConfidence: 0.7,
			MaxPenalty:        0.5,
			PatternInterval:   30 * time.Second,
		},
	}
}
