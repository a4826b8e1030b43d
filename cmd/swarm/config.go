package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/swarm/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify swarm configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/swarm/config.yaml
Project-specific overrides can be placed in .swarm.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			if args[0] == "export" {
				exportConfig(cfg)
				return
			}
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// exportConfig dumps the effective configuration as YAML, suitable for
// seeding a config file.
func exportConfig(cfg *config.Config) {
	doc := map[string]any{
		"store": map[string]any{
			"path": cfg.Store.Path,
		},
		"server": map[string]any{
			"addr":       cfg.Server.Addr,
			"auth_token": cfg.Server.AuthToken,
		},
		"comms": map[string]any{
			"inbox_size":     cfg.Comms.InboxSize,
			"max_retries":    cfg.Comms.MaxRetries,
			"retry_backoff":  cfg.Comms.RetryBackoff.String(),
			"ack_timeout":    cfg.Comms.AckTimeout.String(),
			"sweep_interval": cfg.Comms.SweepInterval.String(),
		},
		"memory": map[string]any{
			"working":          map[string]any{"capacity": cfg.Memory.Working.Capacity, "ttl": cfg.Memory.Working.TTL.String()},
			"short_term":       map[string]any{"capacity": cfg.Memory.ShortTerm.Capacity, "ttl": cfg.Memory.ShortTerm.TTL.String()},
			"long_term":        map[string]any{"capacity": cfg.Memory.LongTerm.Capacity, "ttl": cfg.Memory.LongTerm.TTL.String()},
			"shared":           map[string]any{"capacity": cfg.Memory.Shared.Capacity, "ttl": cfg.Memory.Shared.TTL.String()},
			"cleanup_interval": cfg.Memory.CleanupInterval.String(),
		},
		"agents": map[string]any{
			"max_agents_per_type":  cfg.Agents.MaxAgentsPerType,
			"max_concurrent_tasks": cfg.Agents.MaxConcurrentTasks,
			"max_memory_entries":   cfg.Agents.MaxMemoryEntries,
		},
		"coordinator": map[string]any{
			"task_timeout":      cfg.Coordinator.TaskTimeout.String(),
			"max_retries":       cfg.Coordinator.MaxRetries,
			"schedule_interval": cfg.Coordinator.ScheduleInterval.String(),
		},
		"conflict": map[string]any{
			"escalation_timeout": cfg.Conflict.EscalationTimeout.String(),
			"deadlock_threshold": cfg.Conflict.DeadlockThreshold.String(),
			"scan_interval":      cfg.Conflict.ScanInterval.String(),
		},
		"learning": map[string]any{
			"window_size":        cfg.Learning.WindowSize,
			"min_samples":        cfg.Learning.MinSamples,
			"pattern_confidence": cfg.Learning.PatternConfidence,
			"max_penalty":        cfg.Learning.MaxPenalty,
			"pattern_interval":   cfg.Learning.PatternInterval.String(),
		},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Println("Configuration:")
	fmt.Printf("  server.addr:                  %s\n", cfg.Server.Addr)
	fmt.Printf("  server.auth_token:            %s\n", config.MaskToken(cfg.Server.AuthToken))
	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = config.DefaultStorePath() + " (default)"
	}
	fmt.Printf("  store.path:                   %s\n", storePath)
	fmt.Printf("  comms.inbox_size:             %d\n", cfg.Comms.InboxSize)
	fmt.Printf("  comms.max_retries:            %d\n", cfg.Comms.MaxRetries)
	fmt.Printf("  coordinator.task_timeout:     %s\n", cfg.Coordinator.TaskTimeout)
	fmt.Printf("  coordinator.max_retries:      %d\n", cfg.Coordinator.MaxRetries)
	fmt.Printf("  conflict.escalation_timeout:  %s\n", cfg.Conflict.EscalationTimeout)
	fmt.Printf("  learning.window_size:         %d\n", cfg.Learning.WindowSize)
	fmt.Printf("  learning.pattern_confidence:  %.2f\n", cfg.Learning.PatternConfidence)
	fmt.Println()
	fmt.Printf("Config file: %s\n", config.GetUserConfigPath())
	if project := config.GetProjectConfigPath(); project != "" {
		fmt.Printf("Project overrides: %s\n", project)
	}
}

// displayConfigKey prints one configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	switch key {
	case "server.addr":
		fmt.Println(cfg.Server.Addr)
	case "server.auth_token":
		fmt.Println(config.MaskToken(cfg.Server.AuthToken))
	case "store.path":
		fmt.Println(cfg.Store.Path)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
}

// setConfigKey writes one configuration value to the user config file.
func setConfigKey(cfg *config.Config, key, value string) {
	switch key {
	case "server.addr":
		cfg.Server.Addr = value
	case "server.auth_token":
		cfg.Server.AuthToken = value
	case "store.path":
		cfg.Store.Path = value
	default:
		fmt.Fprintf(os.Stderr, "Unknown or read-only config key: %s\n", key)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s\n", key)
}
