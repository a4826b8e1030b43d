package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/swarm/internal/api"
	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/orchestrator"
)

var (
	serveConfigPath string
	serveAddr       string
	serveWatch      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and its HTTP API",
	Long: `Start the swarm orchestrator: open the database, rehydrate
persisted agents and memory, launch the scheduling and maintenance
loops, and serve the JSON API.

The server runs until interrupted. With --watch, the config file is
watched for changes; note that most settings only apply on restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Config file path (default: XDG lookup)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address override")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Watch the config file for changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	var err error
	if serveConfigPath != "" {
		cfg, err = config.LoadFromPath(serveConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	orch.Start()
	defer orch.Stop()

	if serveWatch {
		watchPath := serveConfigPath
		if watchPath == "" {
			watchPath = config.GetUserConfigPath()
		}
		watcher, err := config.Watch(watchPath)
		if err != nil {
			log.Printf("[serve] config watch unavailable: %v", err)
		} else {
			defer watcher.Close()
			go func() {
				for range watcher.Updates() {
					log.Printf("[serve] config changed on disk; restart to apply")
				}
			}()
		}
	}

	server := api.NewServer(orch, cfg.Server)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("[serve] received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
