// Command avworker runs one transcode worker: it registers with a
// coordinator, heartbeats, and pulls and executes assignments until
// stopped (spec §4.D, §6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gwlsn/avfarm/internal/config"
	"github.com/gwlsn/avfarm/internal/logger"
	"github.com/gwlsn/avfarm/internal/workerclient"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "avworker",
		Short: "avfarm transcode worker daemon",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "/config/avworker.yaml", "path to avworker.yaml")
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "register and start pulling assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg, err := config.LoadWorkerConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

	w := workerclient.New(workerclient.Config{
		CoordinatorURL:    cfg.CoordinatorURL,
		WorkerID:          workerID,
		Hostname:          hostname,
		Capabilities:      cfg.Capabilities,
		WorkDir:           cfg.WorkDir,
		FFprobePath:       cfg.FFprobePath,
		FFmpegPath:        cfg.FFmpegPath,
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return w.Run(ctx)
}
