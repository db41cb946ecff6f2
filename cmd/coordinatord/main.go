// Command coordinatord runs the avfarm coordinator: the Store, Scheduler,
// WorkerRegistry, Lifecycle, EventBus, and the HTTP surface workers and
// operators talk to (spec §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/gwlsn/avfarm/internal/api"
	"github.com/gwlsn/avfarm/internal/config"
	"github.com/gwlsn/avfarm/internal/eventbus"
	"github.com/gwlsn/avfarm/internal/lifecycle"
	"github.com/gwlsn/avfarm/internal/logger"
	"github.com/gwlsn/avfarm/internal/registry"
	"github.com/gwlsn/avfarm/internal/scan"
	"github.com/gwlsn/avfarm/internal/scheduler"
	"github.com/gwlsn/avfarm/internal/store"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "coordinatord",
		Short: "avfarm coordinator daemon",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "/config/coordinatord.yaml", "path to coordinatord.yaml")

	root.AddCommand(serveCmd())
	root.AddCommand(adminCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the coordinator HTTP server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.LoadCoordinatorConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	log := logger.Component("coordinatord")

	st, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg := registry.New(st, cfg.LivenessTimeout, cfg.SweepInterval)
	sch := scheduler.New(st, reg, "oldest_mtime", cfg.PinGrace)
	bus := eventbus.New(cfg.EventBusBacklog)
	lc := lifecycle.New(st, bus, cfg.MaxAttempts, cfg.MinSavingsPercent)
	sc := scan.New(st, cfg.MediaRoots)

	srv := api.New(st, reg, sch, lc, bus, sc, cfg)
	srv.SetTestingMode(cfg.TestingMode)
	srv.SetMinSavingsPercent(cfg.MinSavingsPercent)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sweepStop := make(chan struct{})
	go reg.RunSweeper(sweepStop)
	defer close(sweepStop)

	go runStaleProcessingSweeper(ctx, lc)
	go runDailyRollup(ctx, st, log)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runStaleProcessingSweeper periodically force-fails processing records
// that have gone silent past the progress-silence window (spec §5).
func runStaleProcessingSweeper(ctx context.Context, lc *lifecycle.Lifecycle) {
	ticker := time.NewTicker(lifecycle.DefaultProgressSilence / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lc.ReleaseStalled()
		}
	}
}

// runDailyRollup folds yesterday's counters into stats_daily once a day at
// 00:05, using robfig/cron so the schedule reads the same way an operator's
// crontab would.
func runDailyRollup(ctx context.Context, st store.Store, log interface{ Warn(string, ...any) }) {
	c := cron.New()
	c.AddFunc("5 0 * * *", func() {
		day := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
		if err := st.RollupDaily(day); err != nil {
			log.Warn("daily rollup failed", "day", day, "error", err)
		}
	})
	c.Start()
	<-ctx.Done()
	c.Stop()
}
