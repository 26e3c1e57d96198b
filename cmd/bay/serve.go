package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/baylabs/bay/pkg/adapter"
	"github.com/baylabs/bay/pkg/api"
	"github.com/baylabs/bay/pkg/config"
	"github.com/baylabs/bay/pkg/driver"
	"github.com/baylabs/bay/pkg/events"
	"github.com/baylabs/bay/pkg/gc"
	"github.com/baylabs/bay/pkg/history"
	"github.com/baylabs/bay/pkg/idempotency"
	"github.com/baylabs/bay/pkg/log"
	"github.com/baylabs/bay/pkg/manager"
	"github.com/baylabs/bay/pkg/router"
	"github.com/baylabs/bay/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Bay API server",
	Long: `Start the HTTP API server together with the background garbage
collector. The database schema is migrated on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
		logger := log.WithComponent("main")

		st, err := store.New(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer st.Close()
		if err := st.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate schema: %v", err)
		}

		profiles, err := config.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return err
		}

		ctx := context.Background()
		drv, err := driver.New(ctx, &cfg.Driver)
		if err != nil {
			return fmt.Errorf("failed to initialize %s driver: %v", cfg.Driver.Type, err)
		}
		defer drv.Close()

		broker := events.Init()
		defer broker.Stop()
		go func() {
			eventLog := log.WithComponent("events")
			sub := broker.Subscribe()
			for event := range sub {
				eventLog.Debug().Str("type", string(event.Type)).
					Fields(map[string]any{"metadata": event.Metadata}).Msg("Lifecycle event")
			}
		}()

		pool := adapter.NewPool(0, 0)
		cargos := manager.NewCargoManager(st, drv, cfg.Instance)
		sessions := manager.NewSessionManager(st, drv, pool, profiles, cfg.Readiness, cfg.Instance)
		sandboxes := manager.NewSandboxManager(st, sessions, cargos, profiles)
		rtr := router.New(sandboxes, sessions, pool, st)
		idem := idempotency.New(st, cfg.Idempotency.TTL)
		hist := history.New(st)
		collector := gc.New(st, drv, sandboxes, idem, cfg.GC, cfg.Instance)

		gcCtx, cancelGC := context.WithCancel(ctx)
		collector.Start(gcCtx)
		defer cancelGC()

		server := api.NewServer(api.Deps{
			Config:    cfg,
			Sandboxes: sandboxes,
			Cargos:    cargos,
			Router:    rtr,
			History:   hist,
			Idem:      idem,
			Collector: collector,
			Profiles:  profiles,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Run()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case err := <-errCh:
			if err != nil {
				return err
			}
			return nil
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		collector.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down cleanly: %v", err)
		}
		logger.Info().Msg("Shutdown complete")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

		st, err := store.New(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer st.Close()
		if err := st.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate schema: %v", err)
		}

		fmt.Println("✓ Schema migrated")
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc TASK",
	Short: "Run one garbage collection task and exit",
	Long: fmt.Sprintf(`Run a single GC task immediately. Valid tasks:

  %s
  %s
  %s
  %s
  %s`,
		gc.TaskIdleSessions, gc.TaskExpiredSandboxes, gc.TaskOrphanCargos,
		gc.TaskOrphanContainers, gc.TaskIdempotency),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})

		st, err := store.New(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer st.Close()

		profiles, err := config.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return err
		}

		ctx := context.Background()
		drv, err := driver.New(ctx, &cfg.Driver)
		if err != nil {
			return fmt.Errorf("failed to initialize %s driver: %v", cfg.Driver.Type, err)
		}
		defer drv.Close()

		pool := adapter.NewPool(0, 0)
		cargos := manager.NewCargoManager(st, drv, cfg.Instance)
		sessions := manager.NewSessionManager(st, drv, pool, profiles, cfg.Readiness, cfg.Instance)
		sandboxes := manager.NewSandboxManager(st, sessions, cargos, profiles)
		idem := idempotency.New(st, cfg.Idempotency.TTL)
		collector := gc.New(st, drv, sandboxes, idem, cfg.GC, cfg.Instance)

		reclaimed, err := collector.RunTask(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Task %s reclaimed %d resources\n", args[0], reclaimed)
		return nil
	},
}
