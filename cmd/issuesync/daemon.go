package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"issuesync/internal/daemon"
	"issuesync/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the background synchronization daemon.

The daemon watches the records directory for local edits, queues changed
fields for push, and runs a full sync cycle on the configured interval.
With --dashboard it also serves a WebSocket endpoint broadcasting sync,
queue, conflict, and circuit breaker events in real time.

Example usage:
  issuesync daemon                  # Watch and sync on the configured interval
  issuesync daemon --dashboard      # Also serve the observability dashboard`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if !app.cfg.Enabled {
			return fmt.Errorf("synchronization is disabled in configuration")
		}

		logger := app.logger
		if app.cfg.Log.File != "" {
			rotator := &lumberjack.Logger{
				Filename:   app.cfg.Log.File,
				MaxSize:    app.cfg.Log.MaxSizeMB,
				MaxBackups: app.cfg.Log.MaxBackups,
				MaxAge:     app.cfg.Log.MaxAgeDays,
				Compress:   true,
			}
			defer rotator.Close()
			logger = log.New(io.MultiWriter(os.Stderr, rotator), "[daemon] ", log.LstdFlags)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		if withDashboard || app.cfg.Dashboard.Enabled {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   app.cfg.Dashboard.Port,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			server.Attach(app.bus)
			defer func() {
				if err := server.Stop(); err != nil {
					logger.Printf("Dashboard shutdown error: %v", err)
				}
			}()
			fmt.Printf("Dashboard: ws://localhost:%d/ws\n", app.cfg.Dashboard.Port)
		}

		d := daemon.New(app.store, app.queue, app.engine, daemon.Config{
			SyncInterval:   app.cfg.SyncInterval,
			DebounceWindow: app.cfg.Daemon.DebounceWindow,
			SyncOnStart:    app.cfg.Daemon.SyncOnStart,
			Logger:         logger,
			Bus:            app.bus,
		})

		fmt.Printf("Daemon running (records=%s interval=%v). Press Ctrl+C to stop.\n",
			app.cfg.Paths.RecordsDir, app.cfg.SyncInterval)

		return d.Run(ctx)
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the WebSocket dashboard alongside the daemon")
	rootCmd.AddCommand(daemonCmd)
}
