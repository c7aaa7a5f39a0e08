package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"issuesync/internal/config"
	"issuesync/internal/events"
	"issuesync/internal/mapping"
	"issuesync/internal/queue"
	"issuesync/internal/ratelimit"
	"issuesync/internal/remote"
	"issuesync/internal/retry"
	"issuesync/internal/store"
	isync "issuesync/internal/sync"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "issuesync",
	Short: "Bidirectional synchronization between a remote issue tracker and local records",
	Long: `issuesync keeps a directory of local issue records in sync with a remote
issue tracker.

It pulls remote records matching a configured query, detects field-level
conflicts against local edits, applies the configured resolution policy,
and pushes queued local changes back with rate limiting, retries, and
circuit breaking.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./issuesync.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "queue", Title: "Change queue:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

// app bundles the wired components behind the CLI commands.
type app struct {
	cfg     *config.Config
	bus     *events.Broadcaster
	store   *store.Store
	queue   *queue.Queue
	qstore  *queue.BoltStore
	limiter *ratelimit.Adaptive
	retrier *retry.Manager
	engine  *isync.Engine
	logger  *log.Logger
}

// newApp loads configuration and wires every component. Callers must Close.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr, "[issuesync] ", log.LstdFlags)
	bus := events.NewBroadcaster()

	st, err := store.Open(cfg.Paths.RecordsDir, cfg.Paths.IndexPath, logger)
	if err != nil {
		return nil, err
	}

	qstore, err := queue.OpenBoltStore(cfg.Paths.QueuePath)
	if err != nil {
		st.Close()
		return nil, err
	}

	q := queue.New(qstore, queue.Options{
		MaxRetries: cfg.Retry.MaxRetries,
		Bus:        bus,
		Logger:     logger,
	})

	acfg := ratelimit.DefaultAdaptiveConfig()
	limiter, err := ratelimit.NewAdaptive(cfg.RateLimit.MaxRequests, cfg.RateLimit.TimeWindow, acfg, bus)
	if err != nil {
		qstore.Close()
		st.Close()
		return nil, err
	}

	retrier := retry.New(retry.Config{
		MaxRetries:        cfg.Retry.MaxRetries,
		BaseDelay:         cfg.Retry.BaseDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		Jitter:            cfg.Retry.Jitter,
		BreakerThreshold:  cfg.Retry.BreakerThreshold,
		BreakerTimeout:    cfg.Retry.BreakerTimeout,
	}, bus, logger)

	client, err := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, remote.WithLogger(logger))
	if err != nil {
		qstore.Close()
		st.Close()
		return nil, err
	}

	var wired remote.Client = client
	if cfg.Paths.MappingPath != "" {
		mapper, err := mapping.Load(cfg.Paths.MappingPath)
		if err != nil {
			qstore.Close()
			st.Close()
			return nil, err
		}
		wired = mapping.WrapClient(client, mapper)
	}

	var outcomes isync.Outcomes
	if cfg.RateLimit.Adaptive {
		outcomes = limiter
	}

	engine, err := isync.NewEngine(isync.Options{
		Remote:   wired,
		Local:    st,
		Queue:    q,
		Limiter:  limiter,
		Retrier:  retrier,
		Outcomes: outcomes,
		Bus:      bus,
		Logger:   logger,
		Config: isync.Config{
			Query: remote.Query{
				JQL:        cfg.Query,
				MaxResults: cfg.MaxResults,
			},
			BatchSize:     cfg.BatchSize,
			Bidirectional: cfg.Bidirectional,
			Policy:        isync.Policy(cfg.ConflictResolution),
		},
	})
	if err != nil {
		qstore.Close()
		st.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		bus:     bus,
		store:   st,
		queue:   q,
		qstore:  qstore,
		limiter: limiter,
		retrier: retrier,
		engine:  engine,
		logger:  logger,
	}, nil
}

// Close releases every resource newApp opened.
func (a *app) Close() {
	a.bus.Close()
	if err := a.qstore.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing queue store: %v\n", err)
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing record store: %v\n", err)
	}
}
