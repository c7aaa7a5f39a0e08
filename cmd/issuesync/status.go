package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	isync "issuesync/internal/sync"
	"issuesync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local store, queue, and rate limiter status",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		total, dirty, err := app.store.Index().Stats()
		if err != nil {
			return fmt.Errorf("failed to read index stats: %w", err)
		}

		fmt.Println(ui.RenderHeader("Local records"))
		fmt.Printf("   Directory: %s\n", app.store.Dir())
		fmt.Printf("   Records:   %d\n", total)
		fmt.Printf("   Unsynced:  %d\n", dirty)

		qs := app.queue.Stats()
		fmt.Println(ui.RenderHeader("Change queue"))
		fmt.Printf("   Total:      %d\n", qs.Total)
		fmt.Printf("   Pending:    %d\n", qs.Pending)
		fmt.Printf("   In backoff: %d\n", qs.InBackoff)
		fmt.Printf("   Failed:     %d\n", qs.Failed)

		ls := app.limiter.Stats()
		fmt.Println(ui.RenderHeader("Rate limiter"))
		fmt.Printf("   Ceiling:  %d requests / %v\n", ls.MaxRequests, app.cfg.RateLimit.TimeWindow)
		fmt.Printf("   Allowed:  %d\n", ls.Allowed)
		fmt.Printf("   Blocked:  %d\n", ls.Blocked)

		fmt.Println(ui.RenderHeader("Circuit breakers"))
		for _, op := range []string{isync.OpSearch, isync.OpUpdate} {
			bs := app.retrier.BreakerStats(op)
			state := ui.RenderPass("closed")
			if bs.Open {
				state = fmt.Sprintf("%s (since %s)", ui.RenderErr("open"),
					bs.OpenedAt.Format(time.RFC3339))
			}
			fmt.Printf("   %-16s %s  failures=%d\n", op, state, bs.FailureCount)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
