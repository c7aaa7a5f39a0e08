package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"issuesync/internal/remote"
	"issuesync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one synchronization cycle",
	Long: `Run one full synchronization cycle:

  1. Pulls remote records matching the configured query
  2. Reconciles each against local state, detecting field conflicts
  3. Applies the configured conflict resolution policy
  4. Pushes queued local changes back to the remote (if bidirectional)

Conflicts under the "manual" policy are reported but not resolved; use
'issuesync resolve' to work through them interactively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if !app.cfg.Enabled {
			fmt.Printf("%s Synchronization is disabled in configuration\n", ui.RenderWarn("⚠"))
			return nil
		}

		if since, _ := cmd.Flags().GetString("updated-since"); since != "" {
			t, err := remote.ParseTimeExpr(since, time.Now())
			if err != nil {
				return fmt.Errorf("invalid --updated-since value: %w", err)
			}
			app.engine.SetUpdatedSince(t)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing...\n", ui.RenderAccent("🔄"))
		res := app.engine.Sync(ctx)

		if res.Success {
			fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), res.Duration.Round(time.Millisecond))
		} else {
			fmt.Printf("%s Sync finished with errors in %v\n", ui.RenderErr("✗"), res.Duration.Round(time.Millisecond))
		}
		fmt.Printf("   Synced: %d\n", res.Synced)
		fmt.Printf("   Failed: %d\n", res.Failed)

		if len(res.Conflicts) > 0 {
			fmt.Printf("   %s %d conflict(s):\n", ui.RenderWarn("⚠"), len(res.Conflicts))
			for _, c := range res.Conflicts {
				fmt.Printf("     %s.%s  local=%v  remote=%v\n",
					c.Key, c.Field, c.LocalValue, c.RemoteValue)
			}
		}
		for _, msg := range res.Errors {
			fmt.Printf("   %s %s\n", ui.RenderErr("error:"), msg)
		}

		if !res.Success {
			return fmt.Errorf("sync completed with %d error(s)", len(res.Errors))
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().String("updated-since", "", `Only pull records updated after this time (e.g. "2026-08-01", "last monday")`)
	rootCmd.AddCommand(syncCmd)
}
