package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"issuesync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "queue",
	Short:   "Inspect and manage the outbound change queue",
	Long: `Inspect and manage the queue of local changes awaiting push.

Changes that exhaust their retries stay in the queue marked as failed so
they can be inspected and retried manually.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		changes := app.queue.All()
		if len(changes) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}

		fmt.Println(ui.RenderHeader("Queued changes"))
		for _, c := range changes {
			marker := ui.RenderAccent("•")
			if c.Exhausted() {
				marker = ui.RenderErr("✗")
			} else if c.RetryCount > 0 {
				marker = ui.RenderWarn("⟳")
			}
			fmt.Printf("%s %s  fields=%d  retries=%d/%d  queued %s\n",
				marker, c.Key, len(c.Fields), c.RetryCount, c.MaxRetries,
				c.CreatedAt.Format(time.RFC3339))
			if c.LastError != "" {
				fmt.Printf("    %s\n", ui.RenderDim(c.LastError))
			}
		}
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		stats := app.queue.Stats()
		fmt.Println(ui.RenderHeader("Queue"))
		fmt.Printf("   Total:      %d\n", stats.Total)
		fmt.Printf("   Pending:    %d\n", stats.Pending)
		fmt.Printf("   In backoff: %d\n", stats.InBackoff)
		fmt.Printf("   Failed:     %d\n", stats.Failed)
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset failed changes so the next sync retries them",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		n := app.queue.RetryFailed()
		fmt.Printf("%s Reset %d failed change(s)\n", ui.RenderPass("✓"), n)
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all queued changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		failedOnly, _ := cmd.Flags().GetBool("failed")
		if failedOnly {
			n := app.queue.ClearFailed()
			fmt.Printf("%s Removed %d failed change(s)\n", ui.RenderPass("✓"), n)
			return nil
		}

		n := app.queue.Stats().Total
		app.queue.Clear()
		fmt.Printf("%s Removed %d change(s)\n", ui.RenderPass("✓"), n)
		return nil
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the queue as YAML",
	Long: `Write the full queue contents to stdout (or --output) as YAML, for
inspection or archival before clearing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		out := os.Stdout
		if path, _ := cmd.Flags().GetString("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()

		if err := enc.Encode(app.queue.All()); err != nil {
			return fmt.Errorf("failed to encode queue: %w", err)
		}
		return nil
	},
}

func init() {
	queueClearCmd.Flags().Bool("failed", false, "Only remove changes that exhausted their retries")
	queueExportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	queueCmd.AddCommand(queueListCmd, queueStatsCmd, queueRetryCmd, queueClearCmd, queueExportCmd)
	rootCmd.AddCommand(queueCmd)
}
