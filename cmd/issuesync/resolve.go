package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"issuesync/internal/suggest"
	isync "issuesync/internal/sync"
	"issuesync/internal/ui"
)

var resolveCmd = &cobra.Command{
	Use:     "resolve",
	GroupID: "sync",
	Short:   "Interactively resolve sync conflicts",
	Long: `Run a sync cycle and walk through each detected conflict interactively.

For every conflicting field you choose to keep the local value (queued for
push), keep the remote value (written to the local record), or skip the
conflict for later. With --suggest an AI-generated recommendation is shown
for each conflict (requires ANTHROPIC_API_KEY).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ui.Interactive() {
			return fmt.Errorf("resolve requires an interactive terminal")
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing to find conflicts...\n", ui.RenderAccent("🔄"))
		res := app.engine.Sync(ctx)

		if len(res.Conflicts) == 0 {
			fmt.Printf("%s No conflicts\n", ui.RenderPass("✓"))
			return nil
		}

		var advisor *suggest.Advisor
		if withSuggest, _ := cmd.Flags().GetBool("suggest"); withSuggest {
			advisor = suggest.New("", app.cfg.Suggest.Model)
		}

		fmt.Printf("%s %d conflict(s) to resolve\n\n", ui.RenderWarn("⚠"), len(res.Conflicts))

		var resolved, skipped int
		for _, c := range res.Conflicts {
			choice, err := promptConflict(ctx, c, advisor)
			if err != nil {
				return err
			}

			switch choice {
			case "local":
				app.queue.Add(c.Key, map[string]any{c.Field: c.LocalValue})
				fmt.Printf("%s Queued local value of %s.%s for push\n", ui.RenderPass("✓"), c.Key, c.Field)
				resolved++

			case "remote":
				if err := applyRemoteValue(app, c); err != nil {
					fmt.Printf("%s Failed to apply remote value: %v\n", ui.RenderErr("✗"), err)
					continue
				}
				fmt.Printf("%s Kept remote value of %s.%s\n", ui.RenderPass("✓"), c.Key, c.Field)
				resolved++

			default:
				skipped++
			}
		}

		fmt.Printf("\nResolved %d, skipped %d\n", resolved, skipped)
		return nil
	},
}

// promptConflict asks the user how to resolve one conflict.
func promptConflict(ctx context.Context, c isync.Conflict, advisor *suggest.Advisor) (string, error) {
	fmt.Println(ui.RenderHeader(fmt.Sprintf("%s.%s", c.Key, c.Field)))
	fmt.Printf("  Local  (%s): %v\n", c.LocalUpdatedAt.Format("2006-01-02 15:04"), c.LocalValue)
	fmt.Printf("  Remote (%s): %v\n", c.RemoteUpdatedAt.Format("2006-01-02 15:04"), c.RemoteValue)

	if advisor != nil {
		hint, err := advisor.Suggest(ctx, c)
		if err != nil {
			fmt.Printf("  %s\n", ui.RenderDim(fmt.Sprintf("(suggestion unavailable: %v)", err)))
		} else {
			fmt.Printf("  %s %s\n", ui.RenderAccent("Suggestion:"), hint)
		}
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Keep which value?").
			Options(
				huh.NewOption("Local (push to remote)", "local"),
				huh.NewOption("Remote (overwrite local)", "remote"),
				huh.NewOption("Skip for now", "skip"),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return choice, nil
}

// applyRemoteValue writes the remote side of a conflict into the local
// record.
func applyRemoteValue(app *app, c isync.Conflict) error {
	rec, found, err := app.store.Get(c.Key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("record %s no longer exists locally", c.Key)
	}

	updated := rec.Clone()
	updated.Fields[c.Field] = c.RemoteValue
	updated.UpdatedAt = c.RemoteUpdatedAt
	return app.store.Put(updated)
}

func init() {
	resolveCmd.Flags().Bool("suggest", false, "Show AI-generated resolution suggestions")
	rootCmd.AddCommand(resolveCmd)
}
