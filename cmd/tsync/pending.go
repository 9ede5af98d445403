package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/ui"
)

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "sync",
	Short:   "Inspect or discard writes waiting to sync",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued writes in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx, sessionOptions{})
		if err != nil {
			return err
		}
		defer sess.Close()

		queued, err := sess.engine.Manager().PendingActions(ctx)
		if err != nil {
			return err
		}
		if structured() {
			return printStructured(queued)
		}

		rows := make([][]string, 0, len(queued))
		for _, a := range queued {
			rows = append(rows, []string{
				strconv.FormatInt(a.ID, 10),
				a.Kind,
				strconv.Itoa(a.RetryCount),
				out.Since(a.EnqueuedAt),
				a.IdempotencyKey,
			})
		}
		out.Table([]string{"ID", "KIND", "RETRIES", "QUEUED", "KEY"}, rows, "No writes waiting to sync")
		return nil
	},
}

var pendingClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued write",
	Long: `Discard every queued write without sending it.

Changes made offline that have not synced are lost. Cached reads are
refreshed from the server on next access.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		ctx := cmd.Context()
		sess, err := openSession(ctx, sessionOptions{})
		if err != nil {
			return err
		}
		defer sess.Close()

		pending, err := sess.engine.GetPendingCount(ctx)
		if err != nil {
			return err
		}
		if pending == 0 {
			fmt.Println("No writes waiting to sync")
			return nil
		}

		if !yes {
			if !ui.IsInteractive() {
				return fmt.Errorf("refusing to discard %d queued writes without --yes", pending)
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Discard %s queued writes?", ui.Count(pending))).
				Description("Offline changes that have not synced will be lost.").
				Affirmative("Discard").
				Negative("Keep").
				Value(&confirmed).
				Run()
			if err != nil {
				return fmt.Errorf("confirmation aborted: %w", err)
			}
			if !confirmed {
				fmt.Println("Kept queued writes")
				return nil
			}
		}

		n, err := sess.engine.Manager().ClearPending(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s Discarded %s queued writes\n", out.Styles().Warning.Render("!"), ui.Count(n))
		return nil
	},
}

func init() {
	pendingClearCmd.Flags().BoolP("yes", "y", false, "Discard without asking")

	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingClearCmd)
	rootCmd.AddCommand(pendingCmd)
}
