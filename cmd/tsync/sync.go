package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/syncmgr"
	"github.com/mschirtzinger/tasksync/internal/ui"
)

const progressTemplate pb.ProgressBarTemplate = `{{ string . "prefix" }}{{ counters . }} {{ bar . "[" "=" ">" "-" "]" }} {{ percent . }}`

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replay queued writes against the server",
	Long: `Replay every queued write in the order it was made.

Each write is sent with its original idempotency key, so a write that
already reached the server is not applied twice. A write that keeps
failing is dropped after the configured number of retries and recorded
in the dead-letter file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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
			if !structured() {
				fmt.Fprintf(os.Stderr, "%s Nothing to sync\n", out.Styles().Success.Render("✓"))
			}
			return printReport(&syncmgr.Report{})
		}

		var bar *pb.ProgressBar
		if !structured() && ui.IsInteractive() {
			bar = progressTemplate.New(pending)
			bar.SetWriter(os.Stderr)
			bar.Set("prefix", "Syncing ")
			bar.Start()
		}

		report, err := sess.engine.Manager().SyncPendingActionsWithProgress(ctx, func(p syncmgr.Progress) {
			if bar != nil {
				bar.SetTotal(int64(p.Total))
				bar.SetCurrent(int64(p.Processed))
			}
		})
		if bar != nil {
			bar.Finish()
		}
		switch {
		case errors.Is(err, syncmgr.ErrOffline):
			return fmt.Errorf("cannot sync while offline (%d pending)", pending)
		case err != nil:
			return err
		}

		return printReport(report)
	},
}

func printReport(report *syncmgr.Report) error {
	if structured() {
		return printStructured(report)
	}
	if report.Total == 0 {
		return nil
	}
	s := out.Styles()
	out.Title("Sync complete")
	out.Field("succeeded", s.Success.Render(ui.Count(report.Succeeded)))
	out.Field("failed", ui.Count(report.Failed))
	out.Field("dropped", ui.Count(report.DeadLettered))
	if report.Deferred > 0 {
		out.Field("waiting", s.Warning.Render(ui.Count(report.Deferred)+" (server unreachable)"))
	}
	out.Field("took", report.Duration.Round(time.Millisecond).String())
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
