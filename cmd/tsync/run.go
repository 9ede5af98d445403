package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/config"
	"github.com/mschirtzinger/tasksync/internal/netstatus"
	"github.com/mschirtzinger/tasksync/internal/realtime"
	"github.com/mschirtzinger/tasksync/internal/schema"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "advanced",
	Short:   "Keep the cache in sync (foreground)",
	Long: `Run the data layer in the foreground until interrupted.

While running, tsync:
  1. Follows connectivity (the marker file, when configured)
  2. Replays queued writes shortly after the network returns
  3. Holds the real-time channel open, when enabled, so server events
     mark cached reads stale
  4. Reloads notification settings when the config file changes

Send SIGHUP to reopen the log file after external rotation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var lastCount atomic.Int64
		lastCount.Store(-1)
		sess, err := openSession(ctx, sessionOptions{
			realtime: true,
			onPendingCount: func(n int) {
				if lastCount.Swap(int64(n)) != int64(n) {
					fmt.Fprintf(os.Stderr, "%s %d pending\n", errOut.Styles().Muted.Render("queue:"), n)
				}
			},
		})
		if err != nil {
			return err
		}
		defer sess.Close()

		if cfg.Network.MarkerFile != "" {
			source, err := netstatus.NewFileSource(cfg.Network.MarkerFile, sess.detector)
			if err != nil {
				return err
			}
			if err := source.Start(); err != nil {
				return fmt.Errorf("failed to watch marker file: %w", err)
			}
			defer source.Stop()
		}

		unsubscribe := sess.detector.Subscribe(func(online bool) {
			state := "offline"
			if online {
				state = "online"
			}
			fmt.Fprintf(os.Stderr, "%s %s\n", errOut.Styles().Muted.Render("network:"), errOut.State(state))
		})
		defer unsubscribe()

		unsubscribe = sess.engine.Channel().Subscribe(func(from, to realtime.State) {
			fmt.Fprintf(os.Stderr, "%s %s -> %s\n", errOut.Styles().Muted.Render("realtime:"), from, errOut.State(string(to)))
		})
		defer unsubscribe()

		invalidations := logs.Logger("invalidate")
		for _, c := range schema.Collections {
			unsubscribe := sess.engine.SubscribeToInvalidations(c, func(c schema.Collection) {
				invalidations.Printf("%s marked stale", c)
			})
			defer unsubscribe()
		}

		if _, err := os.Stat(loader.Path()); err == nil {
			loader.Watch(func(c *config.Config) {
				sess.notes.SetEnabled(c.Log.Notifications)
				fmt.Fprintf(os.Stderr, "%s reloaded %s\n", errOut.Styles().Muted.Render("config:"), loader.Path())
			}, func(err error) {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			})
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		if err := sess.engine.Start(ctx); err != nil {
			return err
		}

		fmt.Printf("%s tsync running\n", out.Styles().Accent.Render("▶"))
		fmt.Printf("   API: %s\n", sess.client.BaseURL())
		fmt.Printf("   Cache: %s\n", sess.store.Path())
		if cfg.Realtime.Enabled {
			fmt.Printf("   Real-time: %s\n", cfg.Realtime.URL)
		}
		if cfg.Network.MarkerFile != "" {
			fmt.Printf("   Online marker: %s\n", cfg.Network.MarkerFile)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nShutting down...")
				return nil
			case <-hup:
				if err := logs.Rotate(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to rotate log: %v\n", err)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
