// Command tsync is the terminal client for the offline-first task cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/config"
	"github.com/mschirtzinger/tasksync/internal/logging"
	"github.com/mschirtzinger/tasksync/internal/ui"
)

// skipConfig marks commands that run without loading the config file.
const skipConfig = "skip-config"

var (
	configPath   string
	outputFormat string
	verboseFlag  bool
	offlineFlag  bool

	loader *config.Loader
	cfg    *config.Config
	logs   *logging.Factory

	// out renders results on stdout, errOut renders notices on stderr.
	out    *ui.Renderer
	errOut *ui.Renderer

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "tsync",
	Short: "tsync - offline-first task and time tracking client",
	Long: `tsync keeps a local cache of your tasks, projects and time entries.

Reads are served from the network when online and from the cache when not.
Writes made offline are queued and replayed in order once connectivity
returns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "", "table", "yaml", "json":
		default:
			return fmt.Errorf("unknown output format %q (want table, yaml or json)", outputFormat)
		}

		l, err := config.NewLoader(configPath)
		if err != nil {
			return err
		}
		loader = l
		if cmd.Annotations[skipConfig] == "true" {
			return nil
		}

		c, err := l.Load()
		if err != nil {
			return err
		}
		if verboseFlag {
			c.Log.Verbose = true
		}

		f, err := logging.New(c.Log)
		if err != nil {
			return err
		}

		cfg, logs = c, f
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logs != nil {
			return logs.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: "work", Title: "Working With Tasks:"})
	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Sync & Cache:"})
	rootCmd.AddGroup(&cobra.Group{ID: "advanced", Title: "Services & Maintenance:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, yaml or json")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Write component logs to stderr")
	rootCmd.PersistentFlags().BoolVar(&offlineFlag, "offline", false, "Act as if the network were unavailable")
}

func main() {
	out = ui.NewRenderer(os.Stdout)
	errOut = ui.NewRenderer(os.Stderr)

	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		rootCancel()
		os.Exit(1)
	}
}
