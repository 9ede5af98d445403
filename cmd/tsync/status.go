package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/ui"
)

type collectionStatus struct {
	Collection      schema.Collection `json:"collection" yaml:"collection"`
	Records         int               `json:"records" yaml:"records"`
	LastRefreshedAt *time.Time        `json:"last_refreshed_at,omitempty" yaml:"last_refreshed_at,omitempty"`
}

type statusReport struct {
	Online      bool               `json:"online" yaml:"online"`
	Pending     int                `json:"pending" yaml:"pending"`
	Cache       string             `json:"cache" yaml:"cache"`
	CacheBytes  int64              `json:"cache_bytes" yaml:"cache_bytes"`
	API         string             `json:"api" yaml:"api"`
	Realtime    string             `json:"realtime" yaml:"realtime"`
	Collections []collectionStatus `json:"collections" yaml:"collections"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show connectivity, queue and cache status",
	Long: `Display the state of the local data layer.

Shows:
  - Whether the network is considered reachable
  - Number of writes waiting to sync
  - Cache location, size and record counts
  - When each collection was last refreshed from the server`,
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

		report := statusReport{
			Online:   sess.engine.IsOnline(),
			Pending:  pending,
			Cache:    sess.store.Path(),
			API:      sess.client.BaseURL(),
			Realtime: "disabled",
		}
		if cfg.Realtime.Enabled {
			report.Realtime = cfg.Realtime.URL
		}
		if info, err := os.Stat(sess.store.Path()); err == nil {
			report.CacheBytes = info.Size()
		}

		for _, c := range schema.Collections {
			n, err := sess.store.Count(ctx, c)
			if err != nil {
				return err
			}
			cs := collectionStatus{Collection: c, Records: n}
			meta, err := sess.store.SyncMetadata(ctx, c)
			if err != nil {
				return err
			}
			if meta != nil {
				at := meta.LastRefreshedAt
				cs.LastRefreshedAt = &at
			}
			report.Collections = append(report.Collections, cs)
		}

		if structured() {
			return printStructured(report)
		}
		printStatus(out, report)
		return nil
	},
}

func printStatus(r *ui.Renderer, report statusReport) {
	network := "offline"
	if report.Online {
		network = "online"
	}

	r.Title("tsync status")
	r.Field("network", r.State(network))
	r.Field("pending", ui.Count(report.Pending))
	r.Field("api", report.API)
	r.Field("realtime", report.Realtime)
	r.Field("cache", fmt.Sprintf("%s (%s)", report.Cache, ui.Bytes(report.CacheBytes)))
	r.Println()

	rows := make([][]string, 0, len(report.Collections))
	for _, c := range report.Collections {
		var refreshed time.Time
		if c.LastRefreshedAt != nil {
			refreshed = *c.LastRefreshedAt
		}
		rows = append(rows, []string{string(c.Collection), ui.Count(c.Records), r.Since(refreshed)})
	}
	r.Table([]string{"COLLECTION", "RECORDS", "REFRESHED"}, rows, "no collections")
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
