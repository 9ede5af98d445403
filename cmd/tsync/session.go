package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/tasksync/internal/api"
	"github.com/mschirtzinger/tasksync/internal/netstatus"
	"github.com/mschirtzinger/tasksync/internal/notify"
	"github.com/mschirtzinger/tasksync/internal/offline"
	"github.com/mschirtzinger/tasksync/internal/query"
	"github.com/mschirtzinger/tasksync/internal/realtime"
	"github.com/mschirtzinger/tasksync/internal/store"
	"github.com/mschirtzinger/tasksync/internal/ui"
)

// session is one command's view of the data layer.
type session struct {
	store    *store.Store
	client   *api.HTTPClient
	detector *netstatus.Detector
	engine   *offline.Engine
	notes    *switchNotifier
}

type sessionOptions struct {
	realtime       bool
	onPendingCount func(int)
}

// openSession opens the cache and wires an engine from the loaded config.
// Connectivity starts from the marker file when one is configured and
// from --offline otherwise.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	client, err := api.NewHTTPClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout)
	if err != nil {
		return nil, err
	}

	s, err := store.OpenContext(ctx, cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	detector := netstatus.New(initialOnline(), logs.Logger("netstatus"))

	notes := newSwitchNotifier(ui.NewNotifier(errOut), cfg.Log.Notifications)

	syncConfig := cfg.Sync.SyncManager()
	syncConfig.Logger = logs.Logger("sync")

	var rt *realtime.Config
	if opts.realtime {
		rt = cfg.Realtime.Channel(cfg.API.Token)
		rt.Logger = logs.Logger("realtime")
	}

	queryConfig := query.DefaultConfig()
	queryConfig.FreshFor = cfg.Query.FreshFor
	queryConfig.Logger = logs.Logger("query")

	engine, err := offline.New(offline.Options{
		Store:          s,
		Client:         client,
		Detector:       detector,
		Query:          queryConfig,
		Sync:           syncConfig,
		Realtime:       rt,
		Notifier:       notes,
		OnPendingCount: opts.onPendingCount,
		Logger:         logs.Logger("engine"),
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return &session{
		store:    s,
		client:   client,
		detector: detector,
		engine:   engine,
		notes:    notes,
	}, nil
}

func initialOnline() bool {
	if offlineFlag {
		return false
	}
	if cfg.Network.MarkerFile != "" {
		return netstatus.MarkerExists(cfg.Network.MarkerFile)
	}
	return true
}

func (s *session) Close() {
	if err := s.engine.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if err := s.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close cache: %v\n", err)
	}
}

// switchNotifier forwards notifications while enabled. The run command
// flips it when the config file changes.
type switchNotifier struct {
	next    notify.Notifier
	enabled atomic.Bool
}

func newSwitchNotifier(next notify.Notifier, enabled bool) *switchNotifier {
	n := &switchNotifier{next: next}
	n.enabled.Store(enabled)
	return n
}

func (n *switchNotifier) Notify(note notify.Notification) {
	if n.enabled.Load() {
		n.next.Notify(note)
	}
}

func (n *switchNotifier) SetEnabled(enabled bool) {
	n.enabled.Store(enabled)
}

// structured reports whether results should be printed as data.
func structured() bool {
	return outputFormat == "yaml" || outputFormat == "json"
}

// printStructured writes v to stdout in the selected data format.
func printStructured(v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}
}
