package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/realtime/hub"
)

var hubCmd = &cobra.Command{
	Use:     "hub",
	GroupID: "advanced",
	Short:   "Start a local real-time event hub",
	Long: `Start a WebSocket hub that relays server events to connected clients.

The hub stands in for the server's push endpoint during development.
Events posted to /events are broadcast to every client; typing
indicators sent by one client are relayed to the others.

Example usage:
  tsync hub                          # listen on the configured hub_addr
  tsync hub --addr 127.0.0.1:9000

Post an event:
  curl -X POST -H "Authorization: Bearer $TOKEN" \
    -d '{"type":"task.updated","data":{"id":"t-1"}}' \
    http://127.0.0.1:8090/events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Realtime.HubAddr
		}

		server := hub.NewServer(&hub.Config{
			Addr:   addr,
			Token:  cfg.API.Token,
			Logger: logs.Logger("hub"),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start hub: %w", err)
		}

		bound := server.GetAddr()
		fmt.Printf("Hub started on http://%s\n", bound)
		fmt.Printf("WebSocket endpoint: %s\n", server.URL())
		fmt.Printf("Events endpoint: http://%s/events\n", bound)
		fmt.Printf("Health check: http://%s/health\n", bound)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-cmd.Context().Done()

		fmt.Println("\nShutting down hub...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			return err
		}
		fmt.Println("Hub stopped")
		return nil
	},
}

func init() {
	hubCmd.Flags().String("addr", "", "Address to listen on (default: realtime.hub_addr)")
	rootCmd.AddCommand(hubCmd)
}
