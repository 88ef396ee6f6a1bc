package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/davidchanminpark/time-my-life/internal/dashboard"
	"github.com/davidchanminpark/time-my-life/internal/device"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve a live websocket feed of the timer and sync events",
	Long: `Start the dashboard websocket server without the rest of the daemon.

Clients receive a status message on connect, then one message per event:
- timer: timer started, stopped or reset
- sync: a change from the peer was applied

'tml daemon' serves the same feed on dashboard.port alongside the peer link.

Example usage:
  tml dashboard                  # Start on the configured port
  tml dashboard --port 9000      # Start on a custom port

Connect with a WebSocket client:
  ws://localhost:7421/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			port := d.Config.Dashboard.Port
			if cmd.Flags().Changed("port") {
				port, _ = cmd.Flags().GetInt("port")
			}

			server := dashboard.NewServer(&dashboard.Config{
				Port:   port,
				Logger: d.Logger("dashboard"),
			})
			handler := dashboard.NewHandler(server, d.Logger("dashboard"))
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}

			addr := server.GetAddr()
			out.Success("Dashboard server started on http://%s", addr)
			out.Line("WebSocket endpoint: ws://%s/ws", addr)
			out.Line("Health check: http://%s/health", addr)
			out.Line("\nPress Ctrl+C to stop...")

			events, unsubscribe := d.Bus.Subscribe()
			defer unsubscribe()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return handler.Run(gctx, events) })
			g.Go(func() error { return d.Timer.RunTicker(gctx, d.Config.Timer.TickInterval) })
			err := g.Wait()

			out.Line("\nShutting down dashboard server...")
			if stopErr := server.Stop(); stopErr != nil {
				return fmt.Errorf("error during shutdown: %w", stopErr)
			}
			out.Line("Dashboard server stopped")
			return err
		})
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 7421, "port to listen on (overrides dashboard.port)")

	rootCmd.AddCommand(dashboardCmd)
}
