package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/davidchanminpark/time-my-life/internal/daemon"
	"github.com/davidchanminpark/time-my-life/internal/device"
	"github.com/davidchanminpark/time-my-life/internal/timer"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the peer server, queue drainer, inbox watcher and dashboard",
	Long: `Run this device's background work until interrupted:

- serve the peer endpoint on peer.listen (/sync, /health, /metrics)
- probe peer.url and drain the sync queue while the peer is reachable
- import bundles dropped into inbox.dir
- keep the timer current and stream events to the dashboard

Other tml commands may run while the daemon is up; they share its database.`,
	Run: func(cmd *cobra.Command, args []string) {
		host := &timer.LoggingHost{}
		withDeviceHost(host, func(ctx context.Context, d *device.Device) error {
			host.Logger = d.Logger("host")

			dm := daemon.New(d, d.Logger("daemon"))
			go func() {
				<-dm.Ready()
				if addr := dm.PeerAddr(); addr != "" {
					out.Success("Peer server listening on %s", addr)
				}
				if addr := dm.DashboardAddr(); addr != "" {
					out.Line("Dashboard: ws://%s/ws", addr)
				}
			}()
			return dm.Run(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
