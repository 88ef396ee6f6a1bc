package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidchanminpark/time-my-life/internal/bundle"
	"github.com/davidchanminpark/time-my-life/internal/device"
	"github.com/davidchanminpark/time-my-life/internal/transport"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Inspect and drive synchronization with the peer device",
	Long: `Changes are sent to the peer immediately when it is reachable and queued
otherwise. The queue holds at most sync.queue_capacity messages; when it is
full the oldest are dropped. 'tml daemon' drains the queue in the background.`,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show peer reachability and queue depth",
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			n, err := d.Queue.Len(ctx)
			if err != nil {
				return err
			}

			out.Title("%s (%s)", d.Config.Device.Name, d.Config.Device.Role)
			switch {
			case d.Link == nil:
				out.Line("peer:  %s", out.Muted("none configured"))
			case d.CheckPeer(ctx):
				out.Line("peer:  %s %s", d.Link.URL(), out.Bold("reachable"))
			default:
				out.Line("peer:  %s %s", d.Link.URL(), out.Muted("unreachable"))
			}
			out.Line("queue: %d / %d", n, d.Queue.Capacity())
			if n >= d.Queue.Capacity() {
				out.Warn("Queue is full; older changes are being dropped")
			}
			return nil
		})
	},
}

var syncFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver every queued message to the peer now",
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			drainer := d.NewDrainer()
			if drainer == nil || !d.CheckPeer(ctx) {
				return transport.ErrPeerUnreachable
			}
			n, err := drainer.DrainAll(ctx)
			if n > 0 {
				out.Success("Delivered %d queued message(s)", n)
			}
			if err != nil {
				return err
			}
			if n == 0 {
				out.Line("Queue is empty")
			}
			return nil
		})
	},
}

var syncResyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Ask the peer to re-send all of its activities",
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			d.CheckPeer(ctx)
			if err := d.Coordinator.RequestFullResync(ctx); err != nil {
				return err
			}
			out.Success("Resync requested; the peer's activities arrive through its daemon")
			return nil
		})
	},
}

var syncExportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Write every activity, goal and ledger entry to a bundle file",
	Long: `Write a JSONL bundle of this device's data. Drop the file into the other
device's inbox directory (see inbox.dir) and its daemon imports it.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			now := time.Now()
			path := fmt.Sprintf("%s-%s%s", d.Config.Device.Name, now.Format("20060102-150405"), bundle.Extension)
			if len(args) == 1 {
				path = args[0]
			}
			res, err := bundle.Export(ctx, d.DB, path, now)
			if err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			out.Success("Exported %d activities, %d goals and %d ledger entries to %s",
				res.Activities, res.Goals, res.LedgerEntries, abs)
			return nil
		})
	},
}

var syncImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Apply a bundle file written by 'tml sync export'",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		keep, _ := cmd.Flags().GetBool("keep")

		withDevice(func(ctx context.Context, d *device.Device) error {
			res, err := bundle.Import(ctx, d.Coordinator, args[0])
			if err != nil {
				return err
			}
			out.Success("Applied %d message(s)", res.Applied)
			if res.Skipped > 0 {
				out.Warn("Skipped %d malformed line(s)", res.Skipped)
				for _, e := range res.Errors {
					out.Line("  %s", out.Muted(e))
				}
			}
			if !keep {
				if _, err := bundle.MarkImported(args[0]); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func init() {
	syncImportCmd.Flags().Bool("keep", false, "leave the bundle in place instead of renaming it")

	syncCmd.AddCommand(syncStatusCmd, syncFlushCmd, syncResyncCmd, syncExportCmd, syncImportCmd)
	rootCmd.AddCommand(syncCmd)
}
