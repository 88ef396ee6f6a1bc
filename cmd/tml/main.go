// Command tml tracks time spent on activities and keeps two devices in sync.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidchanminpark/time-my-life/internal/config"
	"github.com/davidchanminpark/time-my-life/internal/device"
	"github.com/davidchanminpark/time-my-life/internal/logging"
	"github.com/davidchanminpark/time-my-life/internal/timer"
	"github.com/davidchanminpark/time-my-life/internal/ui"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tml",
	Short: "Track time on your activities across a watch and a phone",
	Long: `tml keeps a single running timer, a per-day ledger of time spent on each
activity, and optional goals. Two devices (a watch and a phone) each hold a
full replica and exchange changes over a websocket link, falling back to a
durable queue while the peer is away.

Run 'tml daemon' on each device to serve the peer link and drain the queue.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.tml/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log component activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tracking", Title: "Tracking:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// out is the printer for command output.
var out = ui.NewPrinter(os.Stdout)

// fatal prints err and exits.
func fatal(err error) {
	ui.NewPrinter(os.Stderr).Error("%v", err)
	os.Exit(1)
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func newLogs(cfg *config.Config) (*logging.Factory, error) {
	if verbose {
		return logging.Stderr(), nil
	}
	if cfg.Log.File == "" {
		return logging.Discard(), nil
	}
	return logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withDevice opens the device, runs fn and closes the device. Any error is
// printed and exits the process.
func withDevice(fn func(ctx context.Context, d *device.Device) error) {
	withDeviceHost(nil, fn)
}

func withDeviceHost(host timer.ExecutionHost, fn func(ctx context.Context, d *device.Device) error) {
	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	logs, err := newLogs(cfg)
	if err != nil {
		fatal(err)
	}
	defer logs.Close()

	ctx, cancel := signalContext()
	defer cancel()

	d, err := device.Open(ctx, cfg, device.Options{Logs: logs, Host: host})
	if err != nil {
		fatal(err)
	}

	runErr := fn(ctx, d)
	closeErr := d.Close()
	if runErr == nil {
		runErr = closeErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logs.Close()
		fatal(runErr)
	}
}

// dayFlag resolves a --day flag value in the device's zone.
func dayFlag(cmd *cobra.Command, d *device.Device) (time.Time, error) {
	s, _ := cmd.Flags().GetString("day")
	return ui.ParseDay(s, time.Now(), d.Location)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
