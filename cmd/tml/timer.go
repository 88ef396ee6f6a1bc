package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidchanminpark/time-my-life/internal/device"
	"github.com/davidchanminpark/time-my-life/internal/timer"
	"github.com/davidchanminpark/time-my-life/internal/ui"
)

var timerCmd = &cobra.Command{
	Use:     "timer",
	GroupID: "tracking",
	Short:   "Start, stop and inspect the running timer",
	Long: `Only one timer runs at a time. Starting a timer while another runs stops
the first and records its time before the new one begins.

Time is credited to the day the timer was started on (or --day), even when
it runs past midnight.`,
}

var timerStartCmd = &cobra.Command{
	Use:   "start <activity>",
	Short: "Start timing an activity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			a, err := d.Replica.FindActivity(ctx, args[0])
			if err != nil {
				return err
			}
			day, err := dayFlag(cmd, d)
			if err != nil {
				return err
			}

			before := d.Timer.State()
			prev, err := d.Timer.Start(ctx, a.ID, day)
			settleErr := settle(ctx, d, prev, err)

			// The new timer may be running even when recording the previous
			// session failed.
			after := d.Timer.State()
			if after.Running && after.ActivityID == a.ID && !after.StartTime.Equal(before.StartTime) {
				out.Success("Started %s %s for %s", out.Swatch(a.Color), a.Name, after.StartDay)
			}
			return settleErr
		})
	},
}

var timerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running timer and record its time",
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			sess, err := d.Timer.Stop(ctx)
			if errors.Is(err, timer.ErrNothingToStop) {
				out.Warn("No timer is running")
				return nil
			}
			return settle(ctx, d, sess, err)
		})
	},
}

var timerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running timer",
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			state := d.Timer.State()
			if !state.Running {
				out.Line("No timer is running")
				return nil
			}
			name := state.ActivityID
			if a, err := d.Replica.GetActivity(ctx, state.ActivityID); err == nil {
				name = out.Swatch(a.Color) + " " + a.Name
			}
			out.Line("%s  %s  %s", out.Bold(ui.FormatClock(d.Timer.CurrentElapsed())), name,
				out.Muted("since "+state.StartTime.In(d.Location).Format("15:04")+", day "+state.StartDay))
			return nil
		})
	},
}

var timerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the running timer without recording it",
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			if err := d.Timer.Reset(ctx); err != nil {
				return err
			}
			out.Success("Timer reset")
			return nil
		})
	},
}

// settle reports a stopped session. A failed ledger write is retried once
// before the failure is returned.
func settle(ctx context.Context, d *device.Device, sess *timer.Session, err error) error {
	if errors.Is(err, timer.ErrCommitFailed) && sess != nil {
		if retryErr := d.Timer.Commit(ctx, sess); retryErr != nil {
			return fmt.Errorf("%w (unrecorded: %s of %s on %s)", err,
				ui.FormatDuration(sess.Elapsed), sess.ActivityID, sess.Day)
		}
		err = nil
	}
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	name := sess.ActivityID
	if a, err := d.Replica.GetActivity(ctx, sess.ActivityID); err == nil {
		name = a.Name
	}
	out.Success("Recorded %s on %s for %s", ui.FormatDuration(sess.Elapsed), name, sess.Day)
	return nil
}

func init() {
	timerStartCmd.Flags().String("day", "", "day to credit (YYYY-MM-DD, today, yesterday, ...)")

	timerCmd.AddCommand(timerStartCmd, timerStopCmd, timerStatusCmd, timerResetCmd)
	rootCmd.AddCommand(timerCmd)
}
