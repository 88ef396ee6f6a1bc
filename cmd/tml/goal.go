package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidchanminpark/time-my-life/internal/device"
	"github.com/davidchanminpark/time-my-life/internal/replica"
	"github.com/davidchanminpark/time-my-life/internal/schema"
	"github.com/davidchanminpark/time-my-life/internal/ui"
)

var goalCmd = &cobra.Command{
	Use:     "goal",
	GroupID: "tracking",
	Short:   "Set and check daily or weekly time goals",
}

var goalAddCmd = &cobra.Command{
	Use:   "add <activity>",
	Short: "Add a goal to an activity",
	Long: `Add a daily or weekly target to an activity. Weeks start on Sunday.

Examples:
  tml goal add Reading --target 30m
  tml goal add Swimming --period weekly --target 3h`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		period, _ := cmd.Flags().GetString("period")
		target, _ := cmd.Flags().GetDuration("target")

		withDevice(func(ctx context.Context, d *device.Device) error {
			a, err := d.Replica.FindActivity(ctx, args[0])
			if err != nil {
				return err
			}
			g, err := d.Replica.CreateGoal(ctx, replica.GoalInput{
				ActivityID: a.ID,
				Period:     schema.GoalPeriod(period),
				Target:     target,
			})
			if err != nil {
				return err
			}
			out.Success("Goal %s: %s %s on %s", shortID(g.ID), ui.FormatDuration(g.Target), g.Period, a.Name)
			return nil
		})
	},
}

var goalListCmd = &cobra.Command{
	Use:     "list [activity]",
	Aliases: []string{"ls"},
	Short:   "List goals",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			activityID := ""
			if len(args) == 1 {
				a, err := d.Replica.FindActivity(ctx, args[0])
				if err != nil {
					return err
				}
				activityID = a.ID
			}
			goals, err := d.Replica.ListGoals(ctx, activityID)
			if err != nil {
				return err
			}
			if len(goals) == 0 {
				out.Line("No goals")
				return nil
			}

			names := activityNames(ctx, d)
			rows := make([][]string, 0, len(goals))
			for _, g := range goals {
				rows = append(rows, []string{shortID(g.ID), names[g.ActivityID], string(g.Period), ui.FormatDuration(g.Target)})
			}
			out.Table([]string{"ID", "ACTIVITY", "PERIOD", "TARGET"}, rows)
			return nil
		})
	},
}

var goalEditCmd = &cobra.Command{
	Use:   "edit <goal-id>",
	Short: "Change a goal's period or target",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			g, err := findGoal(ctx, d, args[0])
			if err != nil {
				return err
			}
			period, target := g.Period, g.Target
			if cmd.Flags().Changed("period") {
				p, _ := cmd.Flags().GetString("period")
				period = schema.GoalPeriod(p)
			}
			if cmd.Flags().Changed("target") {
				target, _ = cmd.Flags().GetDuration("target")
			}
			updated, err := d.Replica.UpdateGoal(ctx, g.ID, period, target)
			if err != nil {
				return err
			}
			out.Success("Goal %s: %s %s", shortID(updated.ID), ui.FormatDuration(updated.Target), updated.Period)
			return nil
		})
	},
}

var goalRmCmd = &cobra.Command{
	Use:     "rm <goal-id>",
	Aliases: []string{"delete"},
	Short:   "Delete a goal",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			g, err := findGoal(ctx, d, args[0])
			if err != nil {
				return err
			}
			if err := d.Replica.DeleteGoal(ctx, g.ID); err != nil {
				return err
			}
			out.Success("Deleted goal %s", shortID(g.ID))
			return nil
		})
	},
}

var goalProgressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show progress toward every goal",
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			at, err := dayFlag(cmd, d)
			if err != nil {
				return err
			}
			goals, err := d.Replica.ListGoals(ctx, "")
			if err != nil {
				return err
			}
			if len(goals) == 0 {
				out.Line("No goals. Add one with 'tml goal add <activity> --target 30m'.")
				return nil
			}

			state := d.Timer.State()
			running := d.Timer.CurrentElapsed()
			barWidth := 20
			if w := out.Width(80); w < 60 {
				barWidth = 10
			}

			for _, g := range goals {
				a, err := d.Replica.GetActivity(ctx, g.ActivityID)
				if err != nil {
					return err
				}
				p, err := d.Replica.GoalProgress(ctx, d.Ledger, g, at, d.Location)
				if err != nil {
					return err
				}
				// Count the running session when its day falls in the window.
				if state.Running && state.ActivityID == g.ActivityID &&
					state.StartDay >= d.Ledger.Day(p.From) && state.StartDay <= d.Ledger.Day(p.To) {
					p.Tracked += running
				}

				mark := " "
				if p.Met() {
					mark = "✓"
				}
				out.Line("%s %s %-16s %s %s / %s %s", mark, out.Swatch(a.Color), a.Name,
					ui.ProgressBar(p.Fraction(), barWidth),
					ui.FormatDuration(p.Tracked), ui.FormatDuration(g.Target), out.Muted(string(g.Period)))
			}
			return nil
		})
	},
}

// findGoal resolves a goal by full ID or unique ID prefix.
func findGoal(ctx context.Context, d *device.Device, ref string) (*schema.Goal, error) {
	if g, err := d.Replica.GetGoal(ctx, ref); err == nil {
		return g, nil
	}
	goals, err := d.Replica.ListGoals(ctx, "")
	if err != nil {
		return nil, err
	}
	var match *schema.Goal
	for _, g := range goals {
		if strings.HasPrefix(g.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("goal id %q is ambiguous", ref)
			}
			match = g
		}
	}
	if match == nil {
		return nil, fmt.Errorf("goal not found: %s", ref)
	}
	return match, nil
}

func init() {
	goalAddCmd.Flags().String("period", string(schema.PeriodDaily), "daily or weekly")
	goalAddCmd.Flags().Duration("target", 30*time.Minute, "target time per period (e.g. 45m, 2h)")

	goalEditCmd.Flags().String("period", "", "daily or weekly")
	goalEditCmd.Flags().Duration("target", 0, "target time per period")

	goalProgressCmd.Flags().String("day", "", "measure the period containing this day")

	goalCmd.AddCommand(goalAddCmd, goalListCmd, goalEditCmd, goalRmCmd, goalProgressCmd)
	rootCmd.AddCommand(goalCmd)
}
