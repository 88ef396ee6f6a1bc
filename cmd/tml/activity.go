package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidchanminpark/time-my-life/internal/device"
	"github.com/davidchanminpark/time-my-life/internal/replica"
	"github.com/davidchanminpark/time-my-life/internal/schema"
	"github.com/davidchanminpark/time-my-life/internal/ui"
)

var activityCmd = &cobra.Command{
	Use:     "activity",
	Aliases: []string{"act"},
	GroupID: "tracking",
	Short:   "Manage activities",
}

var activityAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an activity",
	Long: `Create an activity to track time against.

Examples:
  tml activity add Reading --color "#3366FF" --days mon,wed,fri
  tml activity add "Morning run" --category health --days weekdays`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		color, _ := cmd.Flags().GetString("color")
		category, _ := cmd.Flags().GetString("category")
		daysFlag, _ := cmd.Flags().GetString("days")

		days, err := ui.ParseWeekdays(daysFlag)
		if err != nil {
			fatal(err)
		}

		withDevice(func(ctx context.Context, d *device.Device) error {
			a, err := d.Replica.CreateActivity(ctx, replica.ActivityInput{
				Name:     args[0],
				Color:    color,
				Category: category,
				Schedule: days,
			})
			if err != nil {
				return err
			}
			out.Success("Created %s %s (%s)", out.Swatch(a.Color), a.Name, shortID(a.ID))
			return nil
		})
	},
}

var activityListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List activities with today's time",
	Run: func(cmd *cobra.Command, args []string) {
		todayOnly, _ := cmd.Flags().GetBool("today")

		withDevice(func(ctx context.Context, d *device.Device) error {
			now := time.Now()
			var activities []*schema.Activity
			var err error
			if todayOnly {
				activities, err = d.Replica.ScheduledOn(ctx, now)
			} else {
				activities, err = d.Replica.ListActivities(ctx)
			}
			if err != nil {
				return err
			}
			if len(activities) == 0 {
				out.Line("No activities. Create one with 'tml activity add <name>'.")
				return nil
			}

			state := d.Timer.State()
			rows := make([][]string, 0, len(activities))
			for _, a := range activities {
				e, err := d.Ledger.Read(ctx, a.ID, now)
				if err != nil {
					return err
				}
				tracked := e.Duration
				marker := ""
				if state.Running && state.ActivityID == a.ID {
					tracked += d.Timer.CurrentElapsed()
					marker = "▶"
				}
				rows = append(rows, []string{
					marker + out.Swatch(a.Color),
					shortID(a.ID),
					a.Name,
					a.Category,
					ui.FormatWeekdays(a.Schedule),
					ui.FormatDuration(tracked),
				})
			}
			out.Table([]string{"", "ID", "NAME", "CATEGORY", "DAYS", "TODAY"}, rows)
			return nil
		})
	},
}

var activityEditCmd = &cobra.Command{
	Use:   "edit <activity>",
	Short: "Change an activity's name, color, category or days",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			a, err := d.Replica.FindActivity(ctx, args[0])
			if err != nil {
				return err
			}

			in := replica.ActivityInput{Name: a.Name, Color: a.Color, Category: a.Category, Schedule: a.Schedule}
			if cmd.Flags().Changed("name") {
				in.Name, _ = cmd.Flags().GetString("name")
			}
			if cmd.Flags().Changed("color") {
				in.Color, _ = cmd.Flags().GetString("color")
			}
			if cmd.Flags().Changed("category") {
				in.Category, _ = cmd.Flags().GetString("category")
			}
			if cmd.Flags().Changed("days") {
				s, _ := cmd.Flags().GetString("days")
				if in.Schedule, err = ui.ParseWeekdays(s); err != nil {
					return err
				}
			}

			updated, err := d.Replica.UpdateActivity(ctx, a.ID, in)
			if err != nil {
				return err
			}
			out.Success("Updated %s %s", out.Swatch(updated.Color), updated.Name)
			return nil
		})
	},
}

var activityRmCmd = &cobra.Command{
	Use:     "rm <activity>",
	Aliases: []string{"delete"},
	Short:   "Delete an activity with its ledger entries and goals",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			a, err := d.Replica.FindActivity(ctx, args[0])
			if err != nil {
				return err
			}
			if state := d.Timer.State(); state.Running && state.ActivityID == a.ID {
				out.Warn("The running timer is for %s; it will be discarded", a.Name)
				if err := d.Timer.Reset(ctx); err != nil {
					return err
				}
			}
			if err := d.Replica.DeleteActivity(ctx, a.ID); err != nil {
				return err
			}
			out.Success("Deleted %s", a.Name)
			return nil
		})
	},
}

func init() {
	activityAddCmd.Flags().String("color", "#4A90D9", "display color (hex)")
	activityAddCmd.Flags().String("category", "", "optional category label")
	activityAddCmd.Flags().String("days", "daily", "scheduled weekdays: daily, weekdays, weekends or mon,wed,...")

	activityListCmd.Flags().Bool("today", false, "only activities scheduled today")

	activityEditCmd.Flags().String("name", "", "new name")
	activityEditCmd.Flags().String("color", "", "new color (hex)")
	activityEditCmd.Flags().String("category", "", "new category")
	activityEditCmd.Flags().String("days", "", "new scheduled weekdays")

	activityCmd.AddCommand(activityAddCmd, activityListCmd, activityEditCmd, activityRmCmd)
	rootCmd.AddCommand(activityCmd)
}
