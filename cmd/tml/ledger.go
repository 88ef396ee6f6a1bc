package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidchanminpark/time-my-life/internal/device"
	"github.com/davidchanminpark/time-my-life/internal/schema"
	"github.com/davidchanminpark/time-my-life/internal/ui"
)

var ledgerCmd = &cobra.Command{
	Use:     "ledger",
	GroupID: "tracking",
	Short:   "Show recorded time",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show [activity]",
	Short: "Show ledger entries for a day, or every day of one activity",
	Long: `Without an activity, lists every activity's time on --day (default today).
With an activity and no --day, lists all of its recorded days.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withDevice(func(ctx context.Context, d *device.Device) error {
			var entries []*schema.LedgerEntry
			if len(args) == 1 && !cmd.Flags().Changed("day") {
				a, err := d.Replica.FindActivity(ctx, args[0])
				if err != nil {
					return err
				}
				if entries, err = d.Ledger.ReadAll(ctx, a.ID); err != nil {
					return err
				}
			} else {
				day, err := dayFlag(cmd, d)
				if err != nil {
					return err
				}
				if entries, err = d.DB.ListLedgerEntriesForDay(ctx, d.Ledger.Day(day)); err != nil {
					return err
				}
				if len(args) == 1 {
					a, err := d.Replica.FindActivity(ctx, args[0])
					if err != nil {
						return err
					}
					entries = filterEntries(entries, a.ID)
				}
			}

			if len(entries) == 0 {
				out.Line("No time recorded")
				return nil
			}

			names := activityNames(ctx, d)
			rows := make([][]string, 0, len(entries))
			var total time.Duration
			for _, e := range entries {
				total += e.Duration
				name, ok := names[e.ActivityID]
				if !ok {
					name = shortID(e.ActivityID)
				}
				rows = append(rows, []string{e.Day, name, ui.FormatDuration(e.Duration)})
			}
			out.Table([]string{"DAY", "ACTIVITY", "TIME"}, rows)
			out.Line("%s %s", out.Muted("total"), out.Bold(ui.FormatDuration(total)))
			return nil
		})
	},
}

var ledgerTotalCmd = &cobra.Command{
	Use:   "total <activity>",
	Short: "Sum an activity's time over a range of days",
	Long: `Sum an activity's recorded time between --from and --to, both inclusive.

Examples:
  tml ledger total Reading --from "last monday"
  tml ledger total Reading --from 2026-10-01 --to 2026-10-31`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")

		withDevice(func(ctx context.Context, d *device.Device) error {
			a, err := d.Replica.FindActivity(ctx, args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			from, err := ui.ParseDay(fromFlag, now, d.Location)
			if err != nil {
				return err
			}
			to, err := ui.ParseDay(toFlag, now, d.Location)
			if err != nil {
				return err
			}

			total, err := d.Ledger.TotalOverRange(ctx, a.ID, from, to)
			if err != nil {
				return err
			}
			fromDay, toDay := d.Ledger.Day(from), d.Ledger.Day(to)
			if fromDay > toDay {
				fromDay, toDay = toDay, fromDay
			}
			out.Line("%s %s  %s", out.Swatch(a.Color), a.Name, out.Bold(ui.FormatDuration(total)))
			out.Line("%s", out.Muted(fromDay+" to "+toDay))
			return nil
		})
	},
}

func filterEntries(entries []*schema.LedgerEntry, activityID string) []*schema.LedgerEntry {
	var kept []*schema.LedgerEntry
	for _, e := range entries {
		if e.ActivityID == activityID {
			kept = append(kept, e)
		}
	}
	return kept
}

// activityNames maps activity IDs to display names.
func activityNames(ctx context.Context, d *device.Device) map[string]string {
	names := make(map[string]string)
	activities, err := d.Replica.ListActivities(ctx)
	if err != nil {
		return names
	}
	for _, a := range activities {
		names[a.ID] = a.Name
	}
	return names
}

func init() {
	ledgerShowCmd.Flags().String("day", "", "day to show (YYYY-MM-DD, today, yesterday, ...)")
	ledgerTotalCmd.Flags().String("from", "", "first day (default today)")
	ledgerTotalCmd.Flags().String("to", "", "last day (default today)")

	ledgerCmd.AddCommand(ledgerShowCmd, ledgerTotalCmd)
	rootCmd.AddCommand(ledgerCmd)
}
