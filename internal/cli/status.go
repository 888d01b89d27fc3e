package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status DRIVER",
	Short: "Show a driver's level and VIP progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	drv, err := d.Registry.Lookup(context.Background(), args[0])
	if err != nil {
		return err
	}
	snap := drv.Snapshot()
	out := cmd.OutOrStdout()
	if statusJSON {
		return printJSON(out, snap)
	}

	lv := snap.Level
	fmt.Fprintf(out, "Driver:     %s\n", args[0])
	if lv.IsVIP {
		fmt.Fprintf(out, "Level:      %s (%d rides)\n", lv.Name, lv.TotalRides)
	} else {
		fmt.Fprintf(out, "Level:      %s %d.%d\n", lv.Name, lv.Level, lv.SubLevel)
		fmt.Fprintf(out, "Progress:   %d/%d (%.0f%%), next bonus %d\n",
			lv.Progress, lv.Capacity, lv.ProgressPercent, lv.NextBonus)
		fmt.Fprintf(out, "Total:      %d rides, %d to VIP\n", lv.TotalRides, lv.RidesToVIP)
	}
	if lv.PendingBonus > 0 {
		fmt.Fprintf(out, "Owed:       %d (level bonuses)\n", lv.PendingBonus)
	}

	v := snap.VIP
	if !v.Active {
		return nil
	}
	online := "offline"
	if v.Online {
		online = "online since " + formatTime(v.SessionStart)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Session:    %s\n", online)
	fmt.Fprintf(out, "Today:      %s / %.0fh, %d / %d rides, qualified: %t\n",
		formatHours(v.HoursOnline), v.MinHoursPerDay, v.RidesToday, v.MinRidesPerDay, v.TodayQualified)
	fmt.Fprintf(out, "Period:     %d / %d days qualified since %s, %d days left, bonus preview %d\n",
		v.QualifiedDaysInPeriod, v.PeriodDays, formatDate(v.PeriodStart), v.DaysLeftInPeriod, v.MonthlyBonusPreview)
	fmt.Fprintf(out, "Streak:     %d", v.Streak)
	if v.NextMilestone != nil {
		fmt.Fprintf(out, " (next %d pays %d)", v.NextMilestone.Threshold, v.NextMilestone.Amount)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Cycle:      since %s, %d days left\n", formatDate(v.CycleStart), v.CycleDaysLeft)
	if v.PendingBonus > 0 {
		fmt.Fprintf(out, "Owed:       %d (VIP bonuses)\n", v.PendingBonus)
	}
	return nil
}
