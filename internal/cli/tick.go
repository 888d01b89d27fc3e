package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rideloop/loyalty/internal/app/loyalty"
)

func init() {
	rootCmd.AddCommand(tickCmd)
}

var tickCmd = &cobra.Command{
	Use:   "tick [DRIVER]",
	Short: "Apply day, period and cycle boundaries up to now",
	Long: `Apply every calendar boundary reached since the last tick. Without a
driver, every known driver is ticked. Ticking twice changes nothing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTick,
}

func runTick(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()
	now := d.Clock.Now()
	var reports []loyalty.DriverReport
	if len(args) == 1 {
		drv, err := d.Registry.Lookup(ctx, args[0])
		if err != nil {
			return err
		}
		rep, err := drv.Tick(ctx, now)
		reports = append(reports, loyalty.DriverReport{DriverID: args[0], Report: rep, Err: err})
	} else {
		reports = d.Registry.TickAll(ctx, now)
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", r.DriverID, r.Err)
		}
		if r.Report == nil || r.Report.Empty() {
			continue
		}
		for _, p := range r.Report.Periods {
			fmt.Fprintf(out, "%s: period from %s closed with %d qualified days, streak %d, bonus %d\n",
				r.DriverID, p.Start.Format("2006-01-02"), p.QualifiedDays, p.Streak, p.MonthlyBonus+p.QuarterlyBonus)
		}
		for _, rs := range r.Report.Resets {
			fmt.Fprintf(out, "%s: cycle reset (%s)\n", r.DriverID, rs.Reason)
		}
		if n := len(r.Report.Days); n > 0 {
			fmt.Fprintf(out, "%s: %d days closed\n", r.DriverID, n)
		}
	}
	fmt.Fprintf(out, "Ticked %d drivers at %s\n", len(reports), now.Format("2006-01-02 15:04"))
	if failed > 0 {
		return fmt.Errorf("%d drivers failed to tick", failed)
	}
	return nil
}
