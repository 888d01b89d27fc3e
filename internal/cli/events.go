package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rideloop/loyalty/internal/domain"
)

func init() {
	rideCmd.Flags().IntVarP(&rideCount, "count", "n", 1, "Number of rides to record")
	rootCmd.AddCommand(rideCmd, onlineCmd, offlineCmd)
}

var rideCount int

var rideCmd = &cobra.Command{
	Use:   "ride DRIVER",
	Short: "Record completed rides for a driver",
	Args:  cobra.ExactArgs(1),
	RunE:  runRide,
}

var onlineCmd = &cobra.Command{
	Use:   "online DRIVER",
	Short: "Open an online session for a driver",
	Args:  cobra.ExactArgs(1),
	RunE:  runSession(true),
}

var offlineCmd = &cobra.Command{
	Use:   "offline DRIVER",
	Short: "Close the online session of a driver",
	Args:  cobra.ExactArgs(1),
	RunE:  runSession(false),
}

func runRide(cmd *cobra.Command, args []string) error {
	if rideCount < 1 {
		return fmt.Errorf("count must be at least 1, got %d", rideCount)
	}
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()
	drv, err := d.Registry.Driver(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var walletErr error
	for i := 0; i < rideCount; i++ {
		res, err := drv.CompleteRide(ctx)
		if err != nil && !errors.Is(err, domain.ErrWalletCredit) {
			return err
		}
		if err != nil {
			walletErr = err
		}
		if up := res.LevelUp; up != nil {
			if up.EnteredVIP {
				fmt.Fprintf(out, "VIP reached! bonus %d\n", up.Bonus)
			} else {
				fmt.Fprintf(out, "Level up: %d.%d -> %d.%d, bonus %d\n",
					up.FromLevel, up.FromSubLevel, up.ToLevel, up.ToSubLevel, up.Bonus)
			}
		}
	}

	lv := drv.LevelView()
	fmt.Fprintf(out, "%s: %s %d.%d, %d/%d rides (%d total)\n",
		args[0], lv.Name, lv.Level, lv.SubLevel, lv.Progress, lv.Capacity, lv.TotalRides)
	if walletErr != nil {
		fmt.Fprintf(out, "Bonus %d owed, retry with 'loyalty wallet retry %s'\n", lv.PendingBonus, args[0])
	}
	return nil
}

func runSession(online bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := context.Background()
		drv, err := d.Registry.Driver(ctx, args[0])
		if err != nil {
			return err
		}
		if online {
			err = drv.GoOnline(ctx)
		} else {
			err = drv.GoOffline(ctx)
		}
		if err != nil && !errors.Is(err, domain.ErrWalletCredit) {
			return err
		}

		v := drv.VIPView(d.Clock.Now())
		state := "offline"
		if v.Online {
			state = "online"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is %s, %s online today\n", args[0], state, formatHours(v.HoursOnline))
		return nil
	}
}
