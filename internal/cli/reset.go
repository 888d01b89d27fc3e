package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rideloop/loyalty/internal/domain"
)

func init() {
	resetCmd.AddCommand(resetProgressCmd, resetCycleCmd)
	rootCmd.AddCommand(resetCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Operator resets",
}

var resetProgressCmd = &cobra.Command{
	Use:   "progress DRIVER",
	Short: "Return a driver to level 1.1 with zero rides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		drv, err := d.Registry.Lookup(context.Background(), args[0])
		if err != nil {
			return err
		}
		if err := drv.ResetProgress(context.Background()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s reset to level 1.1\n", args[0])
		return nil
	},
}

var resetCycleCmd = &cobra.Command{
	Use:   "cycle DRIVER",
	Short: "Restart a VIP driver's qualification cycle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		drv, err := d.Registry.Lookup(context.Background(), args[0])
		if err != nil {
			return err
		}
		err = drv.ResetCycle(context.Background())
		if err != nil && !errors.Is(err, domain.ErrWalletCredit) {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s VIP cycle restarted\n", args[0])
		return nil
	},
}
