package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	walletHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to show")
	walletCmd.AddCommand(walletBalanceCmd, walletHistoryCmd, walletRetryCmd, walletVerifyCmd)
	rootCmd.AddCommand(walletCmd)
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Inspect bonus payouts and the ledger",
}

var walletBalanceCmd = &cobra.Command{
	Use:   "balance [DRIVER]",
	Short: "Show a driver's bonus balance, or the pool balance",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := context.Background()
		if len(args) == 0 {
			bal, err := d.Wallet.PoolBalance(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bonus pool: %d\n", bal)
			return nil
		}
		bal, err := d.Wallet.Balance(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", args[0], bal)
		return nil
	},
}

var walletHistoryCmd = &cobra.Command{
	Use:   "history DRIVER",
	Short: "Show recent ledger entries for a driver",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit < 1 {
			return fmt.Errorf("limit must be at least 1, got %d", historyLimit)
		}
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		entries, err := d.Wallet.History(context.Background(), args[0], historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No payouts.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKIND\tAMOUNT\tBALANCE\tDESCRIPTION")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				e.Timestamp.Format("2006-01-02 15:04"), e.Kind, e.Amount, e.Balance, e.Description)
		}
		return w.Flush()
	},
}

var walletRetryCmd = &cobra.Command{
	Use:   "retry [DRIVER]",
	Short: "Retry owed bonus credits",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := context.Background()
		if len(args) == 0 {
			if err := d.Registry.SettleAll(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All owed bonuses credited.")
			return nil
		}
		drv, err := d.Registry.Lookup(ctx, args[0])
		if err != nil {
			return err
		}
		if err := drv.RetryPayouts(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d payouts still owed\n", args[0], len(drv.PendingPayouts()))
		return nil
	},
}

var walletVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the ledger balances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.Wallet.Verify(context.Background()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Ledger balanced.")
		return nil
	},
}
