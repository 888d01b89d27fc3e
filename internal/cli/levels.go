package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rideloop/loyalty/internal/domain"
)

func init() {
	rootCmd.AddCommand(levelsCmd)
}

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Print the level table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LEVEL\tNAME\tRIDES\tSTARTS AT\tBONUS")
		for _, row := range domain.LevelTable() {
			fmt.Fprintf(w, "%d.%d\t%s\t%d\t%d\t%d\n",
				row.Level, row.SubLevel, row.Name, row.Capacity, row.StartsAt, row.Bonus)
		}
		fmt.Fprintf(w, "%d\t%s\t-\t%d\t-\n", domain.LevelVIP, domain.LevelName(domain.LevelVIP), domain.VIPRideThreshold)
		return w.Flush()
	},
}
