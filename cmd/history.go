package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "The number of runs to list, newest first.")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Args:  usageArgs(cobra.NoArgs),

	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("database") == "" {
			return usageError{errors.New("no run history configured, set --database or RODCAPTURE_DATABASE")}
		}
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer closeLedger(ledger)

		runs, err := ledger.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tKIND\tSTATUS\tELAPSED\tTARGET\tPATH\tERROR")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.CreatedAt.Local().Format(time.DateTime), r.Kind, r.Status,
				r.Elapsed.Round(time.Millisecond), r.Target, r.Path, r.Error)
		}
		return w.Flush()
	},
}
