package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facegate/internal/gallery"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent successful logins",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		defer w.Flush()

		if DB != nil {
			logins, err := DB.LoginHistory(cmd.Context(), historyLimit)
			if err != nil {
				utils.Die("Failed to read login history", err, nil)
			}
			if len(logins) == 0 {
				fmt.Println("No logins recorded.")
				return
			}
			fmt.Fprintln(w, "TIME\tNAME\tDISTANCE\tSESSION")
			fmt.Fprintln(w, "----\t----\t--------\t-------")
			for _, l := range logins {
				fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\n", l.At.Local().Format("2006-01-02 15:04:05"), l.Name, l.Distance, l.SessionID)
			}
			return
		}

		entries, err := gallery.NewAccessLog(Cfg.AccessLogPath()).Entries()
		if err != nil {
			utils.Die("Failed to read access log", err, nil)
		}
		if len(entries) == 0 {
			fmt.Println("No logins recorded.")
			return
		}
		// Newest first, like the database view.
		fmt.Fprintln(w, "TIME\tNAME")
		fmt.Fprintln(w, "----\t----")
		shown := 0
		for i := len(entries) - 1; i >= 0; i-- {
			if historyLimit > 0 && shown == historyLimit {
				break
			}
			fmt.Fprintf(w, "%s\t%s\n", entries[i].At.Local().Format("2006-01-02 15:04:05"), entries[i].Name)
			shown++
		}
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of logins to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}
