package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered users",
	Run: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			runListDB(cmd)
			return
		}
		runList()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList() {
	refs, err := openGallery().List()
	if err != nil {
		utils.Die("Failed to list users", err, nil)
	}

	if len(refs) == 0 {
		fmt.Println("No registered users.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tIMAGE")
	fmt.Fprintln(w, "----\t-----")
	for _, r := range refs {
		fmt.Fprintf(w, "%s\t%s\n", r.Name, r.Path)
	}
	w.Flush()
}

func runListDB(cmd *cobra.Command) {
	identities, err := DB.ListIdentities(cmd.Context())
	if err != nil {
		utils.Die("Failed to list identities", err, nil)
	}

	if len(identities) == 0 {
		fmt.Println("No identities found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLOGINS\tLAST LOGIN\tREGISTERED")
	fmt.Fprintln(w, "--\t----\t------\t----------\t----------")

	for _, id := range identities {
		last := "never"
		if id.LastLogin != nil {
			last = id.LastLogin.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", id.ID, id.Name, id.Logins, last, id.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
