package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var removeYes bool

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a registered user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if !removeYes && !confirm(bufio.NewReader(os.Stdin), fmt.Sprintf("⚠️  Remove user '%s'?", name)) {
			return
		}

		if err := openRoster().Remove(cmd.Context(), name); err != nil {
			utils.Die("Failed to remove user", err, nil)
		}
		fmt.Printf("🗑️  User '%s' removed\n", name)
	},
}

func init() {
	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(removeCmd)
}
