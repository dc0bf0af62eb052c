package cmd

import (
	"fmt"

	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <old_name> <new_name>",
	Short: "Rename a registered user",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		oldName, newName := args[0], args[1]
		if err := openRoster().Rename(cmd.Context(), oldName, newName); err != nil {
			utils.Die("Failed to rename user", err, nil)
		}
		fmt.Printf("✅ User '%s' relabeled as '%s'\n", oldName, newName)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
