package cmd

import (
	"os"

	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Print the effective configuration as YAML",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"offline": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(Cfg); err != nil {
			utils.Die("Failed to encode config", err, nil)
		}
		enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
