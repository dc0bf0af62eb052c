package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/facegate/internal/gallery"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB     bool
	resetImages bool
	resetLog    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Reference Images, Access Log, Database)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetImages && !resetLog {
			resetDB = DB != nil
			resetImages = true
			resetLog = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if DB == nil {
				utils.Die("No database configured", fmt.Errorf("set database_url, --db or POSTGRES_HOST"), nil)
			}
			if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetImages {
			if confirm(reader, "⚠️  Are you sure you want to delete all registered users?") {
				fmt.Println("🗑️  Clearing Reference Images...")
				n, err := openGallery().Clear()
				if err != nil {
					utils.Die("Failed to clear gallery", err, nil)
				}
				fmt.Printf("   %d image(s) removed\n", n)
			}
		}

		if resetLog {
			if confirm(reader, "⚠️  Are you sure you want to delete the access log?") {
				fmt.Println("🗑️  Clearing Access Log...")
				if err := gallery.NewAccessLog(Cfg.AccessLogPath()).Clear(); err != nil {
					utils.Die("Failed to clear access log", err, nil)
				}
				if Cfg.LogFile != "" {
					removeFile(Cfg.LogFile)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "database", false, "Drop the PostgreSQL identity tables")
	resetCmd.Flags().BoolVar(&resetImages, "images", false, "Delete all reference images")
	resetCmd.Flags().BoolVar(&resetLog, "log", false, "Delete the access log and the rotating log file")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
