package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/kiosk"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with your face (requires a blink)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		st := newStation(cmd.Context())
		defer st.Close()

		fmt.Fprintln(os.Stderr, "📸 Look at the camera and blink...")
		res, err := st.kiosk.Login(cmd.Context())
		if err != nil {
			st.die(cmd.Context(), "Login failed", err)
		}

		fmt.Println(kiosk.LoginMessage(res))
		if res.Outcome != kiosk.LoginSuccess {
			// Deferred calls do not run on os.Exit.
			st.Close()
			os.Exit(2)
		}
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
