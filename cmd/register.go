package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/gallery"
	"github.com/andresmejia3/facegate/internal/kiosk"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a new user from the camera (requires a blink)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if err := gallery.ValidateName(name); err != nil {
			utils.Die("Invalid user name", err, nil)
		}

		st := newStation(cmd.Context())
		defer st.Close()

		fmt.Fprintln(os.Stderr, "📸 Look at the camera and blink...")
		res, err := st.kiosk.Register(cmd.Context(), name)
		if errors.Is(err, gallery.ErrExists) {
			st.Close()
			utils.Die("User already exists", err, nil)
		}
		if err != nil {
			st.die(cmd.Context(), "Registration failed", err)
		}

		fmt.Println(kiosk.RegisterMessage(res))
		if res.Outcome != kiosk.Registered {
			st.Close()
			os.Exit(2)
		}
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
