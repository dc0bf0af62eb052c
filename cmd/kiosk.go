package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/andresmejia3/facegate/internal/kiosk"
	"github.com/spf13/cobra"
)

var kioskCmd = &cobra.Command{
	Use:   "kiosk",
	Short: "Run the interactive login kiosk",
	Long: `Keeps the face engine and the camera open and reads commands from stdin:
login, register <name>, check, list, help, quit. When metrics_addr is set,
/healthz and /metrics are served alongside.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		st := newStation(ctx)
		defer st.Close()

		if Cfg.MetricsAddr != "" {
			checks := map[string]kiosk.HealthFunc{"engine": st.engine.Healthy}
			if DB != nil {
				checks["database"] = DB.Ping
			}

			srv := kiosk.NewServer(Cfg.MetricsAddr, Metrics.Handler(), checks, Log.WithField("component", "http"))
			go func() {
				if err := srv.Start(); err != nil {
					Log.WithError(err).Error("metrics server stopped")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					Log.WithError(err).Warn("metrics server shutdown")
				}
			}()
		}

		if err := st.kiosk.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			st.die(ctx, "Kiosk stopped", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(kioskCmd)
}
