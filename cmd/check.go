package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facegate/internal/capture"
	"github.com/andresmejia3/facegate/internal/kiosk"
	"github.com/andresmejia3/facegate/internal/liveness"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var (
	checkVideo  string
	checkFrames int
)

var checkCmd = &cobra.Command{
	Use:   "check [images...]",
	Short: "Run the blink liveness check only and print the EAR of every frame",
	Long: `Runs the blink check without matching anyone. Frames come from the given
image files, from a recorded clip (--video), or from the camera.`,
	Annotations: map[string]string{"offline": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		var (
			src      capture.Source
			interval = Cfg.FrameInterval
			n        = Cfg.BurstFrames
			err      error
		)
		if checkFrames > 0 {
			n = checkFrames
		}
		switch {
		case len(args) > 0 && checkVideo != "":
			utils.Die("Invalid arguments", fmt.Errorf("pass either image files or --video, not both"), nil)
		case len(args) > 0:
			src, interval, n = capture.NewFileSource(args...), 0, len(args)
		case checkVideo != "":
			var clip *capture.ClipSource
			clip, err = capture.OpenClip(ctx, checkVideo)
			if err != nil {
				utils.Die("Failed to open video", err, nil)
			}
			src, interval = clip, 0
		default:
			src, err = capture.OpenCamera(ctx, Cfg.CameraDevice, Cfg.CameraFormat)
			if err != nil {
				utils.Die("Failed to open camera", err, nil)
			}
		}
		defer src.Close()

		frames, err := capture.Burst(ctx, src, n, interval)
		if err != nil {
			utils.Die("Failed to capture frames", err, sourceLogs(src))
		}

		scaled := make([][]byte, len(frames))
		for i, frame := range frames {
			if scaled[i], err = capture.Downscale(frame, Cfg.MaxFrameSide); err != nil {
				utils.Die("Failed to prepare frame", err, nil)
			}
		}

		w := startEngine(ctx)
		defer w.Close()

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(tw, "FRAME\tFACES\tEAR\tCOUNTER\tSTATE\tREASON")
		fmt.Fprintln(tw, "-----\t-----\t---\t-------\t-----\t------")
		engine := newLivenessEngine(w, len(scaled), liveness.WithObserver(func(obs liveness.Observation) {
			ear := "-"
			if obs.Valid {
				ear = fmt.Sprintf("%.3f", obs.EAR)
			}
			fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\n", obs.Frame, obs.Faces, ear, obs.Counter, obs.State, obs.Reason)
		}))

		res, err := engine.Check(ctx, scaled)
		tw.Flush()
		if err != nil {
			w.Close()
			utils.Die("Face engine failed", err, w.Cmd)
		}

		fmt.Println()
		fmt.Println(kiosk.CheckMessage(res))
		Log.WithField("session", res.SessionID).WithField("reason", res.Reason).Debug("check finished")
		if !res.Blinked {
			w.Close()
			src.Close()
			os.Exit(2)
		}
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkVideo, "video", "", "Read frames from a recorded clip instead of the camera")
	checkCmd.Flags().IntVarP(&checkFrames, "frames", "n", 0, "Number of frames to evaluate (default: burst_frames)")
	rootCmd.AddCommand(checkCmd)
}
