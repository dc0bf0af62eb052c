package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/capture"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Identify the registered user in an image file (no liveness check, nothing logged)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string) error {
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError(os.Stderr, "Failed to read image file", err, nil)
		return err
	}
	imgData, err = capture.ToJPEG(imgData)
	if err != nil {
		utils.ShowError(os.Stderr, "Unsupported image", err, nil)
		return err
	}

	w := startEngine(ctx)
	defer w.Close()
	index := openIndex(ctx, openGallery(), w)

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	vec, ok, err := w.Encode(ctx, imgData)
	if err != nil {
		utils.ShowError(os.Stderr, "Face engine failed", err, w.Cmd)
		return err
	}
	if !ok {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	m, ok, err := index.Match(ctx, vec, Cfg.MatchTolerance)
	if err != nil {
		utils.ShowError(os.Stderr, "Identity search failed", err, nil)
		return err
	}
	if !ok {
		fmt.Println("❌ No matching user found.")
		return nil
	}
	fmt.Printf("✅ Found Match: %s (distance %.3f)\n", m.Name, m.Distance)
	return nil
}
