package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/kiosk"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var reindexForce bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Encode the gallery into the PostgreSQL identity index",
	Long: `Encodes every reference image and upserts it into the database. Images
whose content did not change since the last run are skipped unless --force is
set. Identities without a reference image are removed.`,
	Run: func(cmd *cobra.Command, args []string) {
		if DB == nil {
			utils.Die("reindex needs a database", errors.New("set database_url, --db or POSTGRES_HOST"), nil)
		}
		runReindex(cmd)
	},
}

func init() {
	reindexCmd.Flags().BoolVarP(&reindexForce, "force", "f", false, "Re-encode unchanged images")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command) {
	ctx := cmd.Context()
	g := openGallery()
	refs, err := g.List()
	if err != nil {
		utils.Die("Failed to list gallery", err, nil)
	}

	w := startEngine(ctx)
	defer w.Close()
	index := kiosk.NewStoreIndex(DB)

	bar := progressbar.NewOptions(len(refs),
		progressbar.OptionSetDescription("🧬 Reindexing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	var encoded, unchanged, skipped int
	present := make(map[string]bool, len(refs))
	for _, ref := range refs {
		present[ref.Name] = true
		bar.Add(1)

		fp, err := utils.Fingerprint(ref.Path)
		if err != nil {
			Log.WithError(err).WithField("user", ref.Name).Warn("cannot read reference image")
			skipped++
			continue
		}
		if !reindexForce {
			existing, err := DB.GetIdentity(ctx, ref.Name)
			if err == nil && existing.Fingerprint == fp {
				unchanged++
				continue
			}
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				utils.Die("Failed to read identity", err, nil)
			}
		}

		data, err := g.Load(ref.Name)
		if err != nil {
			Log.WithError(err).WithField("user", ref.Name).Warn("cannot read reference image")
			skipped++
			continue
		}
		vec, ok, err := w.Encode(ctx, data)
		if err != nil {
			w.Close()
			utils.Die("Face engine failed", err, w.Cmd)
		}
		if !ok {
			Log.WithField("user", ref.Name).Warn("no face detected in reference image")
			skipped++
			continue
		}

		index.SetFingerprint(ref.Name, fp)
		if err := index.Add(ctx, ref.Name, vec, ref.Path); err != nil {
			utils.Die("Failed to store identity", err, nil)
		}
		encoded++
	}
	bar.Finish()

	identities, err := DB.ListIdentities(ctx)
	if err != nil {
		utils.Die("Failed to list identities", err, nil)
	}
	var pruned int
	for _, id := range identities {
		if present[id.Name] {
			continue
		}
		if err := index.Remove(ctx, id.Name); err != nil {
			utils.Die("Failed to prune identity", err, nil)
		}
		pruned++
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Reindex Complete. %d encoded, %d unchanged, %d skipped, %d pruned.\n", encoded, unchanged, skipped, pruned)
}
