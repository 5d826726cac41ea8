package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/asset-guard/internal/fingerprint"
)

var hashCmd = &cobra.Command{
	Use:   "hash <image>...",
	Short: "Print perceptual and content hashes of images",
	Long: `Compute the content hash and the four perceptual hash variants
(base, flipped, center cropped, center cropped + flipped) of each image.
With --whitelist the base hashes are also checked against WHITELIST_HASHES.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHash,
}

func init() {
	rootCmd.AddCommand(hashCmd)

	hashCmd.Flags().Int("size", 0, "Hash grid size (overrides HASH_SIZE)")
	hashCmd.Flags().Float64("crop", 0, "Center crop ratio (overrides HASH_CENTER_CROP_RATIO)")
	hashCmd.Flags().Bool("whitelist", false, "Check each image against the whitelist")
}

func runHash(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background(), needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	size := a.cfg.Hash.Size
	if v := mustGetInt(cmd, "size"); v > 0 {
		size = v
	}
	crop := a.cfg.Hash.CenterCropRatio
	if v := mustGetFloat64(cmd, "crop"); v > 0 {
		crop = v
	}
	checkWhitelist := mustGetBool(cmd, "whitelist")

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		set, err := fingerprint.ComputeVariantsFromBytes(data, size, crop)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		fmt.Printf("%s\n", path)
		fmt.Printf("  Content hash: %s\n", fingerprint.ContentHash(data))
		for _, h := range set.Hashes {
			fmt.Printf("  %-24s %s\n", h.Variant, h.Hex)
		}

		if checkWhitelist {
			d := a.whitelist.Check(set)
			if d.Matched {
				fmt.Printf("  Whitelist: matched %s (distance %d, threshold %d, variant %s)\n",
					d.Entry, d.Distance, d.ThresholdUsed, d.VariantUsed)
			} else if d.Distance < 0 {
				fmt.Printf("  Whitelist: no entries configured\n")
			} else {
				fmt.Printf("  Whitelist: no match (closest distance %d, threshold %d)\n", d.Distance, d.ThresholdUsed)
			}
		}
	}
	return nil
}
