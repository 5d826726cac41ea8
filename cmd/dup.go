package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/asset-guard/internal/dedup"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
)

var dupCmd = &cobra.Command{
	Use:   "dup [image]",
	Short: "Check whether an image is already registered in a collection",
	Long: `Look for a token in the collection whose IP metadata records the same
content hash as the given image (or --hash).

The quick check walks the newest tokens. With --full a miss, clean or degraded, falls through to
a scan of every token minted within the configured block lookback.`,
	Example: `  asset-guard dup photo.jpg
  asset-guard dup --hash 0xba78... --collection 0x1234... --full`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDup,
}

func init() {
	rootCmd.AddCommand(dupCmd)

	dupCmd.Flags().String("hash", "", "Content hash to look for instead of hashing an image")
	dupCmd.Flags().String("collection", "", "Collection address (overrides CHAIN_COLLECTION_ADDRESS)")
	dupCmd.Flags().Bool("full", false, "Scan the full mint history when the quick check misses")
	dupCmd.Flags().Duration("timeout", 10*time.Minute, "Upper bound for the full scan (0 for none)")
}

func runDup(cmd *cobra.Command, args []string) error {
	hash := mustGetString(cmd, "hash")
	switch {
	case hash == "" && len(args) == 0:
		return errors.New("an image or --hash is required")
	case hash != "" && len(args) > 0:
		return errors.New("use either an image or --hash, not both")
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		hash = fingerprint.ContentHash(data)
	}
	hash = fingerprint.NormalizeContentHash(hash)

	ctx := context.Background()
	a, err := newApp(ctx, needs{ledger: true, database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	collection, err := a.collectionFor(mustGetString(cmd, "collection"))
	if err != nil {
		return err
	}

	fmt.Printf("Looking for %s in %s\n", hash, collection.Hex())
	if a.tokens != nil {
		if n, err := a.tokens.Count(ctx, collection.Hex()); err == nil {
			fmt.Printf("Token index holds %d resolved tokens for this collection\n", n)
		}
	}

	m := a.scanner.Check(ctx, collection, hash, false)
	if fallsThrough(m, mustGetBool(cmd, "full")) {
		if m.IsDegraded() {
			fmt.Printf("Quick check incomplete (%s), scanning mint history...\n", m.Reason.Cause)
		} else {
			fmt.Printf("Quick check missed after %d tokens, scanning mint history...\n", m.Checked)
		}
		m = runFullScan(ctx, a.scanner, collection, hash, mustGetDuration(cmd, "timeout"))
	}

	printMatch(m)
	return nil
}

// fallsThrough reports whether a quick result should be followed by the
// full scan. Degraded quick results fall through like clean misses.
func fallsThrough(quick dedup.Match, full bool) bool {
	return full && !quick.Found
}

func runFullScan(ctx context.Context, scanner *dedup.Scanner, collection common.Address, hash string, timeout time.Duration) dedup.Match {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// progress is called from scanner workers; the bar itself is mutex guarded.
	var (
		once sync.Once
		bar  *progressbar.ProgressBar
	)
	m := scanner.FullScan(ctx, collection, hash, func(_, total int) {
		once.Do(func() {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Checking tokens"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("tokens"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		})
		_ = bar.Add(1)
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	return m
}

func printMatch(m dedup.Match) {
	fmt.Printf("Path:            %s\n", m.Path)
	fmt.Printf("Tokens checked:  %d (%d unreadable)\n", m.Checked, m.Unreadable)
	if m.Found {
		fmt.Printf("Duplicate found: token %s\n", m.TokenID)
		fmt.Printf("  Token URI:       %s\n", m.TokenURI)
		fmt.Printf("  IP metadata URI: %s\n", m.IPMetadataURI)
		return
	}
	if m.IsDegraded() {
		fmt.Printf("No duplicate found, but the scan was incomplete: %s\n", m.Reason.Cause)
		return
	}
	fmt.Println("No duplicate found")
}
