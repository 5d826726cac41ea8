package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/asset-guard/internal/precheck"
)

var precheckCmd = &cobra.Command{
	Use:   "precheck [image]...",
	Short: "Run the full registration precheck on images",
	Long: `Combine the whitelist, the duplicate scan and the risk classifier into a
proceed / review / block verdict for each image.

The duplicate scan runs when CHAIN_RPC_URL is set, the classifier when
RISK_PROVIDER is set. With DATABASE_URL every decision is recorded, and
--history lists the most recent ones.`,
	RunE: runPrecheck,
}

func init() {
	rootCmd.AddCommand(precheckCmd)

	precheckCmd.Flags().Bool("full-scan", false, "Scan the full mint history when the quick check misses")
	precheckCmd.Flags().Int("history", 0, "List the N most recent recorded decisions instead")
}

func runPrecheck(cmd *cobra.Command, args []string) error {
	history := mustGetInt(cmd, "history")
	if history == 0 && len(args) == 0 {
		return errors.New("at least one image is required")
	}

	ctx := context.Background()
	a, err := newApp(ctx, needs{database: true, risk: history == 0})
	if err != nil {
		return err
	}
	defer a.Close()

	if history > 0 {
		return printHistory(ctx, a, history)
	}

	if a.cfg.Chain.RPCURL != "" {
		if err := a.openLedger(ctx); err != nil {
			return err
		}
	}
	gate := a.gate(mustGetBool(cmd, "full-scan"))

	counts := map[precheck.Verdict]int{}
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		d, err := gate.Evaluate(ctx, data, filepath.Base(path))
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			continue
		}
		counts[d.Verdict]++
		printDecision(path, d)
	}

	fmt.Printf("\nProceed: %d, review: %d, block: %d\n",
		counts[precheck.VerdictProceed], counts[precheck.VerdictReview], counts[precheck.VerdictBlock])
	return nil
}

func printDecision(label string, d *precheck.Decision) {
	fmt.Printf("%s: %s\n", label, strings.ToUpper(string(d.Verdict)))
	fmt.Printf("  ID:              %s\n", d.ID)
	fmt.Printf("  Content hash:    %s\n", d.ContentHash)
	fmt.Printf("  Perceptual hash: %s\n", d.PerceptualHash)
	for _, r := range d.Reasons {
		fmt.Printf("  - %s\n", r)
	}
	if d.RiskError != "" {
		fmt.Printf("  Risk classifier failed: %s\n", d.RiskError)
	}
}

func printHistory(ctx context.Context, a *app, limit int) error {
	if a.decisions == nil {
		return errors.New("DATABASE_URL environment variable is required for --history")
	}
	decisions, err := a.decisions.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Println("No decisions recorded")
		return nil
	}
	for i := range decisions {
		d := &decisions[i]
		fmt.Printf("%s  %-7s  %s  %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"), d.Verdict, d.ID, d.FileName)
	}
	return nil
}
