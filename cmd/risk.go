package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/asset-guard/internal/ai"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
)

var riskCmd = &cobra.Command{
	Use:   "risk <image>...",
	Short: "Ask the configured vision model for a rights risk assessment",
	Long: `Send each image to the provider named by RISK_PROVIDER (openai, gemini or
ollama) and print its rights risk label, confidence and reasons.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRisk,
}

func init() {
	rootCmd.AddCommand(riskCmd)
}

func runRisk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, needs{risk: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.classifier == nil {
		return errors.New("RISK_PROVIDER environment variable is required")
	}

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		img, err := fingerprint.Decode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		b := img.Bounds()
		assessment, err := a.classifier.Classify(ctx, data, &ai.ImageInfo{
			FileName:    filepath.Base(path),
			Width:       b.Dx(),
			Height:      b.Dy(),
			ContentHash: fingerprint.ContentHash(data),
		})
		if err != nil {
			fmt.Printf("%s: classification failed: %v\n", path, err)
			continue
		}

		fmt.Printf("%s\n", path)
		fmt.Printf("  Risk:         %s (confidence %.2f)\n", assessment.Label, assessment.Confidence)
		fmt.Printf("  AI generated: %v\n", assessment.AIGenerated)
		if len(assessment.Reasons) > 0 {
			fmt.Printf("  Reasons:      %s\n", strings.Join(assessment.Reasons, "; "))
		}
	}

	usage := a.classifier.GetUsage()
	fmt.Printf("\n%s usage: %d input tokens, %d output tokens, $%.4f\n",
		a.classifier.Name(), usage.InputTokens, usage.OutputTokens, usage.TotalCost)
	return nil
}
