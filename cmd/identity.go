package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/asset-guard/internal/identity"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <reference> <capture>",
	Short: "Check that a capture shows the same person as a reference photo",
	Long: `Compare the face in a live capture against a reference photo.
Face embeddings are compared by cosine similarity. When no face can be
embedded the images' perceptual hashes are compared instead.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

var livenessCmd = &cobra.Command{
	Use:   "liveness <frame-dir>",
	Short: "Run the liveness probe over a directory of frames",
	Long: `Feed the image files in a directory, in name order, to the liveness probe.
The probe passes once the face has moved and blinked within the configured
duration.`,
	Args: cobra.ExactArgs(1),
	RunE: runLiveness,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(livenessCmd)

	livenessCmd.Flags().Duration("interval", identity.DefaultFrameInterval, "Time between consecutive frames")
}

func runVerify(cmd *cobra.Command, args []string) error {
	reference, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading reference: %w", err)
	}
	capture, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading capture: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, needs{faces: true})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.verifier.VerifyBytes(ctx, reference, capture)
	if err != nil {
		return err
	}

	fmt.Printf("Status:    %s\n", res.Status)
	fmt.Printf("Path:      %s\n", res.Path)
	if res.Similarity != nil {
		fmt.Printf("Similarity: %.4f (threshold %.2f)\n", *res.Similarity, res.Threshold)
	}
	if res.Distance != nil {
		fmt.Printf("Distance:  %d (threshold %.0f)\n", *res.Distance, res.Threshold)
	}
	fmt.Printf("Faces:     %d in capture\n", res.Faces)
	if res.Reason != "" {
		fmt.Printf("Reason:    %s\n", res.Reason)
	}
	if !res.Verified() {
		fmt.Println("Identity NOT verified")
	}
	return nil
}

func runLiveness(cmd *cobra.Command, args []string) error {
	src, err := identity.NewDirSource(args[0], mustGetDuration(cmd, "interval"))
	if err != nil {
		return err
	}
	if src.Len() == 0 {
		return fmt.Errorf("no image frames in %s", args[0])
	}

	ctx := context.Background()
	a, err := newApp(ctx, needs{faces: true})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.liveness.Check(ctx, src)
	if err != nil {
		return err
	}

	fmt.Printf("Session:  %s\n", res.SessionID)
	fmt.Printf("Passed:   %v\n", res.Passed)
	fmt.Printf("Moved:    %v\n", res.Moved)
	fmt.Printf("Blinked:  %v\n", res.Blinked)
	fmt.Printf("Frames:   %d (%d with a face)\n", res.Frames, res.FaceFrames)
	fmt.Printf("Elapsed:  %s\n", res.Elapsed)
	if res.Reason != "" {
		fmt.Printf("Reason:   %s\n", res.Reason)
	}
	return nil
}
