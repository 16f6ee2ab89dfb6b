package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/leadcast/internal/app"
	"github.com/foxzi/leadcast/internal/campaign"
)

var statsCmd = &cobra.Command{
	Use:   "stats <persona>",
	Short: "Show subject variant statistics for a persona",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	persona, err := campaign.ParsePersonaID(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	report, err := application.Report(ctx, persona)
	if err != nil {
		return err
	}

	fmt.Printf("Persona: %s  Total clicks: %d\n\n", report.PersonaID, report.TotalClicks)
	if len(report.Variants) == 0 {
		fmt.Println("No variants yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tLANG\tALPHA\tBETA\tEST. CTR\tSUBJECT")
	for _, v := range report.Variants {
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%.0f\t%.3f\t%s\n", v.VariantID, v.Language, v.Alpha, v.Beta, v.EstimatedCTR, v.Content)
	}
	return w.Flush()
}
