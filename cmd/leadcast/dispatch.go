package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/leadcast/internal/app"
	"github.com/foxzi/leadcast/internal/dispatch"
)

var (
	dispatchLimit   int
	dispatchLeadIDs []string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one dispatch batch",
	Long: `Run one dispatch batch and print its summary. Without --lead the batch
takes due leads up to --limit. Interrupt stops the batch between leads.`,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().IntVarP(&dispatchLimit, "limit", "n", 0, "maximum leads (0 = configured default)")
	dispatchCmd.Flags().StringSliceVar(&dispatchLeadIDs, "lead", nil, "explicit lead ID (repeatable)")
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	summary, err := application.Dispatch(ctx, dispatch.Request{
		Limit:   dispatchLimit,
		LeadIDs: dispatchLeadIDs,
	})
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	printSummary(summary)
	return nil
}

func printSummary(s *dispatch.Summary) {
	fmt.Printf("Examined: %d  Processed: %d  Skipped: %d  Duration: %s\n\n",
		s.Examined, s.Processed, len(s.Skipped), s.Duration)

	if len(s.Entries) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LEAD\tPERSONA\tVARIANT\tPHASE\tAI\tSUBJECT")
		for _, e := range s.Entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n", e.LeadID, e.PersonaID, e.VariantID, e.Phase, e.AIGenerated, e.Subject)
		}
		w.Flush()
		fmt.Println()
	}

	if len(s.Skipped) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SKIPPED LEAD\tCATEGORY\tREASON")
		for _, sk := range s.Skipped {
			fmt.Fprintf(w, "%s\t%s\t%s\n", sk.LeadID, sk.Category, sk.Reason)
		}
		w.Flush()
	}
}
