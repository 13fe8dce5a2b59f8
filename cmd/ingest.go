package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dame-data/epc-ingest/internal/epc"
	"github.com/dame-data/epc-ingest/internal/orchestrator"
)

func newIngestCmd() *cobra.Command {
	var (
		kindFlags []string
		startFlag string
		endFlag   string
		withRecs  bool
		dryRun    bool
		resetFlag string
		lmkKeys   []string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest certificates (and optionally recommendations) for a month window.",
		Long: `ingest walks every (kind, month) in the window, fetches certificates
from the API, lands them in Cloud Storage and loads them into BigQuery.
Months with an existing checkpoint are skipped, so re-running after a
partial failure resumes where the last run stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()

			kinds, err := parseKinds(kindFlags)
			if err != nil {
				return err
			}
			start, end, err := resolveWindow(a, startFlag, endFlag)
			if err != nil {
				return err
			}
			var reset epc.Step
			if resetFlag != "" {
				if reset, err = epc.ParseStep(resetFlag); err != nil {
					return err
				}
			}

			if !dryRun {
				if err := a.Loader.EnsureDataset(ctx); err != nil {
					return err
				}
			}

			results, err := a.Orchestrator().Run(ctx, orchestrator.Options{
				Kinds:     kinds,
				Start:     start,
				End:       end,
				WithRecs:  withRecs,
				DryRun:    dryRun,
				ResetStep: reset,
				LMKKeys:   lmkKeys,
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd, results); err != nil {
				return err
			}

			failed := 0
			for _, res := range results {
				if res.Status == orchestrator.StatusError {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d steps failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&kindFlags, "kinds", nil, "kinds to ingest: domestic, non-domestic (default both)")
	cmd.Flags().StringVar(&startFlag, "start", "", "first month, YYYY-MM")
	cmd.Flags().StringVar(&endFlag, "end", "", "last month, YYYY-MM (default --start)")
	cmd.Flags().BoolVar(&withRecs, "with-recs", true, "also ingest recommendations per month")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without fetching or writing")
	cmd.Flags().StringVar(&resetFlag, "reset", "", "clear this step's checkpoints first: certs or recs")
	cmd.Flags().StringSliceVar(&lmkKeys, "lmk", nil, "explicit LMK keys for the recs step (bypasses warehouse derivation)")
	return cmd
}
