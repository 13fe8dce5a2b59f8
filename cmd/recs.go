package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dame-data/epc-ingest/internal/orchestrator"
)

func newRecsCmd() *cobra.Command {
	var (
		kindFlags []string
		startFlag string
		endFlag   string
		lmkKeys   []string
	)

	cmd := &cobra.Command{
		Use:   "recs",
		Short: "Ingest only the recommendations step for a month window.",
		Long: `recs re-drives recommendations without touching certificates, for
months whose certs step already ran (keys are derived from the warehouse)
or for an explicit --lmk key list.`,
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

			if err := a.Loader.EnsureDataset(ctx); err != nil {
				return err
			}

			results, err := a.Orchestrator().Run(ctx, orchestrator.Options{
				Kinds:    kinds,
				Start:    start,
				End:      end,
				RecsOnly: true,
				LMKKeys:  lmkKeys,
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd, results); err != nil {
				return err
			}

			for _, res := range results {
				if res.Status == orchestrator.StatusError {
					return fmt.Errorf("recommendations step failed for %s %s", res.Kind, res.Month)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&kindFlags, "kinds", nil, "kinds to ingest: domestic, non-domestic (default both)")
	cmd.Flags().StringVar(&startFlag, "start", "", "first month, YYYY-MM")
	cmd.Flags().StringVar(&endFlag, "end", "", "last month, YYYY-MM (default --start)")
	cmd.Flags().StringSliceVar(&lmkKeys, "lmk", nil, "explicit LMK keys (bypasses warehouse derivation)")
	return cmd
}
