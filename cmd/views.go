package cmd

import (
	"github.com/spf13/cobra"
)

func newViewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply-views",
		Short: "Create or replace the curated BigQuery views over the raw tables.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			if err := a.Loader.EnsureDataset(cmd.Context()); err != nil {
				return err
			}
			return a.Loader.ApplyViews(cmd.Context())
		},
	}
}
