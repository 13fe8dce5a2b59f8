package cmd

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/spf13/cobra"

	"github.com/dame-data/epc-ingest/internal/backfill"
	"github.com/dame-data/epc-ingest/internal/epc"
)

func newBackfillCmd() *cobra.Command {
	var (
		kindFlag string
		year     int
		localZip string
		httpURL  string
		gcsURI   string
		s3URI    string
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Load one year of historical recommendations from a ZIP archive.",
		Long: `backfill reads the recommendations CSV out of a published yearly
archive (local file, HTTP, gs:// or s3://) and lands it through the same
normalize and load path as monthly ingestion.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()

			kind, err := epc.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			if year < 2008 {
				return fmt.Errorf("--year must be 2008 or later, got %d", year)
			}

			var awsSession *session.Session
			if s3URI != "" {
				awsSession, err = session.NewSessionWithOptions(session.Options{
					SharedConfigState: session.SharedConfigEnable,
				})
				if err != nil {
					return fmt.Errorf("create AWS session: %w", err)
				}
			}

			if err := a.Loader.EnsureDataset(ctx); err != nil {
				return err
			}

			bf := backfill.New(a.Sink, a.GCS, awsSession, a.Log)
			res, err := bf.Run(ctx, kind, year, backfill.ArchiveSource{
				LocalPath: localZip,
				HTTPURL:   httpURL,
				GCSURI:    gcsURI,
				S3URI:     s3URI,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "", "certificate kind: domestic or non-domestic")
	cmd.Flags().IntVar(&year, "year", 0, "calendar year the archive covers")
	cmd.Flags().StringVar(&localZip, "local-zip", "", "path to a local archive")
	cmd.Flags().StringVar(&httpURL, "http-url", "", "HTTP(S) URL of the archive")
	cmd.Flags().StringVar(&gcsURI, "gcs-uri", "", "gs:// URI of the archive")
	cmd.Flags().StringVar(&s3URI, "s3-uri", "", "s3:// URI of the archive")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}
