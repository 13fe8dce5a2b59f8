// Package cmd defines the epc-ingest command line interface.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dame-data/epc-ingest/internal/app"
	"github.com/dame-data/epc-ingest/internal/epc"
)

var (
	cfgFile string
	envFile string
)

type appKeyType struct{}

var appKey appKeyType

// newApp is a variable so tests can substitute a pre-wired container.
var newApp = app.New

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epc-ingest",
		Short: "Monthly ingestion of UK EPC open data into GCS and BigQuery.",
		Long: `epc-ingest pulls Energy Performance Certificate data from the EPC
Open Data Communities API, lands it as gzipped NDJSON in Cloud Storage and
append-loads it into raw BigQuery tables. Per-step checkpoints make every
command safe to re-run.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile, envFile)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load before reading the environment (default .env)")

	cmd.AddCommand(newIngestCmd(), newRecsCmd(), newBackfillCmd(), newViewsCmd())
	return cmd
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "epc-ingest: %v\n", err)
		os.Exit(1)
	}
}

func appFrom(cmd *cobra.Command) *app.App {
	a, _ := cmd.Context().Value(appKey).(*app.App)
	return a
}

// parseKinds maps flag values to kinds; an empty list selects all kinds.
func parseKinds(values []string) ([]epc.Kind, error) {
	kinds := make([]epc.Kind, 0, len(values))
	for _, v := range values {
		kind, err := epc.ParseKind(v)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// resolveWindow prefers explicit flags over the configured default window.
func resolveWindow(a *app.App, startFlag, endFlag string) (epc.Month, epc.Month, error) {
	if startFlag == "" && endFlag == "" {
		if a.Config.Window.StartMonth == "" {
			return epc.Month{}, epc.Month{}, fmt.Errorf("no month window: pass --start/--end or set window.start_month")
		}
		return a.Config.MonthWindow()
	}
	if endFlag == "" {
		endFlag = startFlag
	}
	start, err := epc.ParseMonth(startFlag)
	if err != nil {
		return epc.Month{}, epc.Month{}, fmt.Errorf("--start: %w", err)
	}
	end, err := epc.ParseMonth(endFlag)
	if err != nil {
		return epc.Month{}, epc.Month{}, fmt.Errorf("--end: %w", err)
	}
	return start, end, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
