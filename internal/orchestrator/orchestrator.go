// Package orchestrator drives idempotent monthly EPC ingestion. For a month
// range and a set of kinds it walks (month, kind, step) units in a fixed
// order, skips already-checkpointed steps, and runs fetch, normalize and
// sink for the rest. Completion is recorded with a checkpoint, including
// zero-row completions, so empty periods are not re-queried on the next run.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dame-data/epc-ingest/internal/checkpoint"
	"github.com/dame-data/epc-ingest/internal/epc"
	"github.com/dame-data/epc-ingest/internal/metrics"
	"github.com/dame-data/epc-ingest/internal/normalize"
	"github.com/dame-data/epc-ingest/internal/warehouse"
)

// Fetcher supplies raw records from the EPC API.
type Fetcher interface {
	CertificatesForMonth(ctx context.Context, kind epc.Kind, month epc.Month) ([]epc.Record, error)
	RecommendationsForLMK(ctx context.Context, kind epc.Kind, lmkKey string) ([]epc.Record, error)
}

// Sink lands normalized envelopes as a blob and loads it into a raw table.
type Sink interface {
	WriteEnvelopes(ctx context.Context, kind epc.Kind, key string, envelopes []epc.Envelope) (string, error)
	LoadTable(ctx context.Context, blobURI, table string, clustering []string) (string, error)
}

// Checkpoints records step completion.
type Checkpoints interface {
	IsDone(ctx context.Context, kind epc.Kind, month epc.Month, step epc.Step) bool
	Write(ctx context.Context, kind epc.Kind, month epc.Month, step epc.Step, meta map[string]any) (*checkpoint.Checkpoint, error)
	Clear(ctx context.Context, kind epc.Kind, month epc.Month, step epc.Step) error
}

// LMKSource derives the certificate keys for a month from the warehouse.
type LMKSource interface {
	DistinctLMKs(ctx context.Context, kind epc.Kind, month epc.Month) ([]string, error)
}

// Notifier receives completed step results. Optional.
type Notifier interface {
	StepCompleted(ctx context.Context, res Result) error
}

// Status is the final outcome of one (kind, month, step) unit.
type Status string

// Step outcomes.
const (
	StatusLoaded  Status = "loaded"
	StatusSkipped Status = "skipped"
	StatusNoData  Status = "no-data"
	StatusNoLMKs  Status = "no-lmks"
	StatusNoRecs  Status = "no-recs"
	StatusDryRun  Status = "dry-run"
	StatusError   Status = "error"
)

// Result is the per-unit outcome reported to the caller.
type Result struct {
	RunID       string   `json:"run_id,omitempty"`
	Kind        epc.Kind `json:"kind"`
	Month       string   `json:"month"`
	Step        epc.Step `json:"step,omitempty"`
	Status      Status   `json:"status"`
	Rows        int      `json:"rows"`
	BlobURI     string   `json:"blob_uri,omitempty"`
	Table       string   `json:"table,omitempty"`
	SkippedLMKs int      `json:"skipped_lmks,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Options selects the work for one run.
type Options struct {
	Kinds    []epc.Kind
	Start    epc.Month
	End      epc.Month
	WithRecs bool
	DryRun   bool

	// RecsOnly runs the recs step without running certs first. Useful for
	// re-driving recommendations after a certs-only backlog run; the step
	// still skips months whose recs checkpoint exists.
	RecsOnly bool

	// ResetStep, when set, clears that step's checkpoint for every selected
	// (kind, month) before running.
	ResetStep epc.Step

	// LMKKeys, when non-empty, drives recommendations ingestion from this
	// explicit key list instead of deriving keys from certificate data.
	// This is the only mode that bypasses the certs-before-recs dependency.
	LMKKeys []string
}

// Orchestrator sequences the units of work. Execution is strictly
// sequential, which is what guarantees a single writer per checkpoint key.
type Orchestrator struct {
	fetcher     Fetcher
	sink        Sink
	checkpoints Checkpoints
	lmks        LMKSource
	notifier    Notifier
	log         *zap.Logger
	now         func() time.Time
}

// New constructs an Orchestrator. notifier may be nil.
func New(fetcher Fetcher, sink Sink, checkpoints Checkpoints, lmks LMKSource, notifier Notifier, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		fetcher:     fetcher,
		sink:        sink,
		checkpoints: checkpoints,
		lmks:        lmks,
		notifier:    notifier,
		log:         log,
		now:         time.Now,
	}
}

// Run executes the plan and returns one result per unit. A unit's failure is
// recorded and does not stop the run, except that a failed certs step skips
// the recs step for that same (kind, month).
func (o *Orchestrator) Run(ctx context.Context, opts Options) ([]Result, error) {
	if len(opts.Kinds) == 0 {
		opts.Kinds = epc.Kinds
	}
	months, err := epc.MonthRange(opts.Start, opts.End)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := o.log.With(zap.String("run_id", runID))
	log.Info("plan",
		zap.Int("months", len(months)),
		zap.String("start", opts.Start.String()),
		zap.String("end", opts.End.String()),
		zap.Bool("with_recs", opts.WithRecs),
		zap.Bool("dry_run", opts.DryRun),
	)

	var results []Result
	for _, month := range months {
		for _, kind := range opts.Kinds {
			log.Info("month/kind begin", zap.String("kind", string(kind)), zap.String("month", month.String()))

			if opts.ResetStep != "" {
				if err := o.checkpoints.Clear(ctx, kind, month, opts.ResetStep); err != nil {
					// Non-fatal; the next attempt re-creates it.
					log.Warn("failed to clear checkpoint",
						zap.String("kind", string(kind)),
						zap.String("month", month.String()),
						zap.String("step", string(opts.ResetStep)),
						zap.Error(err),
					)
				}
			}

			if opts.DryRun {
				steps := "certs"
				if opts.WithRecs {
					steps = "certs -> recs"
				}
				log.Info("dry-run: would run steps",
					zap.String("kind", string(kind)),
					zap.String("month", month.String()),
					zap.String("steps", steps),
				)
				results = append(results, Result{RunID: runID, Kind: kind, Month: month.String(), Status: StatusDryRun})
				continue
			}

			if !opts.RecsOnly {
				certs := o.runStep(ctx, runID, kind, month, epc.StepCerts, opts)
				results = append(results, certs)
				if certs.Status == StatusError {
					// Recs depend on the month's certificates; skip them here.
					continue
				}
			}

			if opts.WithRecs || opts.RecsOnly {
				results = append(results, o.runStep(ctx, runID, kind, month, epc.StepRecs, opts))
			}
		}
	}
	return results, nil
}

func (o *Orchestrator) runStep(ctx context.Context, runID string, kind epc.Kind, month epc.Month, step epc.Step, opts Options) Result {
	log := o.log.With(
		zap.String("run_id", runID),
		zap.String("kind", string(kind)),
		zap.String("month", month.String()),
		zap.String("step", string(step)),
	)

	if o.checkpoints.IsDone(ctx, kind, month, step) {
		log.Info("skip: checkpoint exists")
		return Result{RunID: runID, Kind: kind, Month: month.String(), Step: step, Status: StatusSkipped}
	}

	started := o.now()
	var res Result
	if step == epc.StepCerts {
		res = o.ingestCerts(ctx, kind, month, log)
	} else {
		res = o.ingestRecs(ctx, kind, month, opts.LMKKeys, log)
	}
	res.RunID = runID
	res.Kind = kind
	res.Month = month.String()
	res.Step = step

	if res.Status != StatusError {
		meta := map[string]any{
			"rows":   res.Rows,
			"status": string(res.Status),
			"run_id": runID,
		}
		if res.BlobURI != "" {
			meta["blob_uri"] = res.BlobURI
		}
		if res.Table != "" {
			meta["table"] = res.Table
		}
		if _, err := o.checkpoints.Write(ctx, kind, month, step, meta); err != nil {
			// Without a checkpoint the step is not durably complete.
			res.Status = StatusError
			res.Error = fmt.Sprintf("write checkpoint: %v", err)
		}
	}

	elapsed := o.now().Sub(started)
	metrics.ObserveStep(string(kind), string(step), string(res.Status), elapsed.Seconds())
	metrics.ObserveRows(string(kind), string(step), res.Rows)

	switch res.Status {
	case StatusError:
		log.Error("step failed", zap.String("error", res.Error), zap.Duration("elapsed", elapsed))
	default:
		log.Info("step done",
			zap.String("status", string(res.Status)),
			zap.Int("rows", res.Rows),
			zap.Duration("elapsed", elapsed),
		)
	}

	o.notify(ctx, res, log)
	return res
}

func (o *Orchestrator) ingestCerts(ctx context.Context, kind epc.Kind, month epc.Month, log *zap.Logger) Result {
	records, err := o.fetcher.CertificatesForMonth(ctx, kind, month)
	if err != nil {
		return Result{Status: StatusError, Error: fmt.Sprintf("fetch certificates: %v", err)}
	}

	envelopes := make([]epc.Envelope, 0, len(records))
	for _, rec := range records {
		if env, ok := normalize.Certificate(rec); ok {
			envelopes = append(envelopes, env)
		}
	}
	if dropped := len(records) - len(envelopes); dropped > 0 {
		log.Warn("dropped records without lmk key", zap.Int("dropped", dropped))
	}
	if len(envelopes) == 0 {
		return Result{Status: StatusNoData}
	}

	return o.land(ctx, kind, epc.ObjectKey(kind, month, epc.StepCerts), warehouse.CertTable(kind), warehouse.CertClustering(kind), envelopes)
}

func (o *Orchestrator) ingestRecs(ctx context.Context, kind epc.Kind, month epc.Month, lmkKeys []string, log *zap.Logger) Result {
	if len(lmkKeys) == 0 {
		derived, err := o.lmks.DistinctLMKs(ctx, kind, month)
		if err != nil {
			return Result{Status: StatusError, Error: fmt.Sprintf("derive lmk keys: %v", err)}
		}
		lmkKeys = derived
	}
	if len(lmkKeys) == 0 {
		return Result{Status: StatusNoLMKs}
	}

	var envelopes []epc.Envelope
	skipped := 0
	for _, lmk := range lmkKeys {
		if err := ctx.Err(); err != nil {
			return Result{Status: StatusError, Error: err.Error(), SkippedLMKs: skipped}
		}
		records, err := o.fetcher.RecommendationsForLMK(ctx, kind, lmk)
		if err != nil {
			// A single certificate's failure does not abort the month.
			skipped++
			log.Warn("skipping lmk after recommendations fetch failure", zap.String("lmk_key", lmk), zap.Error(err))
			continue
		}
		for _, rec := range records {
			if env, ok := normalize.Recommendation(rec); ok {
				envelopes = append(envelopes, env)
			}
		}
	}
	if len(envelopes) == 0 {
		return Result{Status: StatusNoRecs, SkippedLMKs: skipped}
	}

	res := o.land(ctx, kind, epc.ObjectKey(kind, month, epc.StepRecs), warehouse.RecsTable(kind), warehouse.RecsClustering(kind), envelopes)
	res.SkippedLMKs = skipped
	return res
}

// land writes the blob and loads the table; both must succeed.
func (o *Orchestrator) land(ctx context.Context, kind epc.Kind, key, table string, clustering []string, envelopes []epc.Envelope) Result {
	uri, err := o.sink.WriteEnvelopes(ctx, kind, key, envelopes)
	if err != nil {
		return Result{Status: StatusError, Error: fmt.Sprintf("write blob: %v", err)}
	}
	tableID, err := o.sink.LoadTable(ctx, uri, table, clustering)
	if err != nil {
		return Result{Status: StatusError, Rows: len(envelopes), BlobURI: uri, Error: fmt.Sprintf("load table: %v", err)}
	}
	return Result{Status: StatusLoaded, Rows: len(envelopes), BlobURI: uri, Table: tableID}
}

func (o *Orchestrator) notify(ctx context.Context, res Result, log *zap.Logger) {
	if o.notifier == nil || res.Status == StatusSkipped {
		return
	}
	if err := o.notifier.StepCompleted(ctx, res); err != nil {
		log.Warn("step notification failed", zap.Error(err))
	}
}
