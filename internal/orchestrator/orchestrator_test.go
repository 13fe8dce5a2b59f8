package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dame-data/epc-ingest/internal/checkpoint"
	"github.com/dame-data/epc-ingest/internal/epc"
)

type fakeFetcher struct {
	certs     map[string][]epc.Record
	certsErr  error
	recs      map[string][]epc.Record
	recsErr   map[string]error
	certCalls int
	recCalls  []string
}

func (f *fakeFetcher) CertificatesForMonth(_ context.Context, kind epc.Kind, month epc.Month) ([]epc.Record, error) {
	f.certCalls++
	if f.certsErr != nil {
		return nil, f.certsErr
	}
	return f.certs[fmt.Sprintf("%s|%s", kind, month)], nil
}

func (f *fakeFetcher) RecommendationsForLMK(_ context.Context, _ epc.Kind, lmkKey string) ([]epc.Record, error) {
	f.recCalls = append(f.recCalls, lmkKey)
	if err := f.recsErr[lmkKey]; err != nil {
		return nil, err
	}
	return f.recs[lmkKey], nil
}

type fakeSink struct {
	written map[string][]epc.Envelope
	loaded  []string
	loadErr error
}

func newFakeSink() *fakeSink {
	return &fakeSink{written: map[string][]epc.Envelope{}}
}

func (f *fakeSink) WriteEnvelopes(_ context.Context, _ epc.Kind, key string, envelopes []epc.Envelope) (string, error) {
	f.written[key] = envelopes
	return "mem://test/" + key, nil
}

func (f *fakeSink) LoadTable(_ context.Context, blobURI, table string, _ []string) (string, error) {
	if f.loadErr != nil {
		return "", f.loadErr
	}
	f.loaded = append(f.loaded, blobURI)
	return "p.d." + table, nil
}

type fakeCheckpoints struct {
	done     map[string]map[string]any
	cleared  []string
	writeErr error
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{done: map[string]map[string]any{}}
}

func (f *fakeCheckpoints) IsDone(_ context.Context, kind epc.Kind, month epc.Month, step epc.Step) bool {
	_, ok := f.done[checkpoint.Key(kind, month, step)]
	return ok
}

func (f *fakeCheckpoints) Write(_ context.Context, kind epc.Kind, month epc.Month, step epc.Step, meta map[string]any) (*checkpoint.Checkpoint, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.done[checkpoint.Key(kind, month, step)] = meta
	return &checkpoint.Checkpoint{Kind: kind, Month: month.String(), Step: step, Status: "done", Meta: meta, Version: 1}, nil
}

func (f *fakeCheckpoints) Clear(_ context.Context, kind epc.Kind, month epc.Month, step epc.Step) error {
	key := checkpoint.Key(kind, month, step)
	delete(f.done, key)
	f.cleared = append(f.cleared, key)
	return nil
}

type fakeLMKs struct {
	lmks   []string
	err    error
	called int
}

func (f *fakeLMKs) DistinctLMKs(context.Context, epc.Kind, epc.Month) ([]string, error) {
	f.called++
	return f.lmks, f.err
}

type fakeNotifier struct {
	results []Result
}

func (f *fakeNotifier) StepCompleted(_ context.Context, res Result) error {
	f.results = append(f.results, res)
	return nil
}

func mustMonth(t *testing.T, s string) epc.Month {
	t.Helper()
	m, err := epc.ParseMonth(s)
	require.NoError(t, err)
	return m
}

func cert(lmk string) epc.Record {
	return epc.Record{"lmk-key": lmk, "lodgement-date": "2024-01-15", "postcode": "SW1A 1AA"}
}

func TestRunLoadsThenSkips(t *testing.T) {
	month := mustMonth(t, "2024-01")
	fetcher := &fakeFetcher{certs: map[string][]epc.Record{
		"domestic|2024-01": {cert("A1"), cert("A2")},
	}}
	sink := newFakeSink()
	cps := newFakeCheckpoints()
	orch := New(fetcher, sink, cps, &fakeLMKs{}, nil, nil)

	opts := Options{Kinds: []epc.Kind{epc.KindDomestic}, Start: month, End: month}
	results, err := orch.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusLoaded, results[0].Status)
	assert.Equal(t, 2, results[0].Rows)
	assert.Equal(t, "p.d.domestic_raw_json", results[0].Table)
	assert.NotEmpty(t, results[0].RunID)
	assert.Contains(t, sink.written, "epc/json/domestic/202401/certs/part-0001.json.gz")

	// Second run finds the checkpoint and does no work.
	results, err = orch.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.Equal(t, 1, fetcher.certCalls)
}

func TestZeroRowMonthIsCheckpointed(t *testing.T) {
	month := mustMonth(t, "2024-02")
	fetcher := &fakeFetcher{}
	sink := newFakeSink()
	cps := newFakeCheckpoints()
	orch := New(fetcher, sink, cps, &fakeLMKs{}, nil, nil)

	results, err := orch.Run(context.Background(), Options{Kinds: []epc.Kind{epc.KindDomestic}, Start: month, End: month})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusNoData, results[0].Status)
	assert.Empty(t, sink.written)
	assert.True(t, cps.IsDone(context.Background(), epc.KindDomestic, month, epc.StepCerts))
}

func TestCertsFailureSkipsRecs(t *testing.T) {
	month := mustMonth(t, "2024-03")
	fetcher := &fakeFetcher{certsErr: errors.New("boom")}
	cps := newFakeCheckpoints()
	lmks := &fakeLMKs{lmks: []string{"A1"}}
	orch := New(fetcher, newFakeSink(), cps, lmks, nil, nil)

	results, err := orch.Run(context.Background(), Options{
		Kinds: []epc.Kind{epc.KindDomestic}, Start: month, End: month, WithRecs: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusError, results[0].Status)
	assert.Contains(t, results[0].Error, "boom")
	assert.Zero(t, lmks.called)
	assert.False(t, cps.IsDone(context.Background(), epc.KindDomestic, month, epc.StepCerts))
}

func TestDryRunDoesNoIO(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := newFakeSink()
	cps := newFakeCheckpoints()
	orch := New(fetcher, sink, cps, &fakeLMKs{}, nil, nil)

	results, err := orch.Run(context.Background(), Options{
		Start:    mustMonth(t, "2024-01"),
		End:      mustMonth(t, "2024-02"),
		WithRecs: true,
		DryRun:   true,
	})
	require.NoError(t, err)
	// One result per (month, kind): 2 months x 2 default kinds.
	require.Len(t, results, 4)
	for _, res := range results {
		assert.Equal(t, StatusDryRun, res.Status)
	}
	assert.Zero(t, fetcher.certCalls)
	assert.Empty(t, sink.written)
	assert.Empty(t, cps.done)
}

func TestResetClearsBeforeRunning(t *testing.T) {
	month := mustMonth(t, "2024-04")
	cps := newFakeCheckpoints()
	_, err := cps.Write(context.Background(), epc.KindDomestic, month, epc.StepCerts, nil)
	require.NoError(t, err)

	fetcher := &fakeFetcher{certs: map[string][]epc.Record{
		"domestic|2024-04": {cert("B1")},
	}}
	orch := New(fetcher, newFakeSink(), cps, &fakeLMKs{}, nil, nil)

	results, err := orch.Run(context.Background(), Options{
		Kinds: []epc.Kind{epc.KindDomestic}, Start: month, End: month, ResetStep: epc.StepCerts,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusLoaded, results[0].Status)
	assert.Contains(t, cps.cleared, checkpoint.Key(epc.KindDomestic, month, epc.StepCerts))
	assert.Equal(t, 1, fetcher.certCalls)
}

func TestRecsDerivedFromWarehouse(t *testing.T) {
	month := mustMonth(t, "2024-05")
	fetcher := &fakeFetcher{
		certs: map[string][]epc.Record{"domestic|2024-05": {cert("C1")}},
		recs: map[string][]epc.Record{
			"C1": {{"lmk-key": "C1", "improvement-item": "1"}},
		},
	}
	lmks := &fakeLMKs{lmks: []string{"C1"}}
	sink := newFakeSink()
	notifier := &fakeNotifier{}
	orch := New(fetcher, sink, newFakeCheckpoints(), lmks, notifier, nil)

	results, err := orch.Run(context.Background(), Options{
		Kinds: []epc.Kind{epc.KindDomestic}, Start: month, End: month, WithRecs: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusLoaded, results[1].Status)
	assert.Equal(t, 1, results[1].Rows)
	assert.Equal(t, 1, lmks.called)
	assert.Contains(t, sink.written, "epc/json/domestic/202405/recs/part-0001.json.gz")
	assert.Len(t, notifier.results, 2)
}

func TestRecsExplicitLMKListBypassesDerivation(t *testing.T) {
	month := mustMonth(t, "2024-06")
	fetcher := &fakeFetcher{
		certs: map[string][]epc.Record{"domestic|2024-06": {cert("D1")}},
		recs: map[string][]epc.Record{
			"X9": {{"lmk-key": "X9", "improvement-item": "2"}},
		},
	}
	lmks := &fakeLMKs{err: errors.New("must not be queried")}
	orch := New(fetcher, newFakeSink(), newFakeCheckpoints(), lmks, nil, nil)

	results, err := orch.Run(context.Background(), Options{
		Kinds:    []epc.Kind{epc.KindDomestic},
		Start:    month,
		End:      month,
		WithRecs: true,
		LMKKeys:  []string{"X9"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusLoaded, results[1].Status)
	assert.Zero(t, lmks.called)
	assert.Equal(t, []string{"X9"}, fetcher.recCalls)
}

func TestRecsPerLMKFailureSkipsThatKey(t *testing.T) {
	month := mustMonth(t, "2024-07")
	fetcher := &fakeFetcher{
		certs: map[string][]epc.Record{"domestic|2024-07": {cert("E1"), cert("E2")}},
		recs: map[string][]epc.Record{
			"E2": {{"lmk-key": "E2", "improvement-item": "1"}},
		},
		recsErr: map[string]error{"E1": errors.New("server melted")},
	}
	lmks := &fakeLMKs{lmks: []string{"E1", "E2"}}
	orch := New(fetcher, newFakeSink(), newFakeCheckpoints(), lmks, nil, nil)

	results, err := orch.Run(context.Background(), Options{
		Kinds: []epc.Kind{epc.KindDomestic}, Start: month, End: month, WithRecs: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusLoaded, results[1].Status)
	assert.Equal(t, 1, results[1].Rows)
	assert.Equal(t, 1, results[1].SkippedLMKs)
}

func TestRecsNoLMKs(t *testing.T) {
	month := mustMonth(t, "2024-08")
	fetcher := &fakeFetcher{certs: map[string][]epc.Record{"domestic|2024-08": {cert("F1")}}}
	cps := newFakeCheckpoints()
	orch := New(fetcher, newFakeSink(), cps, &fakeLMKs{}, nil, nil)

	results, err := orch.Run(context.Background(), Options{
		Kinds: []epc.Kind{epc.KindDomestic}, Start: month, End: month, WithRecs: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusNoLMKs, results[1].Status)
	assert.True(t, cps.IsDone(context.Background(), epc.KindDomestic, month, epc.StepRecs))
}

func TestRecsOnlySkipsCerts(t *testing.T) {
	month := mustMonth(t, "2024-10")
	fetcher := &fakeFetcher{recs: map[string][]epc.Record{
		"H1": {{"lmk-key": "H1", "improvement-item": "1"}},
	}}
	lmks := &fakeLMKs{lmks: []string{"H1"}}
	orch := New(fetcher, newFakeSink(), newFakeCheckpoints(), lmks, nil, nil)

	results, err := orch.Run(context.Background(), Options{
		Kinds: []epc.Kind{epc.KindDomestic}, Start: month, End: month, RecsOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, epc.StepRecs, results[0].Step)
	assert.Equal(t, StatusLoaded, results[0].Status)
	assert.Zero(t, fetcher.certCalls)
}

func TestCheckpointWriteFailureIsAnError(t *testing.T) {
	month := mustMonth(t, "2024-09")
	fetcher := &fakeFetcher{certs: map[string][]epc.Record{"domestic|2024-09": {cert("G1")}}}
	cps := newFakeCheckpoints()
	cps.writeErr = errors.New("bucket offline")
	orch := New(fetcher, newFakeSink(), cps, &fakeLMKs{}, nil, nil)

	results, err := orch.Run(context.Background(), Options{Kinds: []epc.Kind{epc.KindDomestic}, Start: month, End: month})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusError, results[0].Status)
	assert.Contains(t, results[0].Error, "bucket offline")
}
