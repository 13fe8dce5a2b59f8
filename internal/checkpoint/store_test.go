package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dame-data/epc-ingest/internal/epc"
	"github.com/dame-data/epc-ingest/internal/storage"
	"github.com/dame-data/epc-ingest/internal/storage/memory"
)

var month = epc.Month{Year: 2024, Mon: time.January}

func TestKey(t *testing.T) {
	t.Parallel()
	require.Equal(t, "state/domestic/202401/certs.json", Key(epc.KindDomestic, month, epc.StepCerts))
	require.Equal(t, "state/non-domestic/202401/recs.json", Key(epc.KindNonDomestic, month, epc.StepRecs))
}

func TestWriteReadClearRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := New(memory.New(), zap.NewNop())
	store.now = func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) }

	require.False(t, store.IsDone(ctx, epc.KindDomestic, month, epc.StepCerts))

	written, err := store.Write(ctx, epc.KindDomestic, month, epc.StepCerts, map[string]any{"rows": 42})
	require.NoError(t, err)
	require.Equal(t, "done", written.Status)
	require.Equal(t, "2024-02-01T12:00:00Z", written.Timestamp)

	require.True(t, store.IsDone(ctx, epc.KindDomestic, month, epc.StepCerts))

	got, err := store.Read(ctx, epc.KindDomestic, month, epc.StepCerts)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "done", got.Status)
	require.Equal(t, "2024-01", got.Month)
	require.EqualValues(t, 42, got.Meta["rows"])
	require.Equal(t, 1, got.Version)

	require.NoError(t, store.Clear(ctx, epc.KindDomestic, month, epc.StepCerts))
	require.False(t, store.IsDone(ctx, epc.KindDomestic, month, epc.StepCerts))

	// Clearing again is a no-op.
	require.NoError(t, store.Clear(ctx, epc.KindDomestic, month, epc.StepCerts))
}

func TestReadAbsentAndCorrupted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := memory.New()
	store := New(objects, zap.NewNop())

	got, err := store.Read(ctx, epc.KindDomestic, month, epc.StepRecs)
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = objects.Put(ctx, Key(epc.KindDomestic, month, epc.StepRecs), "application/json", []byte("not json {"), storage.ObjectMeta{})
	require.NoError(t, err)

	got, err = store.Read(ctx, epc.KindDomestic, month, epc.StepRecs)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "not json {", got.Raw)
	require.Empty(t, got.Status)
}

// failingStore errors on every operation.
type failingStore struct{}

func (failingStore) Put(context.Context, string, string, []byte, storage.ObjectMeta) (string, error) {
	return "", errors.New("boom")
}
func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("boom") }
func (failingStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("boom")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("boom") }

func TestIsDoneFailsOpen(t *testing.T) {
	t.Parallel()
	store := New(failingStore{}, zap.NewNop())
	require.False(t, store.IsDone(context.Background(), epc.KindDomestic, month, epc.StepCerts))
}
