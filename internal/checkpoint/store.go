// Package checkpoint persists per-(kind, month, step) completion markers
// that make monthly ingestion idempotent. One JSON object per step lives at
// state/{kind}/{yyyymm}/{step}.json; overwrites are last-write-wins.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dame-data/epc-ingest/internal/epc"
	"github.com/dame-data/epc-ingest/internal/storage"
)

// Checkpoint is the durable completion record for one step.
type Checkpoint struct {
	Kind      epc.Kind       `json:"kind"`
	Month     string         `json:"month"`
	Step      epc.Step       `json:"step"`
	Status    string         `json:"status"`
	Timestamp string         `json:"ts"`
	Meta      map[string]any `json:"meta"`
	Version   int            `json:"version"`

	// Raw holds the original body when the stored object is not valid JSON.
	Raw string `json:"raw,omitempty"`
}

// Key returns the object key for a checkpoint.
func Key(kind epc.Kind, month epc.Month, step epc.Step) string {
	return fmt.Sprintf("state/%s/%s/%s.json", kind, month.Compact(), step)
}

// Store reads and writes checkpoints through an ObjectStore.
type Store struct {
	objects storage.ObjectStore
	log     *zap.Logger
	now     func() time.Time
}

// New constructs a Store.
func New(objects storage.ObjectStore, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{objects: objects, log: log, now: time.Now}
}

// IsDone reports whether the step's checkpoint exists. A transient read
// error reports not-done so the step is retried rather than silently
// skipped forever.
func (s *Store) IsDone(ctx context.Context, kind epc.Kind, month epc.Month, step epc.Step) bool {
	ok, err := s.objects.Exists(ctx, Key(kind, month, step))
	if err != nil {
		s.log.Warn("checkpoint existence check failed; treating as not done",
			zap.String("kind", string(kind)),
			zap.String("month", month.String()),
			zap.String("step", string(step)),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// Read returns the parsed checkpoint, or (nil, nil) when absent. A corrupted
// body degrades to a Checkpoint carrying only Raw instead of failing.
func (s *Store) Read(ctx context.Context, kind epc.Kind, month epc.Month, step epc.Step) (*Checkpoint, error) {
	data, err := s.objects.Get(ctx, Key(kind, month, step))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return &Checkpoint{Raw: string(data)}, nil
	}
	return &cp, nil
}

// Write persists a completion record with the current timestamp and the
// supplied metadata, overwriting any prior checkpoint.
func (s *Store) Write(ctx context.Context, kind epc.Kind, month epc.Month, step epc.Step, meta map[string]any) (*Checkpoint, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	cp := &Checkpoint{
		Kind:      kind,
		Month:     month.String(),
		Step:      step,
		Status:    "done",
		Timestamp: s.now().UTC().Format("2006-01-02T15:04:05Z"),
		Meta:      meta,
		Version:   1,
	}
	body, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.objects.Put(ctx, Key(kind, month, step), "application/json", body, storage.ObjectMeta{
		CacheControl: "no-store, max-age=0",
	})
	if err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	return cp, nil
}

// Clear deletes the checkpoint; absence is not an error.
func (s *Store) Clear(ctx context.Context, kind epc.Kind, month epc.Month, step epc.Step) error {
	if err := s.objects.Delete(ctx, Key(kind, month, step)); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
