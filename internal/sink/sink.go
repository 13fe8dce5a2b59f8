// Package sink lands normalized envelopes: it serializes a batch as gzipped
// newline-delimited JSON at a deterministic object key, then append-loads
// the blob into the warehouse. Both halves must succeed for a step to count
// as complete.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/gzip"

	"github.com/dame-data/epc-ingest/internal/epc"
	"github.com/dame-data/epc-ingest/internal/metrics"
	"github.com/dame-data/epc-ingest/internal/storage"
)

// TableLoader append-loads an NDJSON blob into a raw table and returns the
// fully qualified table id.
type TableLoader interface {
	Load(ctx context.Context, blobURI, table string, clustering []string) (string, error)
}

// Sink couples the blob writer with the table loader.
type Sink struct {
	objects storage.ObjectStore
	loader  TableLoader
}

// New constructs a Sink.
func New(objects storage.ObjectStore, loader TableLoader) *Sink {
	return &Sink{objects: objects, loader: loader}
}

// WriteEnvelopes uploads the batch as one gzipped NDJSON part and returns
// the object URI. Re-running with the same key overwrites the prior blob.
func (s *Sink) WriteEnvelopes(ctx context.Context, kind epc.Kind, key string, envelopes []epc.Envelope) (string, error) {
	data, err := encodeNDJSON(envelopes)
	if err != nil {
		return "", err
	}
	uri, err := s.objects.Put(ctx, key, "application/gzip", data, storage.ObjectMeta{})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	metrics.ObserveBlobBytes(string(kind), len(data))
	return uri, nil
}

// LoadTable append-loads a previously written blob into the raw table.
func (s *Sink) LoadTable(ctx context.Context, blobURI, table string, clustering []string) (string, error) {
	tableID, err := s.loader.Load(ctx, blobURI, table, clustering)
	if err != nil {
		return "", fmt.Errorf("load %s into %s: %w", blobURI, table, err)
	}
	return tableID, nil
}

func encodeNDJSON(envelopes []epc.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for i := range envelopes {
		if err := enc.Encode(&envelopes[i]); err != nil {
			return nil, fmt.Errorf("encode envelope %d: %w", i, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
