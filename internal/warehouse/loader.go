package warehouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dame-data/epc-ingest/internal/epc"
)

// Loader issues dataset, load and query operations against one project and
// dataset.
type Loader struct {
	client   *bigquery.Client
	dataset  string
	location string
	log      *zap.Logger
}

// NewLoader constructs a Loader.
func NewLoader(client *bigquery.Client, dataset, location string, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{client: client, dataset: dataset, location: location, log: log}
}

// EnsureDataset creates the dataset in the configured location if it does
// not exist. Idempotent.
func (l *Loader) EnsureDataset(ctx context.Context) error {
	ds := l.client.Dataset(l.dataset)
	if _, err := ds.Metadata(ctx); err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("get dataset %s: %w", l.dataset, err)
	}
	err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: l.location})
	if err != nil && !isConflict(err) {
		return fmt.Errorf("create dataset %s: %w", l.dataset, err)
	}
	return nil
}

// Load append-loads a gzipped NDJSON blob into the given raw table and
// returns the fully qualified table id. When the table does not exist yet
// it is created with time partitioning on lodgement_date and the supplied
// clustering keys; an existing table's layout is never altered, so the
// first create wins permanently.
func (l *Loader) Load(ctx context.Context, blobURI, table string, clustering []string) (string, error) {
	gcsRef := bigquery.NewGCSReference(blobURI)
	gcsRef.SourceFormat = bigquery.JSON
	gcsRef.Schema = RawSchema()
	gcsRef.IgnoreUnknownValues = true

	tbl := l.client.Dataset(l.dataset).Table(table)
	loader := tbl.LoaderFrom(gcsRef)
	loader.WriteDisposition = bigquery.WriteAppend
	loader.Location = l.location

	exists, err := l.tableExists(ctx, tbl)
	if err != nil {
		return "", err
	}
	if !exists {
		loader.TimePartitioning = &bigquery.TimePartitioning{Field: PartitionField}
		if len(clustering) > 0 {
			loader.Clustering = &bigquery.Clustering{Fields: clustering}
		}
		l.log.Info("creating raw table on first load",
			zap.String("table", table),
			zap.Strings("clustering", clustering),
		)
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("start load job for %s: %w", table, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("wait for load job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return "", fmt.Errorf("load job %s failed: %w", job.ID(), err)
	}

	return fmt.Sprintf("%s.%s.%s", l.client.Project(), l.dataset, table), nil
}

// DistinctLMKs returns the distinct LMK keys for certificates lodged in the
// given month, read from the kind's raw certificates table.
func (l *Loader) DistinctLMKs(ctx context.Context, kind epc.Kind, month epc.Month) ([]string, error) {
	start, end := month.Bounds()
	q := l.client.Query(fmt.Sprintf(`
		SELECT DISTINCT lmk_key
		FROM `+"`%s.%s.%s`"+`
		WHERE lodgement_date BETWEEN @start AND @end
		  AND lmk_key IS NOT NULL`,
		l.client.Project(), l.dataset, CertTable(kind),
	))
	q.Location = l.location
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start", Value: start},
		{Name: "end", Value: end},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query distinct lmks for %s %s: %w", kind, month, err)
	}
	var lmks []string
	for {
		var row struct {
			LMKKey string `bigquery:"lmk_key"`
		}
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read distinct lmks: %w", err)
		}
		lmks = append(lmks, row.LMKKey)
	}
	return lmks, nil
}

func (l *Loader) tableExists(ctx context.Context, tbl *bigquery.Table) (bool, error) {
	_, err := tbl.Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("get table %s metadata: %w", tbl.TableID, err)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
