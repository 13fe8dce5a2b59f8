// Package backfill loads historical recommendations from published ZIP
// archives instead of the per-certificate API, which is far too slow for
// whole-year history. The archive's recommendations CSV is normalized into
// the same envelope shape as API rows and landed under a yearly blob key, so
// backfilled and monthly data share one warehouse schema.
package backfill

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/dame-data/epc-ingest/internal/epc"
	"github.com/dame-data/epc-ingest/internal/normalize"
	"github.com/dame-data/epc-ingest/internal/warehouse"
)

// Sink lands normalized envelopes, same contract as monthly ingestion.
type Sink interface {
	WriteEnvelopes(ctx context.Context, kind epc.Kind, key string, envelopes []epc.Envelope) (string, error)
	LoadTable(ctx context.Context, blobURI, table string, clustering []string) (string, error)
}

// ArchiveSource names where the yearly ZIP lives. Exactly one field should
// be set; they are tried in declaration order.
type ArchiveSource struct {
	LocalPath string
	HTTPURL   string
	GCSURI    string
	S3URI     string
}

func (s ArchiveSource) empty() bool {
	return s.LocalPath == "" && s.HTTPURL == "" && s.GCSURI == "" && s.S3URI == ""
}

// Status is the outcome of one backfill run.
type Status string

// Backfill outcomes.
const (
	StatusLoaded   Status = "loaded"
	StatusNoSource Status = "no-source"
	StatusNoRecs   Status = "no-recs"
)

// Result reports one year's backfill.
type Result struct {
	Kind    epc.Kind `json:"kind"`
	Year    int      `json:"year"`
	Rows    int      `json:"rows"`
	BlobURI string   `json:"blob_uri,omitempty"`
	Table   string   `json:"table,omitempty"`
	Status  Status   `json:"status"`
}

// Backfiller resolves archives and lands their recommendations.
type Backfiller struct {
	sink Sink
	gcs  *gstorage.Client
	aws  *session.Session
	http *http.Client
	log  *zap.Logger
}

// New constructs a Backfiller. gcsClient and awsSession may be nil when the
// corresponding source schemes are not used.
func New(sink Sink, gcsClient *gstorage.Client, awsSession *session.Session, log *zap.Logger) *Backfiller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backfiller{sink: sink, gcs: gcsClient, aws: awsSession, http: http.DefaultClient, log: log}
}

// Run backfills one (kind, year) from the archive. A missing or unreadable
// archive is an error; an archive with no recommendation rows is not.
func (b *Backfiller) Run(ctx context.Context, kind epc.Kind, year int, src ArchiveSource) (Result, error) {
	res := Result{Kind: kind, Year: year}
	if src.empty() {
		res.Status = StatusNoSource
		return res, nil
	}

	path, cleanup, err := b.resolve(ctx, src)
	if err != nil {
		return res, err
	}
	defer cleanup()

	records, member, err := readRecommendations(path)
	if err != nil {
		return res, err
	}
	b.log.Info("read archive member",
		zap.String("kind", string(kind)),
		zap.Int("year", year),
		zap.String("member", member),
		zap.Int("rows", len(records)),
	)

	envelopes := make([]epc.Envelope, 0, len(records))
	for _, rec := range records {
		if env, ok := normalize.Recommendation(rec); ok {
			envelopes = append(envelopes, env)
		}
	}
	if len(envelopes) == 0 {
		res.Status = StatusNoRecs
		return res, nil
	}

	key := epc.YearObjectKey(kind, year)
	uri, err := b.sink.WriteEnvelopes(ctx, kind, key, envelopes)
	if err != nil {
		return res, fmt.Errorf("write backfill blob: %w", err)
	}
	table, err := b.sink.LoadTable(ctx, uri, warehouse.RecsTable(kind), warehouse.RecsClustering(kind))
	if err != nil {
		return res, fmt.Errorf("load backfill blob: %w", err)
	}

	res.Rows = len(envelopes)
	res.BlobURI = uri
	res.Table = table
	res.Status = StatusLoaded
	return res, nil
}

// resolve materializes the archive as a local file. Remote sources are
// downloaded to a temp file removed by cleanup.
func (b *Backfiller) resolve(ctx context.Context, src ArchiveSource) (string, func(), error) {
	noop := func() {}
	switch {
	case src.LocalPath != "":
		if _, err := os.Stat(src.LocalPath); err != nil {
			return "", noop, fmt.Errorf("archive %s: %w", src.LocalPath, err)
		}
		return src.LocalPath, noop, nil
	case src.HTTPURL != "":
		return b.download(src.HTTPURL, func(f *os.File) error { return b.fetchHTTP(ctx, src.HTTPURL, f) })
	case src.GCSURI != "":
		return b.download(src.GCSURI, func(f *os.File) error { return b.fetchGCS(ctx, src.GCSURI, f) })
	case src.S3URI != "":
		return b.download(src.S3URI, func(f *os.File) error { return b.fetchS3(ctx, src.S3URI, f) })
	}
	return "", noop, errors.New("no archive source configured")
}

func (b *Backfiller) download(uri string, fetch func(*os.File) error) (string, func(), error) {
	f, err := os.CreateTemp("", "epc-backfill-*.zip")
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp archive: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}
	if err := fetch(f); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("download %s: %w", uri, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", func() {}, fmt.Errorf("flush temp archive: %w", err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

func (b *Backfiller) fetchHTTP(ctx context.Context, rawURL string, dst *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	_, err = io.Copy(dst, resp.Body)
	return err
}

func (b *Backfiller) fetchGCS(ctx context.Context, uri string, dst *os.File) error {
	if b.gcs == nil {
		return errors.New("no GCS client configured")
	}
	bucket, key, err := splitURI(uri, "gs")
	if err != nil {
		return err
	}
	r, err := b.gcs.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(dst, r)
	return err
}

func (b *Backfiller) fetchS3(ctx context.Context, uri string, dst *os.File) error {
	if b.aws == nil {
		return errors.New("no AWS session configured")
	}
	bucket, key, err := splitURI(uri, "s3")
	if err != nil {
		return err
	}
	downloader := s3manager.NewDownloader(b.aws)
	_, err = downloader.DownloadWithContext(ctx, dst, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

func splitURI(uri, scheme string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != scheme || u.Host == "" || u.Path == "" {
		return "", "", fmt.Errorf("malformed %s:// uri %q", scheme, uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// readRecommendations opens the ZIP, picks the recommendations CSV and
// decodes its rows keyed by the header line.
func readRecommendations(path string) ([]epc.Record, string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, "", fmt.Errorf("open archive %s: %w", path, err)
	}
	defer zr.Close()

	member := selectMember(zr.File)
	if member == nil {
		return nil, "", fmt.Errorf("archive %s has no CSV member", path)
	}

	f, err := member.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open member %s: %w", member.Name, err)
	}
	defer f.Close()

	records, err := decodeCSV(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode member %s: %w", member.Name, err)
	}
	return records, member.Name, nil
}

// selectMember prefers a CSV whose name mentions recommendations, falling
// back to the first CSV in the archive.
func selectMember(files []*zip.File) *zip.File {
	var firstCSV *zip.File
	for _, f := range files {
		name := strings.ToLower(filepath.Base(f.Name))
		if !strings.HasSuffix(name, ".csv") {
			continue
		}
		if strings.Contains(name, "recom") {
			return f
		}
		if firstCSV == nil {
			firstCSV = f
		}
	}
	return firstCSV
}

func decodeCSV(r io.Reader) ([]epc.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var records []epc.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(records)+2, err)
		}
		rec := make(epc.Record, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
