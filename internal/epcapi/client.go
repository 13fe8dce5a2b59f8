// Package epcapi is the HTTP-only client for the EPC Open Data Communities
// API. It contains no cloud logic: it yields raw JSON records and classified
// errors; normalization and persistence happen elsewhere.
//
// Certificates are fetched from GET /{kind}/search with month-window params
// and cursor pagination via the X-Next-Search-After response header.
// Recommendations are fetched per certificate from
// GET /{kind}/recommendations/{lmk}, where 404 means "none", not an error.
package epcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dame-data/epc-ingest/internal/epc"
	"github.com/dame-data/epc-ingest/internal/metrics"
)

// DefaultBaseURL is the production EPC API root.
const DefaultBaseURL = "https://epc.opendatacommunities.org/api/v1"

const nextCursorHeader = "X-Next-Search-After"

// ErrUnauthorized signals a 401 from the API. Never retried; fix the
// configured api.email / api.key credentials.
var ErrUnauthorized = errors.New("epc api: 401 unauthorized (check api.email / api.key)")

// ErrStalledCursor signals a server returning a non-empty page with the same
// continuation cursor twice in a row. Treated as a hard failure so a
// pathological server cannot loop the fetcher forever.
var ErrStalledCursor = errors.New("epc api: pagination cursor did not advance")

// TransientError wraps the last transient failure after the retry budget is
// exhausted.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("epc api: giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response that is not independently classified.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("epc api: HTTP %d: %s", e.StatusCode, e.Body)
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Config carries the client knobs.
type Config struct {
	BaseURL      string
	Email        string
	APIKey       string
	PageSize     int
	Timeout      time.Duration
	RetryMax     int
	RetryBackoff time.Duration
}

// Client issues authenticated, retrying requests against the EPC API.
type Client struct {
	cfg   Config
	http  *http.Client
	log   *zap.Logger
	sleep func(time.Duration)
}

// New constructs a Client, applying defaults for unset knobs.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 5000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		log:   log,
		sleep: time.Sleep,
	}
}

// CertificatePages iterates the paged certificate search for one month.
type CertificatePages struct {
	client *Client
	kind   epc.Kind
	month  epc.Month
	cursor string
	done   bool
}

// Certificates returns a lazy page iterator over one (kind, month) search.
func (c *Client) Certificates(kind epc.Kind, month epc.Month) *CertificatePages {
	return &CertificatePages{client: c, kind: kind, month: month}
}

// Next fetches the next page of raw records. It returns (nil, nil) once the
// server signals the end, either with an empty page or a missing cursor.
func (p *CertificatePages) Next(ctx context.Context) ([]epc.Record, error) {
	if p.done {
		return nil, nil
	}

	c := p.client
	q := url.Values{}
	q.Set("from-year", strconv.Itoa(p.month.Year))
	q.Set("from-month", strconv.Itoa(int(p.month.Mon)))
	q.Set("to-year", strconv.Itoa(p.month.Year))
	q.Set("to-month", strconv.Itoa(int(p.month.Mon)))
	q.Set("size", strconv.Itoa(c.cfg.PageSize))
	if p.cursor != "" {
		q.Set("search-after", p.cursor)
	}

	body, header, err := c.getWithRetry(ctx, fmt.Sprintf("%s/%s/search", c.cfg.BaseURL, p.kind), q)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", p.kind, err)
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", p.kind, err)
	}
	if len(records) == 0 {
		p.done = true
		return nil, nil
	}

	next := header.Get(nextCursorHeader)
	switch {
	case next == "":
		p.done = true
	case next == p.cursor:
		return nil, fmt.Errorf("%w (cursor %q)", ErrStalledCursor, next)
	default:
		p.cursor = next
	}
	return records, nil
}

// CertificatesForMonth drains the page iterator into a single slice.
func (c *Client) CertificatesForMonth(ctx context.Context, kind epc.Kind, month epc.Month) ([]epc.Record, error) {
	pages := c.Certificates(kind, month)
	var out []epc.Record
	for {
		page, err := pages.Next(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil {
			return out, nil
		}
		out = append(out, page...)
		c.log.Debug("fetched certificate page",
			zap.String("kind", string(kind)),
			zap.String("month", month.String()),
			zap.Int("page_rows", len(page)),
			zap.Int("total_rows", len(out)),
		)
	}
}

// RecommendationsForLMK fetches recommendation rows for one certificate.
// A 404 yields an empty result; any other non-2xx is an error for this LMK
// only, and the caller decides whether to skip it or abort.
func (c *Client) RecommendationsForLMK(ctx context.Context, kind epc.Kind, lmkKey string) ([]epc.Record, error) {
	u := fmt.Sprintf("%s/%s/recommendations/%s", c.cfg.BaseURL, kind, url.PathEscape(lmkKey))
	body, _, err := c.getWithRetry(ctx, u, nil)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("%s recommendations for %s: %w", kind, lmkKey, err)
	}
	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("%s recommendations for %s: %w", kind, lmkKey, err)
	}
	return records, nil
}

// getWithRetry issues a GET, retrying transient failures (connection errors
// and 429/5xx) up to the retry budget with linear backoff. 401 and
// other statuses fail immediately.
func (c *Client) getWithRetry(ctx context.Context, rawURL string, q url.Values) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryMax; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			default:
			}
			c.sleep(c.cfg.RetryBackoff * time.Duration(attempt-1))
		}

		body, header, err := c.getOnce(ctx, rawURL, q)
		if err == nil {
			metrics.ObserveAPIRequest("ok")
			return body, header, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, err
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !transientStatus(statusErr.StatusCode) {
			metrics.ObserveAPIRequest("error")
			return nil, nil, err
		}
		if errors.Is(err, ErrUnauthorized) {
			metrics.ObserveAPIRequest("unauthorized")
			return nil, nil, err
		}
		metrics.ObserveAPIRequest("retry")
		lastErr = err
		c.log.Warn("transient api failure", zap.Int("attempt", attempt), zap.Error(err))
	}
	metrics.ObserveAPIRequest("exhausted")
	return nil, nil, &TransientError{Attempts: c.cfg.RetryMax, Err: lastErr}
}

func (c *Client) getOnce(ctx context.Context, rawURL string, q url.Values) ([]byte, http.Header, error) {
	u := rawURL
	if len(q) > 0 {
		u = rawURL + "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.Email, c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, nil, ErrUnauthorized
	case resp.StatusCode/100 == 2:
		return body, resp.Header, nil
	default:
		return nil, nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(body, 200)}
	}
}

// decodeRecords accepts both response shapes: a bare JSON array of records,
// or an object wrapping them under "rows". Numbers are kept as json.Number
// so identifiers survive the payload round trip digit-for-digit.
func decodeRecords(body []byte) ([]epc.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("non-JSON payload: %w", err)
	}

	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		items, _ = t["rows"].([]any)
	default:
		return nil, fmt.Errorf("unexpected payload shape %T", v)
	}

	records := make([]epc.Record, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			records = append(records, epc.Record(m))
		}
	}
	return records, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
