// Package epc defines the core domain types for EPC ingestion: certificate
// kinds, ingestion steps, calendar-month windows, and the landing envelope
// persisted to storage and the warehouse.
package epc

import (
	"fmt"
	"regexp"
	"time"

	"cloud.google.com/go/civil"
)

// Kind is the certificate category. Most entities are keyed per kind.
type Kind string

// Supported certificate kinds.
const (
	KindDomestic    Kind = "domestic"
	KindNonDomestic Kind = "non-domestic"
)

// Kinds lists all supported kinds in canonical order.
var Kinds = []Kind{KindDomestic, KindNonDomestic}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDomestic, KindNonDomestic:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown kind %q (want %q or %q)", s, KindDomestic, KindNonDomestic)
}

// Step is one logical phase of monthly ingestion.
type Step string

// Steps are executed strictly in order: certs, then recs.
const (
	StepCerts Step = "certs"
	StepRecs  Step = "recs"
)

// ParseStep validates a step string.
func ParseStep(s string) (Step, error) {
	switch Step(s) {
	case StepCerts, StepRecs:
		return Step(s), nil
	}
	return "", fmt.Errorf("unknown step %q (want %q or %q)", s, StepCerts, StepRecs)
}

var monthRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// Month identifies one calendar month, parsed from "YYYY-MM".
type Month struct {
	Year int
	Mon  time.Month
}

// ParseMonth parses a "YYYY-MM" key.
func ParseMonth(s string) (Month, error) {
	if !monthRe.MatchString(s) {
		return Month{}, fmt.Errorf("month must be 'YYYY-MM' with 01-12, got %q", s)
	}
	var y, m int
	if _, err := fmt.Sscanf(s, "%4d-%2d", &y, &m); err != nil {
		return Month{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return Month{Year: y, Mon: time.Month(m)}, nil
}

// String returns the canonical "YYYY-MM" form.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Mon))
}

// Compact returns the "YYYYMM" form used in object keys.
func (m Month) Compact() string {
	return fmt.Sprintf("%04d%02d", m.Year, int(m.Mon))
}

// Bounds returns the first and last calendar day of the month. The end date
// is always in the same month as the start, including the December rollover.
func (m Month) Bounds() (civil.Date, civil.Date) {
	start := civil.Date{Year: m.Year, Month: m.Mon, Day: 1}
	// Day 0 of the next month normalizes to the last day of this one.
	last := time.Date(m.Year, m.Mon+1, 0, 0, 0, 0, 0, time.UTC)
	return start, civil.DateOf(last)
}

// Next returns the following calendar month.
func (m Month) Next() Month {
	if m.Mon == time.December {
		return Month{Year: m.Year + 1, Mon: time.January}
	}
	return Month{Year: m.Year, Mon: m.Mon + 1}
}

// Before reports whether m is strictly earlier than other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Mon < other.Mon
}

// MonthRange returns the inclusive chronological list of months from start
// through end.
func MonthRange(start, end Month) ([]Month, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end month %s is before start month %s", end, start)
	}
	var out []Month
	for m := start; ; m = m.Next() {
		out = append(out, m)
		if m == end {
			break
		}
	}
	return out, nil
}

// Record is a raw, schema-loose upstream record. Values may be strings,
// json.Number, nested maps, or nil; the shape is intentionally untyped.
type Record map[string]any

// Envelope is the fixed-shape normalized record persisted to storage and the
// warehouse. LMKKey is always non-empty; every other field may be null. The
// original record rides along verbatim in Payload.
type Envelope struct {
	LMKKey        string  `json:"lmk_key"`
	LodgementDate *string `json:"lodgement_date"`
	Postcode      *string `json:"postcode"`
	UPRN          *string `json:"uprn"`
	Payload       Record  `json:"payload"`
}

// ObjectKey returns the deterministic blob key for a monthly artifact, e.g.
// epc/json/domestic/202401/certs/part-0001.json.gz. Interoperating tooling
// depends on this layout being bit-exact.
func ObjectKey(kind Kind, month Month, step Step) string {
	return fmt.Sprintf("epc/json/%s/%s/%s/part-0001.json.gz", kind, month.Compact(), step)
}

// YearObjectKey returns the blob key for a yearly recommendations backfill.
func YearObjectKey(kind Kind, year int) string {
	return fmt.Sprintf("epc/json/%s/%d/recs/part-0001.json.gz", kind, year)
}
