// Package warehouse manages the BigQuery side of the pipeline: the raw
// landing tables, append loads with first-create partitioning/clustering,
// the per-month LMK derivation query, and the curated views.
package warehouse

import (
	"cloud.google.com/go/bigquery"

	"github.com/dame-data/epc-ingest/internal/epc"
)

// Canonical raw table names. Interoperating tooling depends on these.
const (
	DomesticRawTable        = "domestic_raw_json"
	NonDomesticRawTable     = "non_domestic_raw_json"
	DomesticRecsRawTable    = "domestic_recommendations_raw_json"
	NonDomesticRecsRawTable = "non_domestic_recommendations_raw_json"
)

// PartitionField is the time-partitioning column on every raw table.
const PartitionField = "lodgement_date"

// CertTable returns the raw certificates table for a kind.
func CertTable(kind epc.Kind) string {
	if kind == epc.KindDomestic {
		return DomesticRawTable
	}
	return NonDomesticRawTable
}

// RecsTable returns the raw recommendations table for a kind.
func RecsTable(kind epc.Kind) string {
	if kind == epc.KindDomestic {
		return DomesticRecsRawTable
	}
	return NonDomesticRecsRawTable
}

// CertClustering returns the clustering key list applied when a kind's
// certificates table is first created. Non-domestic stays on lmk_key alone;
// many of its columns are sparse.
func CertClustering(kind epc.Kind) []string {
	if kind == epc.KindDomestic {
		return []string{"lmk_key", "postcode", "uprn"}
	}
	return []string{"lmk_key"}
}

// RecsClustering returns the clustering key list for recommendations tables.
func RecsClustering(epc.Kind) []string {
	return []string{"lmk_key"}
}

// RawSchema is the minimal, stable 5-column landing schema shared by all raw
// tables. Unknown fields in loaded blobs are ignored, never rejected.
func RawSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "lmk_key", Type: bigquery.StringFieldType, Required: true},
		{Name: "lodgement_date", Type: bigquery.DateFieldType},
		{Name: "postcode", Type: bigquery.StringFieldType},
		{Name: "uprn", Type: bigquery.StringFieldType},
		{Name: "payload", Type: bigquery.JSONFieldType},
	}
}
