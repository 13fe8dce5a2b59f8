// Package normalize maps raw, schema-loose EPC records into the fixed
// landing envelope. It is pure: no I/O, no escalation. A record without a
// join key simply produces no envelope.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dame-data/epc-ingest/internal/epc"
)

// Upstream key casing and hyphenation drifts between API versions, so each
// logical field carries an ordered alias list; the first alias present wins.
var (
	lmkAliases      = []string{"lmk_key", "lmk-key", "LMK_KEY"}
	dateAliases     = []string{"lodgement_date", "lodgement-date", "LODGEMENT_DATE"}
	postcodeAliases = []string{"postcode", "POSTCODE"}
	uprnAliases     = []string{"uprn", "UPRN"}
)

// Certificate normalizes a raw certificate record. The second return value
// is false when no envelope is produced (no LMK key under any alias).
func Certificate(rec epc.Record) (epc.Envelope, bool) {
	lmk, ok := stringValue(lookup(rec, lmkAliases))
	if !ok {
		return epc.Envelope{}, false
	}
	return epc.Envelope{
		LMKKey:        lmk,
		LodgementDate: dateValue(lookup(rec, dateAliases)),
		Postcode:      optString(lookup(rec, postcodeAliases)),
		UPRN:          optString(lookup(rec, uprnAliases)),
		Payload:       rec,
	}, true
}

// Recommendation normalizes a raw recommendation record. Recommendations
// carry no postcode or UPRN; lodgement date is usually absent and left null.
func Recommendation(rec epc.Record) (epc.Envelope, bool) {
	lmk, ok := stringValue(lookup(rec, lmkAliases))
	if !ok {
		return epc.Envelope{}, false
	}
	return epc.Envelope{
		LMKKey:        lmk,
		LodgementDate: dateValue(lookup(rec, dateAliases)),
		Payload:       rec,
	}, true
}

// lookup returns the value for the first alias present in the record.
func lookup(rec epc.Record, aliases []string) any {
	for _, k := range aliases {
		if v, ok := rec[k]; ok {
			return v
		}
	}
	return nil
}

// stringValue coerces a raw value to a non-empty string.
func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		s := fmt.Sprint(t)
		return s, s != ""
	}
}

func optString(v any) *string {
	s, ok := stringValue(v)
	if !ok {
		return nil
	}
	return &s
}

// dateValue keeps the value only when it is a string parseable as an ISO
// calendar date; anything else is coerced to null rather than rejecting the
// record.
func dateValue(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return nil
	}
	return &s
}
