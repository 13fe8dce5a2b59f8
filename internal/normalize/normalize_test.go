package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dame-data/epc-ingest/internal/epc"
)

func TestCertificateAliasesAndCoercion(t *testing.T) {
	t.Parallel()

	rec := epc.Record{
		"lmk-key":        "A1",
		"lodgement-date": "2024-01-15",
		"postcode":       "SW1A 1AA",
	}
	env, ok := Certificate(rec)
	require.True(t, ok)
	require.Equal(t, "A1", env.LMKKey)
	require.NotNil(t, env.LodgementDate)
	require.Equal(t, "2024-01-15", *env.LodgementDate)
	require.NotNil(t, env.Postcode)
	require.Equal(t, "SW1A 1AA", *env.Postcode)
	require.Nil(t, env.UPRN)
	require.Equal(t, rec, env.Payload)

	// Upper-case alias, empty postcode, missing date.
	env, ok = Certificate(epc.Record{"LMK_KEY": "A2", "postcode": ""})
	require.True(t, ok)
	require.Equal(t, "A2", env.LMKKey)
	require.Nil(t, env.LodgementDate)
	require.Nil(t, env.Postcode)
	require.Nil(t, env.UPRN)
}

func TestCertificateMissingLMK(t *testing.T) {
	t.Parallel()

	for _, rec := range []epc.Record{
		{},
		{"postcode": "E1 6AN", "lodgement_date": "2024-02-02"},
		{"lmk_key": ""},
		{"lmk_key": nil},
	} {
		_, ok := Certificate(rec)
		require.False(t, ok, "record %v should produce no envelope", rec)
	}
}

func TestCertificateInvalidDates(t *testing.T) {
	t.Parallel()

	for _, v := range []any{"15/01/2024", "2024-13-01", "soon", 20240115, json.Number("20240115"), nil} {
		env, ok := Certificate(epc.Record{"lmk_key": "A1", "lodgement_date": v})
		require.True(t, ok)
		require.Nil(t, env.LodgementDate, "value %v should coerce to null", v)
	}
}

func TestCertificateNumericUPRN(t *testing.T) {
	t.Parallel()

	env, ok := Certificate(epc.Record{"lmk_key": "A1", "UPRN": json.Number("100023336956")})
	require.True(t, ok)
	require.NotNil(t, env.UPRN)
	require.Equal(t, "100023336956", *env.UPRN)

	env, ok = Certificate(epc.Record{"lmk_key": "A1", "uprn": float64(42)})
	require.True(t, ok)
	require.Equal(t, "42", *env.UPRN)
}

func TestRecommendation(t *testing.T) {
	t.Parallel()

	rec := epc.Record{
		"LMK_KEY":                 "B7",
		"improvement-description": "Loft insulation",
		"postcode":                "SW1A 1AA", // recommendations never carry address fields
	}
	env, ok := Recommendation(rec)
	require.True(t, ok)
	require.Equal(t, "B7", env.LMKKey)
	require.Nil(t, env.LodgementDate)
	require.Nil(t, env.Postcode)
	require.Nil(t, env.UPRN)
	require.Equal(t, rec, env.Payload)

	_, ok = Recommendation(epc.Record{"improvement-description": "x"})
	require.False(t, ok)
}

func TestEnvelopeJSONShape(t *testing.T) {
	t.Parallel()

	env, ok := Certificate(epc.Record{"lmk_key": "A2", "postcode": ""})
	require.True(t, ok)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"lmk_key": "A2",
		"lodgement_date": null,
		"postcode": null,
		"uprn": null,
		"payload": {"lmk_key": "A2", "postcode": ""}
	}`, string(b))
}
