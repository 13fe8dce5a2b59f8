package epc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMonth(t *testing.T) {
	t.Parallel()

	m, err := ParseMonth("2024-01")
	require.NoError(t, err)
	require.Equal(t, Month{Year: 2024, Mon: time.January}, m)
	require.Equal(t, "2024-01", m.String())
	require.Equal(t, "202401", m.Compact())

	for _, bad := range []string{"2024-13", "2024-00", "202401", "2024-1", "jan-2024", ""} {
		_, err := ParseMonth(bad)
		require.Error(t, err, "expected %q to be rejected", bad)
	}
}

func TestMonthBounds(t *testing.T) {
	t.Parallel()

	start, end := Month{Year: 2024, Mon: time.February}.Bounds()
	require.Equal(t, "2024-02-01", start.String())
	require.Equal(t, "2024-02-29", end.String()) // leap year

	start, end = Month{Year: 2024, Mon: time.December}.Bounds()
	require.Equal(t, "2024-12-01", start.String())
	require.Equal(t, "2024-12-31", end.String())
}

func TestMonthRange(t *testing.T) {
	t.Parallel()

	start, err := ParseMonth("2024-11")
	require.NoError(t, err)
	end, err := ParseMonth("2025-01")
	require.NoError(t, err)

	months, err := MonthRange(start, end)
	require.NoError(t, err)

	var got []string
	for _, m := range months {
		got = append(got, m.String())
	}
	require.Equal(t, []string{"2024-11", "2024-12", "2025-01"}, got)

	single, err := MonthRange(start, start)
	require.NoError(t, err)
	require.Len(t, single, 1)

	_, err = MonthRange(end, start)
	require.Error(t, err)
}

func TestObjectKeys(t *testing.T) {
	t.Parallel()

	m := Month{Year: 2024, Mon: time.January}
	require.Equal(t, "epc/json/domestic/202401/certs/part-0001.json.gz", ObjectKey(KindDomestic, m, StepCerts))
	require.Equal(t, "epc/json/non-domestic/202401/recs/part-0001.json.gz", ObjectKey(KindNonDomestic, m, StepRecs))
	require.Equal(t, "epc/json/domestic/2023/recs/part-0001.json.gz", YearObjectKey(KindDomestic, 2023))
}

func TestParseKindAndStep(t *testing.T) {
	t.Parallel()

	k, err := ParseKind("non-domestic")
	require.NoError(t, err)
	require.Equal(t, KindNonDomestic, k)
	_, err = ParseKind("commercial")
	require.Error(t, err)

	s, err := ParseStep("recs")
	require.NoError(t, err)
	require.Equal(t, StepRecs, s)
	_, err = ParseStep("views")
	require.Error(t, err)
}
