package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dame-data/epc-ingest/internal/app"
	"github.com/dame-data/epc-ingest/internal/config"
	"github.com/dame-data/epc-ingest/internal/epc"
)

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds([]string{"domestic", "non-domestic"})
	require.NoError(t, err)
	assert.Equal(t, []epc.Kind{epc.KindDomestic, epc.KindNonDomestic}, kinds)

	kinds, err = parseKinds(nil)
	require.NoError(t, err)
	assert.Empty(t, kinds)

	_, err = parseKinds([]string{"commercial"})
	require.Error(t, err)
}

func TestResolveWindow(t *testing.T) {
	a := &app.App{Config: config.Config{
		Window: config.WindowConfig{StartMonth: "2024-01", EndMonth: "2024-03"},
	}}

	start, end, err := resolveWindow(a, "", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01", start.String())
	assert.Equal(t, "2024-03", end.String())

	// Flags beat the configured window; a lone --start covers one month.
	start, end, err = resolveWindow(a, "2025-02", "")
	require.NoError(t, err)
	assert.Equal(t, "2025-02", start.String())
	assert.Equal(t, "2025-02", end.String())

	_, _, err = resolveWindow(a, "2025-13", "")
	require.Error(t, err)

	_, _, err = resolveWindow(&app.App{}, "", "")
	require.Error(t, err)
}
