package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/GH41318103/kvengine/internal/engine"
)

func TestRefresh_ReflectsEngineStatistics(t *testing.T) {
	e, err := engine.Open(t.TempDir(), engine.Options{})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	e.Get([]byte("k"))

	m := NewMetrics()
	m.Refresh(e)

	require.Equal(t, float64(1), testutil.ToFloat64(m.totalKeys))
	require.Equal(t, float64(1), testutil.ToFloat64(m.totalWrites))
	require.GreaterOrEqual(t, testutil.ToFloat64(m.totalReads), float64(1))
}
