package stats_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/stats"
)

func TestRegistryGetOrCreateIsStable(t *testing.T) {
	r := stats.NewRegistry(10)

	w1 := r.GetOrCreate("BTCUSDT:volume")
	w1.Add(5)

	w2 := r.GetOrCreate("BTCUSDT:volume")
	require.Same(t, w1, w2)
	require.Equal(t, 1, w2.Len())
}

func TestRegistryGetMissingReturnsNil(t *testing.T) {
	r := stats.NewRegistry(10)
	require.Nil(t, r.Get("unknown"))
}

func TestRegistryDelete(t *testing.T) {
	r := stats.NewRegistry(10)
	r.GetOrCreate("ETHUSDT:atr")
	require.Equal(t, 1, r.Len())

	r.Delete("ETHUSDT:atr")
	require.Equal(t, 0, r.Len())
	require.Nil(t, r.Get("ETHUSDT:atr"))
}

func TestRegistryWithCapacityOverride(t *testing.T) {
	r := stats.NewRegistry(10)
	w := r.GetOrCreateWithCapacity("BTCUSDT:cvd100ms", 3)
	for _, v := range []float64{1, 2, 3, 4} {
		w.Add(v)
	}
	require.Equal(t, 3, w.Len())
}
