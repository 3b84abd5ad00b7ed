package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/supraxlabs/ghbprefetch/ghb"
	"github.com/supraxlabs/ghbprefetch/prefetch"
)

func TestReportSetsGaugesFromStats(t *testing.T) {
	c := NewCollector("test_report_sets_gauges")

	c.Report(prefetch.DispatchStats{
		Accesses:        10,
		EarlyStrideHits: 3,
		PatternHits:     2,
		FallbackHits:    1,
		PredictionsOut:  6,
		PageRejections:  4,
	}, ghb.Stats{PatternTableSize: 7, SequenceCounter: 42})

	require.Equal(t, float64(10), testutil.ToFloat64(c.accesses))
	require.Equal(t, float64(3), testutil.ToFloat64(c.earlyStrideHits))
	require.Equal(t, float64(2), testutil.ToFloat64(c.patternHits))
	require.Equal(t, float64(1), testutil.ToFloat64(c.fallbackHits))
	require.Equal(t, float64(6), testutil.ToFloat64(c.predictionsOut))
	require.Equal(t, float64(4), testutil.ToFloat64(c.pageRejections))
	require.Equal(t, float64(7), testutil.ToFloat64(c.patternTableSize))
	require.Equal(t, float64(42), testutil.ToFloat64(c.sequenceCounter))
}

func TestReportOverwritesPreviousValues(t *testing.T) {
	c := NewCollector("test_report_overwrites")

	c.Report(prefetch.DispatchStats{Accesses: 5}, ghb.Stats{})
	c.Report(prefetch.DispatchStats{Accesses: 8}, ghb.Stats{})

	require.Equal(t, float64(8), testutil.ToFloat64(c.accesses))
}

func TestHandlerIsNonNil(t *testing.T) {
	require.NotNil(t, Handler())
}
