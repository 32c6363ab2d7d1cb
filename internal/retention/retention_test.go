package retention

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moorgate/internal/metrics"
	"moorgate/internal/store"
	"moorgate/pkg/config"
	"moorgate/pkg/database"
	"moorgate/pkg/logging"
	"moorgate/pkg/monitoring"
)

// envSeq keeps Prometheus metric names unique across test environments; the
// default registry rejects duplicate registration.
var envSeq int64

func newTestEngine(t *testing.T, policy config.Retention) (*Engine, *store.Store) {
	t.Helper()
	logger := logging.NewLogger()
	db, err := database.Connect(database.DefaultConfig(":memory:"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db, logger)
	collector := monitoring.NewMetricsCollector(
		fmt.Sprintf("postmaster_retention_test_%d", atomic.AddInt64(&envSeq, 1)), "test", "none")
	return New(st, policy, logger, metrics.New(collector)), st
}

var msgCounter int

func appendN(t *testing.T, st *store.Store, convID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		msgCounter++
		_, _, err := st.Append(convID, fmt.Sprintf("m%d", msgCounter), "ZW52", "d1")
		require.NoError(t, err)
	}
}

func TestHardEventCapPrunesToWindow(t *testing.T) {
	engine, st := newTestEngine(t, config.Retention{
		MaxEventsPerConv: 3,
		HardLimits:       true,
	})
	appendN(t, st, "c1", 10)

	deleted, err := engine.PruneConv("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.Equal(t, float64(7), testutil.ToFloat64(engine.metrics.EventsPruned))

	bounds, err := st.ConvBounds("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), bounds.EarliestSeq)
	assert.Equal(t, int64(10), bounds.LatestSeq)
}

func TestSafeModeHoldsBackForFreshCursor(t *testing.T) {
	engine, st := newTestEngine(t, config.Retention{
		MaxEventsPerConv:  3,
		CursorStaleAfterS: 3600,
	})
	now := int64(1_000_000)
	st.SetClock(func() int64 { return now })
	engine.SetClock(func() int64 { return now })

	appendN(t, st, "c1", 10)
	// A device has only read through seq 4.
	_, err := st.Ack("d1", "c1", 4)
	require.NoError(t, err)

	deleted, err := engine.PruneConv("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	bounds, err := st.ConvBounds("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bounds.EarliestSeq)

	// Once the cursor goes stale the cap wins.
	now += 2 * 3600 * 1000
	deleted, err = engine.PruneConv("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	bounds, err = st.ConvBounds("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), bounds.EarliestSeq)
	assert.Equal(t, int64(10), bounds.LatestSeq)
}

func TestHardLimitsIgnoreSlowCursors(t *testing.T) {
	engine, st := newTestEngine(t, config.Retention{
		MaxEventsPerConv:  3,
		HardLimits:        true,
		CursorStaleAfterS: 3600,
	})
	appendN(t, st, "c1", 10)
	_, err := st.Ack("d1", "c1", 1)
	require.NoError(t, err)

	deleted, err := engine.PruneConv("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
}

func TestAgeCapPrunesOldEvents(t *testing.T) {
	engine, st := newTestEngine(t, config.Retention{
		MaxAgeSeconds: 100,
		HardLimits:    true,
	})
	now := int64(1_000_000)
	st.SetClock(func() int64 { return now })
	engine.SetClock(func() int64 { return now })

	appendN(t, st, "c1", 5)
	now += 200_000
	appendN(t, st, "c1", 3)

	deleted, err := engine.PruneConv("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	bounds, err := st.ConvBounds("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), bounds.EarliestSeq)
	assert.Equal(t, int64(8), bounds.LatestSeq)
}

func TestDisabledPolicyIsANoOp(t *testing.T) {
	engine, st := newTestEngine(t, config.Retention{})
	appendN(t, st, "c1", 10)

	deleted, err := engine.PruneConv("c1")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	engine.Sweep()
	bounds, err := st.ConvBounds("c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bounds.EarliestSeq)
}

func TestSweepCoversAllConversations(t *testing.T) {
	engine, st := newTestEngine(t, config.Retention{
		MaxEventsPerConv: 2,
		HardLimits:       true,
	})
	appendN(t, st, "c1", 5)
	appendN(t, st, "c2", 4)

	engine.Sweep()

	for _, convID := range []string{"c1", "c2"} {
		bounds, err := st.ConvBounds(convID)
		require.NoError(t, err)
		assert.Equal(t, bounds.LatestSeq-1, bounds.EarliestSeq, convID)
	}
}
