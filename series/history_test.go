package series

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/semibank/smartfarm/errors"
)

// fakeClock returns a manually advanced clock for deterministic timestamps.
func fakeClock(start int64) (*int64, func() int64) {
	now := start
	return &now, func() int64 { return now }
}

func TestHistoryStore_AppendAndQuery(t *testing.T) {
	now, clock := fakeClock(1000)
	store := NewHistoryStore(withNowFunc(clock))

	require.NoError(t, store.Append("temp", 21.5, StatusNormal, "Greenhouse Temp", "°C"))
	*now = 2000
	require.NoError(t, store.Append("temp", 22.0, StatusWarning, "Greenhouse Temp", "°C"))

	points := store.QuerySeries("temp", 0)
	require.Len(t, points, 2)
	assert.Equal(t, int64(1000), points[0].Timestamp)
	assert.Equal(t, 21.5, points[0].Value)
	assert.Equal(t, StatusNormal, points[0].Status)
	assert.Equal(t, "temp", points[0].SeriesID)
	assert.Equal(t, "Greenhouse Temp", points[0].Title)
	assert.Equal(t, "°C", points[0].Unit)
	assert.Equal(t, 22.0, points[1].Value)
}

func TestHistoryStore_RejectsNonFinite(t *testing.T) {
	store := NewHistoryStore()

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := store.Append("temp", bad, StatusNormal, "", "")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsInvalid(err))
	}
	assert.Zero(t, store.Len("temp"), "rejected appends must not mutate state")
}

func TestHistoryStore_RejectsEmptySeriesID(t *testing.T) {
	store := NewHistoryStore()
	err := store.Append("", 1.0, StatusNormal, "", "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestHistoryStore_BoundedRetention(t *testing.T) {
	now, clock := fakeClock(0)
	store := NewHistoryStore(WithMaxPoints(5), withNowFunc(clock))

	for i := 0; i < 20; i++ {
		*now = int64(i)
		require.NoError(t, store.Append("s", float64(i), StatusNormal, "", ""))
		assert.LessOrEqual(t, store.Len("s"), 5, "bound must hold after every append")
	}

	// Retained points are exactly the most recent 5 in arrival order
	points := store.QuerySeries("s", 0)
	require.Len(t, points, 5)
	for i, p := range points {
		assert.Equal(t, float64(15+i), p.Value)
	}
}

func TestHistoryStore_TimeWindow(t *testing.T) {
	now, clock := fakeClock(0)
	store := NewHistoryStore(withNowFunc(clock))

	for _, ts := range []int64{1000, 5000, 9000, 10000} {
		*now = ts
		require.NoError(t, store.Append("s", float64(ts), StatusNormal, "", ""))
	}

	// Window of 5000ms from now=10000 keeps ts >= 5000
	*now = 10000
	points := store.QuerySeries("s", 5000)
	require.Len(t, points, 3)
	assert.Equal(t, float64(5000), points[0].Value)

	// Query must not mutate the store
	assert.Equal(t, 4, store.Len("s"))
}

func TestHistoryStore_QueryAll(t *testing.T) {
	now, clock := fakeClock(0)
	store := NewHistoryStore(withNowFunc(clock))

	*now = 1000
	require.NoError(t, store.Append("a", 1, StatusNormal, "", ""))
	*now = 9000
	require.NoError(t, store.Append("a", 2, StatusNormal, "", ""))
	require.NoError(t, store.Append("b", 3, StatusDanger, "", ""))

	*now = 10000
	all := store.QueryAll(5000)
	require.Len(t, all, 2)
	assert.Len(t, all["a"], 1)
	assert.Len(t, all["b"], 1)

	all = store.QueryAll(0)
	assert.Len(t, all["a"], 2)
}

func TestHistoryStore_UnknownSeriesQuery(t *testing.T) {
	store := NewHistoryStore()
	assert.Empty(t, store.QuerySeries("nope", 0))
}

func TestHistoryStore_Clear(t *testing.T) {
	store := NewHistoryStore()
	require.NoError(t, store.Append("a", 1, StatusNormal, "", ""))
	require.NoError(t, store.Append("b", 2, StatusNormal, "", ""))

	store.ClearSeries("a")
	assert.Zero(t, store.Len("a"))
	assert.Equal(t, 1, store.Len("b"))

	store.ClearAll()
	assert.Empty(t, store.SeriesIDs())
}

func TestHistoryStore_MutateCallback(t *testing.T) {
	var calls int
	store := NewHistoryStore(WithMutateFunc(func() { calls++ }))

	require.NoError(t, store.Append("a", 1, StatusNormal, "", ""))
	store.ClearSeries("a")
	store.ClearAll()
	assert.Equal(t, 3, calls)

	// Rejected appends do not fire the callback
	_ = store.Append("a", math.NaN(), StatusNormal, "", "")
	assert.Equal(t, 3, calls)
}

func TestHistoryStore_SnapshotRoundTrip(t *testing.T) {
	now, clock := fakeClock(1748779200000)
	store := NewHistoryStore(withNowFunc(clock))

	require.NoError(t, store.Append("temp", 21.53125, StatusNormal, "Greenhouse Temp", "°C"))
	*now = 1748779260000
	require.NoError(t, store.Append("temp", -3.25, StatusLow, "Greenhouse Temp", "°C"))
	require.NoError(t, store.Append("co2", 612, StatusWarning, "CO2", "ppm"))

	blob, err := store.Snapshot()
	require.NoError(t, err)

	restored := NewHistoryStore()
	require.NoError(t, restored.Restore(blob))

	assert.Equal(t, store.QueryAll(0), restored.QueryAll(0))
}

func TestHistoryStore_RestoreCorruptFailsSoft(t *testing.T) {
	store := NewHistoryStore()
	require.NoError(t, store.Append("a", 1, StatusNormal, "", ""))

	err := store.Restore([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))

	// Store untouched on corrupt input
	assert.Equal(t, 1, store.Len("a"))

	// Empty blob is a no-op, not an error
	assert.NoError(t, store.Restore(nil))
}

func TestHistoryStore_RestoreNormalizes(t *testing.T) {
	store := NewHistoryStore(WithMaxPoints(2))

	blob := []byte(`{"s":[` +
		`{"timestamp":1,"value":1,"status":"bogus"},` +
		`{"timestamp":2,"value":2,"status":"danger"},` +
		`{"timestamp":3,"value":3,"status":"low"}]}`)
	require.NoError(t, store.Restore(blob))

	points := store.QuerySeries("s", 0)
	require.Len(t, points, 2, "oversized snapshot series trimmed to bound")
	assert.Equal(t, StatusDanger, points[0].Status)
	assert.Equal(t, "s", points[0].SeriesID)
}

func TestHistoryStore_OutOfOrderDefensiveSort(t *testing.T) {
	store := NewHistoryStore()

	blob := []byte(`{"s":[` +
		`{"timestamp":3000,"value":3,"status":"normal"},` +
		`{"timestamp":1000,"value":1,"status":"normal"},` +
		`{"timestamp":2000,"value":2,"status":"normal"}]}`)
	require.NoError(t, store.Restore(blob))

	points := store.QuerySeries("s", 0)
	require.Len(t, points, 3)
	for i := 1; i < len(points); i++ {
		assert.GreaterOrEqual(t, points[i].Timestamp, points[i-1].Timestamp)
	}
}

func TestHistoryStore_ManySeriesBound(t *testing.T) {
	store := NewHistoryStore(WithMaxPoints(10))

	for s := 0; s < 8; s++ {
		id := fmt.Sprintf("series-%d", s)
		for i := 0; i < 50; i++ {
			require.NoError(t, store.Append(id, float64(i), StatusNormal, "", ""))
		}
	}
	for _, id := range store.SeriesIDs() {
		assert.Equal(t, 10, store.Len(id))
	}
}
