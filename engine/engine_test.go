package engine

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semibank/smartfarm/config"
	"github.com/semibank/smartfarm/errors"
	"github.com/semibank/smartfarm/pkg/buffer"
	"github.com/semibank/smartfarm/resample"
	"github.com/semibank/smartfarm/series"
	"github.com/semibank/smartfarm/storage"
)

// memStore is an in-memory SnapshotStore for tests.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, storage.NotFound(key)
	}
	return append([]byte(nil), blob...), nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[key]
	return blob, ok
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Platform.ID = "test"
	cfg.Snapshot.Debounce = 20 * time.Millisecond
	cfg.Snapshot.MaxDelay = 500 * time.Millisecond
	cfg.Series = []config.SeriesDef{
		{
			Topic: "farm/zone1/temp",
			ID:    "temp1",
			Title: "Zone 1 Temperature",
			Unit:  "°C",
			Bands: []config.ThresholdBand{
				{Status: "danger", Min: floatPtr(40)},
				{Status: "warning", Min: floatPtr(30)},
				{Status: "low", Max: floatPtr(5)},
			},
		},
		{Topic: "farm/zone1/humid", ID: "humid1", Title: "Zone 1 Humidity", Unit: "%"},
	}
	return cfg
}

func floatPtr(v float64) *float64 { return &v }

func newTestEngine(t *testing.T, cfg *config.Config, store storage.SnapshotStore) *Engine {
	t.Helper()
	buf, err := buffer.NewRing[Message](64)
	require.NoError(t, err)

	e := NewEngine(Deps{
		Config: cfg,
		Buffer: buf,
		Store:  store,
	})
	require.NoError(t, e.Initialize())
	return e
}

func TestIngestAcceptsConfiguredSeries(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())

	require.NoError(t, e.Ingest("farm/zone1/temp", []byte("23.5"), 0))

	points := e.History("temp1", -1)
	require.Len(t, points, 1)
	assert.Equal(t, 23.5, points[0].Value)
	assert.Equal(t, series.StatusNormal, points[0].Status)
	assert.Equal(t, "Zone 1 Temperature", points[0].Title)
	assert.Equal(t, "°C", points[0].Unit)

	node, ok := e.QueryTopic("farm/zone1/temp")
	require.True(t, ok)
	assert.Equal(t, "23.5", node.Value)
	assert.True(t, node.IsEndpoint)
}

func TestIngestThresholdClassification(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  series.Status
	}{
		{"below low bound", "3", series.StatusLow},
		{"normal range", "22", series.StatusNormal},
		{"warning band", "35", series.StatusWarning},
		{"danger band wins over warning", "45", series.StatusDanger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, testConfig(), newMemStore())
			require.NoError(t, e.Ingest("farm/zone1/temp", []byte(tt.value), 0))

			points := e.History("temp1", -1)
			require.Len(t, points, 1)
			assert.Equal(t, tt.want, points[0].Status)
		})
	}
}

func TestIngestRejectsImplausibleValues(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())

	// A temperature reading of exactly zero is a dead-sensor artifact.
	err := e.Ingest("farm/zone1/temp", []byte("0"), 0)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrImplausibleData))
	assert.Empty(t, e.History("temp1", -1))

	// Humidity must stay inside (0, 100].
	err = e.Ingest("farm/zone1/humid", []byte("150"), 0)
	require.Error(t, err)
	assert.Empty(t, e.History("humid1", -1))

	require.NoError(t, e.Ingest("farm/zone1/humid", []byte("65"), 0))
	assert.Len(t, e.History("humid1", -1), 1)
}

func TestIngestUnparseablePayload(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())

	err := e.Ingest("farm/zone1/status", []byte("online"), 0)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrParsingFailed))

	// The tree still learns the topic; only the numeric pipeline drops it.
	node, ok := e.QueryTopic("farm/zone1/status")
	require.True(t, ok)
	assert.Equal(t, "online", node.Value)
	assert.Empty(t, e.SeriesIDs())
}

func TestIngestJSONWrappedPayload(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())

	require.NoError(t, e.Ingest("farm/zone1/temp", []byte(`{"value": 21.5}`), 0))
	require.NoError(t, e.Ingest("farm/zone1/temp", []byte(`{"value": "22.5"}`), 0))

	points := e.History("temp1", -1)
	require.Len(t, points, 2)
	assert.Equal(t, 21.5, points[0].Value)
	assert.Equal(t, 22.5, points[1].Value)
}

func TestIngestUnconfiguredTopicGetsDerivedIdentity(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())

	require.NoError(t, e.Ingest("farm/zone2/co2", []byte("450"), 0))

	points := e.History("farm/zone2/co2", -1)
	require.Len(t, points, 1)
	assert.Equal(t, "co2", points[0].Title)
	assert.Equal(t, series.StatusNormal, points[0].Status)
}

func TestStatisticsAndDistribution(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())

	for _, v := range []string{"20", "22", "36"} {
		require.NoError(t, e.Ingest("farm/zone1/temp", []byte(v), 0))
	}

	stats := e.Statistics("temp1", -1)
	assert.Equal(t, 20.0, stats.Min)
	assert.Equal(t, 36.0, stats.Max)
	assert.Equal(t, 36.0, stats.Latest)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 26.0, stats.Average, 1e-9)

	dist := e.StatusDistribution(-1)
	assert.Equal(t, 2, dist[series.StatusNormal])
	assert.Equal(t, 1, dist[series.StatusWarning])
	_, hasDanger := dist[series.StatusDanger]
	assert.False(t, hasDanger, "zero-count statuses are absent")

	assert.Equal(t, series.Stats{}, e.Statistics("absent", -1))
}

func TestResampleThroughEngine(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())

	require.NoError(t, e.Ingest("farm/zone1/temp", []byte("20"), 0))
	require.NoError(t, e.Ingest("farm/zone1/temp", []byte("30"), 0))

	rows, err := e.Resample(resample.MethodInterval, []string{"temp1"}, -1, 60)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 25.0, rows[0].Values["temp1"])

	_, err = e.Resample(resample.Method("bogus"), nil, -1, 1)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())

	require.NoError(t, e.Ingest("farm/zone1/temp", []byte("21"), 0))
	require.NoError(t, e.Ingest("farm/zone1/humid", []byte("55"), 0))

	e.ClearSeries("temp1")
	assert.Empty(t, e.History("temp1", -1))
	assert.Len(t, e.History("humid1", -1), 1)
	assert.NotZero(t, e.TopicCount(), "clearing a series keeps the tree")

	e.ClearAll()
	assert.Empty(t, e.SeriesIDs())
	assert.NotZero(t, e.TopicCount(), "clearing history keeps the tree")

	e.ClearTree()
	assert.Zero(t, e.TopicCount())

	require.NoError(t, e.Ingest("farm/zone1/temp", []byte("22"), 0))
	e.ClearTree()
	assert.Len(t, e.History("temp1", -1), 1, "clearing the tree keeps history")
}

func TestInitializeRestoresSnapshot(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()

	first := newTestEngine(t, cfg, store)
	require.NoError(t, first.Ingest("farm/zone1/temp", []byte("23.5"), 0))
	first.flushSnapshot(context.Background())

	second := newTestEngine(t, cfg, store)
	points := second.History("temp1", -1)
	require.Len(t, points, 1)
	assert.Equal(t, 23.5, points[0].Value)
}

func TestInitializeSurvivesCorruptSnapshot(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save(context.Background(), "history", []byte("{not json")))

	e := newTestEngine(t, testConfig(), store)
	assert.Empty(t, e.SeriesIDs(), "corrupt snapshot means a clean start, not a crash")
}

func TestDrainLoopAndDebouncedFlush(t *testing.T) {
	store := newMemStore()
	buf, err := buffer.NewRing[Message](64)
	require.NoError(t, err)

	e := NewEngine(Deps{Config: testConfig(), Buffer: buf, Store: store})
	require.NoError(t, e.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))

	require.NoError(t, buf.Write(Message{Topic: "farm/zone1/temp", Payload: []byte("23.5")}))
	require.NoError(t, buf.Write(Message{Topic: "farm/zone1/humid", Payload: []byte("60")}))

	require.Eventually(t, func() bool {
		return len(e.History("temp1", -1)) == 1 && len(e.History("humid1", -1)) == 1
	}, 2*time.Second, 10*time.Millisecond, "drain loop consumes buffered messages")

	require.Eventually(t, func() bool {
		_, ok := store.get("history")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "debounced snapshot reaches the store")

	require.NoError(t, e.Stop(2*time.Second))
}

func TestStopFlushesFinalSnapshot(t *testing.T) {
	store := newMemStore()
	buf, err := buffer.NewRing[Message](64)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Snapshot.Debounce = time.Hour // never flushes on its own

	e := NewEngine(Deps{Config: cfg, Buffer: buf, Store: store})
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Start(context.Background()))

	require.NoError(t, e.Ingest("farm/zone1/temp", []byte("23.5"), 0))
	_, flushed := store.get("history")
	require.False(t, flushed)

	require.NoError(t, e.Stop(2*time.Second))

	blob, ok := store.get("history")
	require.True(t, ok)
	assert.Contains(t, string(blob), "temp1")
}

func TestSubscribeReceivesAcceptedSamples(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())

	events, cancel := e.Subscribe(4)
	defer cancel()

	require.NoError(t, e.Ingest("farm/zone1/temp", []byte("23.5"), 1234))

	select {
	case event := <-events:
		assert.Equal(t, "temp1", event.SeriesID)
		assert.Equal(t, 23.5, event.Point.Value)
		assert.Equal(t, int64(1234), event.Point.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no sample event received")
	}

	// Dropped samples never reach subscribers.
	_ = e.Ingest("farm/zone1/temp", []byte("0"), 0)
	select {
	case event := <-events:
		t.Fatalf("unexpected event for dropped sample: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopWithoutStartIsFine(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())
	assert.NoError(t, e.Stop(time.Second))
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    float64
		wantTS  int64
		wantErr bool
	}{
		{"bare integer", "42", 42, 0, false},
		{"bare float", "23.5", 23.5, 0, false},
		{"negative", "-12.25", -12.25, 0, false},
		{"padded", "  18.0\n", 18, 0, false},
		{"json number", `{"value": 7.5}`, 7.5, 0, false},
		{"json string number", `{"value": "7.5"}`, 7.5, 0, false},
		{"json with epoch millis", `{"value": 7.5, "timestamp": 1700000000000}`, 7.5, 1700000000000, false},
		{"json with epoch seconds", `{"value": 7.5, "timestamp": 1700000000}`, 7.5, 1700000000000, false},
		{"json with rfc3339", `{"value": 7.5, "timestamp": "2023-11-14T22:13:20Z"}`, 7.5, 1700000000000, false},
		{"empty", "", 0, 0, true},
		{"text", "online", 0, 0, true},
		{"json without value", `{"state": "on"}`, 0, 0, true},
		{"json non-numeric value", `{"value": true}`, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ts, err := ParseValue([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantTS, ts)
		})
	}
}

func TestIngestHonorsDevicePayloadTimestamp(t *testing.T) {
	e := newTestEngine(t, testConfig(), newMemStore())
	events, cancel := e.Subscribe(4)
	defer cancel()

	require.NoError(t, e.Ingest("farm/zone1/temp",
		[]byte(`{"value": 21.5, "timestamp": 1700000000000}`), 0))

	select {
	case ev := <-events:
		assert.Equal(t, int64(1700000000000), ev.Point.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no sample event received")
	}
}
