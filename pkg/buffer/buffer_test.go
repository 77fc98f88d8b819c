package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semibank/smartfarm/metric"
)

func TestRing_WriteRead(t *testing.T) {
	buf, err := NewRing[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, 4, buf.Capacity())

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, buf.Size())
}

func TestRing_EmptyRead(t *testing.T) {
	buf, err := NewRing[string](2)
	require.NoError(t, err)

	v, ok := buf.Read()
	assert.False(t, ok)
	assert.Equal(t, "", v)
	assert.True(t, buf.IsEmpty())
}

func TestRing_DropOldest(t *testing.T) {
	var dropped []int
	buf, err := NewRing[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3))

	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, 2, buf.Size())

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	assert.Equal(t, int64(1), buf.Stats().Drops())
	assert.Equal(t, int64(1), buf.Stats().Overflows())
}

func TestRing_DropNewest(t *testing.T) {
	buf, err := NewRing[int](2, WithOverflowPolicy[int](DropNewest))
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // dropped

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = buf.Read()
	assert.False(t, ok)
}

func TestRing_ReadBatch(t *testing.T) {
	buf, err := NewRing[int](8)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	batch := buf.ReadBatch(3)
	assert.Equal(t, []int{0, 1, 2}, batch)
	assert.Equal(t, 2, buf.Size())

	// Batch larger than remaining drains the buffer
	batch = buf.ReadBatch(10)
	assert.Equal(t, []int{3, 4}, batch)
	assert.True(t, buf.IsEmpty())

	assert.Nil(t, buf.ReadBatch(0))
	assert.Nil(t, buf.ReadBatch(3))
}

func TestRing_Clear(t *testing.T) {
	buf, err := NewRing[int](4)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.Clear()
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, int64(0), buf.Stats().CurrentSize())
}

func TestRing_DropCallbackReentrant(t *testing.T) {
	// The callback reads the buffer it was invoked from; it must run
	// after the write lock is released or this deadlocks.
	var buf Buffer[int]
	var sizes []int
	var dropped []int

	buf, err := NewRing[int](1,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) {
			dropped = append(dropped, item)
			sizes = append(sizes, buf.Size())
		}),
	)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, []int{1}, sizes)

	buf.Clear()
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, []int{1, 0}, sizes)
}

func TestRing_CloseRejectsWrites(t *testing.T) {
	buf, err := NewRing[int](2)
	require.NoError(t, err)

	require.NoError(t, buf.Close())
	assert.Error(t, buf.Write(1))
}

func TestRing_MetricsLifecycle(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	buf, err := NewRing[int](2, WithMetrics[int](registry, "ingest"))
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close(), "close is idempotent")

	// Close released the registrations, so the prefix is reusable.
	again, err := NewRing[int](2, WithMetrics[int](registry, "ingest"))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestRing_WrapAround(t *testing.T) {
	buf, err := NewRing[int](3)
	require.NoError(t, err)

	// Cycle through more items than capacity to exercise wrap-around
	for i := 0; i < 10; i++ {
		require.NoError(t, buf.Write(i))
		v, ok := buf.Read()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestRing_ConcurrentWriters(t *testing.T) {
	buf, err := NewRing[int](128)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = buf.Write(base*100 + i)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int64(800), buf.Stats().Writes())
	assert.Equal(t, 128, buf.Size())
}

func TestRing_MinimumCapacity(t *testing.T) {
	buf, err := NewRing[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Capacity())
}
