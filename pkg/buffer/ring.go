package buffer

import (
	"sync"

	"github.com/semibank/smartfarm/errors"
)

// ring is a fixed-capacity circular buffer protected by a mutex.
type ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *ringMetrics
	opts     *options[T]
	closed   bool
}

func newRing[T any](capacity int, opts *options[T]) (*ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *ringMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newRing", "metrics registration")
		}
	}

	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item according to the overflow policy. Drop callbacks run
// after the lock is released so a callback may re-enter the buffer.
func (r *ring[T]) Write(item T) error {
	dropped, hasDrop, err := r.write(item)
	if hasDrop && r.opts.dropCallback != nil {
		r.opts.dropCallback(dropped)
	}
	return err
}

func (r *ring[T]) write(item T) (dropped T, hasDrop bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return dropped, false,
			errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if r.size == r.capacity {
		switch r.opts.overflowPolicy {
		case DropOldest:
			dropped = r.items[r.tail]
			hasDrop = true
			r.tail = (r.tail + 1) % r.capacity
			r.size--

			r.stats.Overflow()
			r.stats.Drop()
			if r.metrics != nil {
				r.metrics.recordDrop()
			}

		case DropNewest:
			r.stats.Overflow()
			r.stats.Drop()
			if r.metrics != nil {
				r.metrics.recordDrop()
			}
			return item, true, nil
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++

	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.capacity)
	}

	return dropped, hasDrop, nil
}

// Read retrieves and removes one item.
func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release for GC
	r.tail = (r.tail + 1) % r.capacity
	r.size--

	r.stats.Read()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordRead(r.size, r.capacity)
	}

	return item, true
}

// ReadBatch retrieves and removes up to max items.
func (r *ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	count := max
	if count > r.size {
		count = r.size
	}

	result := make([]T, count)
	var zero T
	for i := 0; i < count; i++ {
		result[i] = r.items[r.tail]
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Read()
	}

	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.updateSize(r.size, r.capacity)
	}

	return result
}

func (r *ring[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *ring[T]) Capacity() int {
	return r.capacity // immutable, no lock needed
}

func (r *ring[T]) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size == 0
}

// Clear removes all items from the buffer. As with Write, drop callbacks
// fire after the lock is released.
func (r *ring[T]) Clear() {
	toDrop := r.clear()
	if r.opts.dropCallback != nil {
		for _, item := range toDrop {
			r.opts.dropCallback(item)
		}
	}
}

func (r *ring[T]) clear() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	var toDrop []T
	if r.opts.dropCallback != nil {
		toDrop = make([]T, r.size)
		for i := 0; i < r.size; i++ {
			toDrop[i] = r.items[(r.tail+i)%r.capacity]
		}
	}

	var zero T
	for i := 0; i < r.capacity; i++ {
		r.items[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0

	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.capacity)
	}

	return toDrop
}

func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

// Close shuts down the buffer and releases its registered metrics.
func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.metrics != nil {
		r.metrics.unregister()
	}
	return nil
}
