package engine

import (
	"context"
	"time"
)

// markDirty schedules a snapshot flush. Called by the history store after
// every mutation; the buffered channel coalesces bursts into one signal.
func (e *Engine) markDirty() {
	select {
	case e.dirtyCh <- struct{}{}:
	default:
	}
}

// snapshotLoop debounces flushes: each dirty signal restarts the debounce
// timer, so a steady write stream keeps postponing the flush until the
// max-delay timer fires. Both timers are stopped while the store is clean.
func (e *Engine) snapshotLoop(ctx context.Context) {
	defer e.wg.Done()

	if e.debounce <= 0 {
		// Debouncing disabled: flush on every dirty signal.
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.shutdown:
				return
			case <-e.dirtyCh:
				e.flushSnapshot(ctx)
			}
		}
	}

	debounce := newStoppedTimer()
	maxDelay := newStoppedTimer()
	defer debounce.Stop()
	defer maxDelay.Stop()

	pending := false

	flush := func() {
		stopTimer(debounce)
		stopTimer(maxDelay)
		pending = false
		e.flushSnapshot(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		case <-e.dirtyCh:
			if !pending {
				pending = true
				if e.maxDelay > 0 {
					resetTimer(maxDelay, e.maxDelay)
				}
			}
			resetTimer(debounce, e.debounce)
		case <-debounce.C:
			if pending {
				flush()
			}
		case <-maxDelay.C:
			if pending {
				flush()
			}
		}
	}
}

// flushSnapshot serializes the full history and writes it to the store.
func (e *Engine) flushSnapshot(ctx context.Context) {
	blob, err := e.history.Snapshot()
	if err != nil {
		e.logger.Error("snapshot serialization failed", err)
		e.recordError("snapshot_marshal")
		if e.metrics != nil {
			e.metrics.RecordSnapshotFlush("error")
		}
		return
	}

	saveCtx, cancel := context.WithTimeout(withoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := e.store.Save(saveCtx, e.snapshotKey, blob); err != nil {
		e.logger.Error("snapshot save failed", err)
		e.recordError("snapshot_save")
		if e.metrics != nil {
			e.metrics.RecordSnapshotFlush("error")
		}
		return
	}

	if e.metrics != nil {
		e.metrics.RecordSnapshotFlush("ok")
	}
	e.logger.Debug("snapshot flushed", "bytes", len(blob))
}

// withoutCancel detaches the save from the run context so a flush in
// flight during shutdown still completes.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
