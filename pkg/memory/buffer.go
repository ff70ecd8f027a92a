package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// writeBuffer is a bounded, drop-oldest buffer absorbing bursts of Entry
// writes destined for a Port, retrying transient write failures with
// exponential backoff before giving up on an entry (spec §4.2 "the Fabric
// buffers long-term writes and never blocks the caller on them"), grounded
// on the teacher's pendingBatches/flushLongTermBatch pattern
// (pkg/memory/memory.go).
type writeBuffer struct {
	mu       sync.Mutex
	pending  []Entry
	capacity int
	dropped  int64

	port   Port
	logger *slog.Logger
}

func newWriteBuffer(port Port, capacity int, logger *slog.Logger) *writeBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &writeBuffer{pending: make([]Entry, 0, capacity), capacity: capacity, port: port, logger: logger}
}

// Enqueue buffers an entry for write. When the buffer is at capacity the
// oldest pending entry is dropped to make room (spec §4.2 "drop-oldest
// overflow policy").
func (b *writeBuffer) Enqueue(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.capacity {
		b.pending = b.pending[1:]
		b.dropped++
		b.logger.Warn("memory write buffer overflow, dropping oldest entry", "total_dropped", b.dropped)
	}
	b.pending = append(b.pending, e)
}

// Dropped reports the lifetime count of entries discarded to overflow.
func (b *writeBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Flush drains the buffer, writing every pending entry to the Port with
// retry on transient failure. Entries that still fail after retries are
// re-queued at the front for the next flush rather than silently lost.
func (b *writeBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = make([]Entry, 0, b.capacity)
	b.mu.Unlock()

	var failed []Entry
	for _, e := range batch {
		if err := b.writeWithRetry(ctx, e); err != nil {
			b.logger.Error("memory entry write failed after retries", "entry_id", e.EntryID, "error", err)
			failed = append(failed, e)
		}
	}

	if len(failed) > 0 {
		b.mu.Lock()
		b.pending = append(failed, b.pending...)
		b.mu.Unlock()
	}
	return nil
}

func (b *writeBuffer) writeWithRetry(ctx context.Context, e Entry) error {
	op := func() (struct{}, error) {
		return struct{}{}, b.port.Add(ctx, e)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	return err
}

// runFlushLoop periodically flushes the buffer until ctx is cancelled,
// mirroring the teacher's background batch-flush ticker.
func (b *writeBuffer) runFlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = b.Flush(context.Background())
			return
		case <-ticker.C:
			_ = b.Flush(ctx)
		}
	}
}
