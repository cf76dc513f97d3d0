// Package batch implements the Batch Pipeline: each node client's buffer
// of parsed records, flushed by size, age, or explicit stop into the
// Message Processor for bulk resolution. An atomic-swap buffer with a
// channel-driven background flush, holding client.Record values.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/wmo-raf/wis2watch/internal/client"
	"github.com/wmo-raf/wis2watch/internal/metrics"
)

// Flusher resolves and persists a batch of records. internal/processor's
// Processor.ProcessBatch implements this.
type Flusher interface {
	ProcessBatch(ctx context.Context, records []client.Record) error
}

// Buffer is a client.Batcher backed by an atomic-swap slice, flushed on a
// background ticker plus an explicit size threshold check on every Add.
type Buffer struct {
	nodeID  string
	size    int
	age     time.Duration
	flusher Flusher
	log     client.Logger

	mu       sync.Mutex
	pending  []client.Record
	oldest   time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Buffer and starts its age-triggered flush loop. size and
// age default to 50 records / 5s when zero. nodeID labels this buffer's
// metrics; it is the node the owning NodeClient serves.
func New(nodeID string, size int, age time.Duration, flusher Flusher, log client.Logger) *Buffer {
	if size <= 0 {
		size = 50
	}
	if age <= 0 {
		age = 5 * time.Second
	}
	b := &Buffer{nodeID: nodeID, size: size, age: age, flusher: flusher, log: log, stopCh: make(chan struct{})}
	b.wg.Add(1)
	go b.ageLoop()
	return b
}

// Add implements client.Batcher. A size-triggered flush runs
// synchronously in the caller's goroutine: the buffer is swapped out
// under the mutex and processed outside it, so the mutex is not held
// during persistence, but the Add that fills the buffer returns only
// after the Flusher has finished with the batch.
func (b *Buffer) Add(rec client.Record) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.oldest = rec.ReceivedAt
	}
	b.pending = append(b.pending, rec)
	full := len(b.pending) >= b.size
	b.mu.Unlock()

	if full {
		b.Flush(context.Background())
	}
}

// Flush swaps out the current buffer and hands it to the Flusher. Safe to
// call concurrently with Add and with itself; an empty buffer is a no-op.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	start := time.Now()
	err := b.flusher.ProcessBatch(ctx, batch)
	metrics.BatchFlushDuration.WithLabelValues(b.nodeID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BatchFlushErrors.WithLabelValues(b.nodeID).Inc()
		if b.log != nil {
			b.log.Errorw("batch flush failed", "size", len(batch), "error", err)
		}
	}
}

func (b *Buffer) ageLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.age / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			due := len(b.pending) > 0 && time.Since(b.oldest) >= b.age
			b.mu.Unlock()
			if due {
				b.Flush(context.Background())
			}
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the age-triggered flush loop and performs one final flush,
// since a client stop is itself a flush trigger.
func (b *Buffer) Close(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	b.Flush(ctx)
}
