package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// FlushFunc writes one batch, typically in a single transaction.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter buffers records and writes them in batches, either when the
// buffer is full or on the flush interval.
type BatchWriter[T any] struct {
	name        string
	flush       FlushFunc[T]
	buffer      []T
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	maxBuffer   int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	metrics     BatchWriterMetrics
	lastMu      sync.Mutex
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	Dropped       uint64    `json:"dropped"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter creates a batch writer.
// maxSize: records before auto-flush
// interval: time-based flush interval
// A failed batch is kept and retried with the next flush as long as the
// buffer stays under 20 batches; older records are dropped beyond that.
func NewBatchWriter[T any](name string, flush FlushFunc[T], maxSize int, interval time.Duration) *BatchWriter[T] {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter[T]{
		name:        name,
		flush:       flush,
		buffer:      make([]T, 0, maxSize),
		maxSize:     maxSize,
		maxBuffer:   maxSize * 20,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write adds a record to the batch.
func (bw *BatchWriter[T]) Write(rec T) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, rec)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		go func() { _ = bw.Flush(context.Background()) }()
	}
}

// Flush immediately writes all buffered records.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxSize)
	bw.mu.Unlock()

	atomic.AddUint64(&bw.metrics.TotalBatches, 1)
	if err := bw.flush(ctx, batch); err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		bw.requeue(batch)
		log.Error().Err(err).Str("writer", bw.name).Int("batch", len(batch)).Msg("batch writer: flush failed")
		return err
	}

	atomic.AddUint64(&bw.metrics.TotalWrites, uint64(len(batch)))
	bw.lastMu.Lock()
	bw.metrics.LastBatchSize = len(batch)
	bw.metrics.LastFlushTime = time.Now()
	bw.lastMu.Unlock()
	log.Debug().Str("writer", bw.name).Int("batch", len(batch)).Msg("batch writer: flushed")
	return nil
}

func (bw *BatchWriter[T]) requeue(batch []T) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	merged := append(batch, bw.buffer...)
	if over := len(merged) - bw.maxBuffer; over > 0 {
		merged = merged[over:]
		atomic.AddUint64(&bw.metrics.Dropped, uint64(over))
	}
	bw.buffer = merged
}

// backgroundFlush periodically flushes the buffer.
func (bw *BatchWriter[T]) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = bw.Flush(context.Background())
		case <-bw.done:
			if err := bw.Flush(context.Background()); err != nil {
				log.Warn().Err(err).Str("writer", bw.name).Msg("batch writer: final flush error")
			}
			return
		}
	}
}

// Pending returns the number of buffered records.
func (bw *BatchWriter[T]) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter[T]) GetMetrics() BatchWriterMetrics {
	bw.lastMu.Lock()
	size, at := bw.metrics.LastBatchSize, bw.metrics.LastFlushTime
	bw.lastMu.Unlock()
	return BatchWriterMetrics{
		TotalWrites:   atomic.LoadUint64(&bw.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&bw.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&bw.metrics.TotalErrors),
		Dropped:       atomic.LoadUint64(&bw.metrics.Dropped),
		LastBatchSize: size,
		LastFlushTime: at,
	}
}

// Close flushes what is buffered and stops the background loop.
func (bw *BatchWriter[T]) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
