package order

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// PersistentQueue wraps Queue with a write-ahead log. An intent is synced to
// disk before it is handed to a worker and marked complete once the broker
// answered, so a crash never loses an in-flight order.
type PersistentQueue struct {
	queue      *Queue
	walPath    string
	walFile    *os.File
	mu         sync.Mutex
	metrics    PersistentQueueMetrics
	processing map[string]bool
	closed     bool
}

// PersistentQueueMetrics tracks persistence statistics.
type PersistentQueueMetrics struct {
	Written   uint64 // intents written to WAL
	Recovered uint64 // intents recovered on startup
	Completed uint64 // intents marked complete
	Failed    uint64 // write failures
}

type walEntry struct {
	Action    string    `json:"action"` // "ENQUEUE" or "COMPLETE"
	Intent    Intent    `json:"intent"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPersistentQueue creates a persistent queue with WAL in walDir.
func NewPersistentQueue(walDir string, queueSize int) (*PersistentQueue, error) {
	if err := os.MkdirAll(walDir, 0755); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}

	walPath := filepath.Join(walDir, "order_intents.wal")
	file, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}

	return &PersistentQueue{
		queue:      NewQueue(queueSize),
		walPath:    walPath,
		walFile:    file,
		processing: make(map[string]bool),
	}, nil
}

// Recover loads unacknowledged intents from the WAL and re-enqueues them
// with their original ids. It returns the recovered intents.
// Should be called before Drain.
func (pq *PersistentQueue) Recover() ([]Intent, error) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	file, err := os.Open(pq.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open WAL for recovery: %w", err)
	}
	defer file.Close()

	enqueued := make(map[string]Intent)
	var order []string
	completed := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		var entry walEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			log.Warn().Err(err).Msg("order wal: parse error (skipping)")
			continue
		}
		switch entry.Action {
		case "ENQUEUE":
			if _, seen := enqueued[entry.Intent.ID]; !seen {
				order = append(order, entry.Intent.ID)
			}
			enqueued[entry.Intent.ID] = entry.Intent
			// A retried intent reuses its id.
			delete(completed, entry.Intent.ID)
		case "COMPLETE":
			completed[entry.Intent.ID] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("WAL scan error: %w", err)
	}

	var recovered []Intent
	for _, id := range order {
		if completed[id] {
			continue
		}
		in := enqueued[id]
		in.Generation = 0
		if !pq.queue.Enqueue(in) {
			log.Error().Str("intent", id).Msg("order wal: queue full during recovery")
			continue
		}
		pq.processing[id] = true
		recovered = append(recovered, in)
	}

	atomic.AddUint64(&pq.metrics.Recovered, uint64(len(recovered)))
	if len(recovered) > 0 {
		log.Info().Int("count", len(recovered)).Msg("order wal: recovered pending intents")
	}

	if len(recovered) > 0 || len(completed) > 10 {
		if err := pq.compactWAL(recovered); err != nil {
			log.Warn().Err(err).Msg("order wal: compaction failed")
		}
	}
	return recovered, nil
}

// compactWAL rewrites the WAL with only the pending entries.
func (pq *PersistentQueue) compactWAL(pending []Intent) error {
	tempPath := pq.walPath + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(tempFile)
	for _, in := range pending {
		if err := encoder.Encode(walEntry{Action: "ENQUEUE", Intent: in, Timestamp: in.CreatedAt}); err != nil {
			tempFile.Close()
			os.Remove(tempPath)
			return err
		}
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return err
	}
	tempFile.Close()

	pq.walFile.Close()
	if err := os.Rename(tempPath, pq.walPath); err != nil {
		return err
	}
	pq.walFile, err = os.OpenFile(pq.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	log.Debug().Int("kept", len(pending)).Msg("order wal: compacted")
	return nil
}

// Enqueue persists the intent and queues it for execution.
func (pq *PersistentQueue) Enqueue(in Intent) bool {
	pq.mu.Lock()
	if pq.closed {
		pq.mu.Unlock()
		return false
	}

	data, err := json.Marshal(walEntry{Action: "ENQUEUE", Intent: in, Timestamp: time.Now()})
	if err != nil {
		pq.mu.Unlock()
		atomic.AddUint64(&pq.metrics.Failed, 1)
		log.Error().Err(err).Msg("order wal: marshal failed")
		return false
	}
	if _, err := pq.walFile.Write(append(data, '\n')); err != nil {
		pq.mu.Unlock()
		atomic.AddUint64(&pq.metrics.Failed, 1)
		log.Error().Err(err).Msg("order wal: write failed")
		return false
	}
	if err := pq.walFile.Sync(); err != nil {
		pq.mu.Unlock()
		atomic.AddUint64(&pq.metrics.Failed, 1)
		log.Error().Err(err).Msg("order wal: sync failed")
		return false
	}

	atomic.AddUint64(&pq.metrics.Written, 1)
	defer pq.mu.Unlock()
	if !pq.queue.Enqueue(in) {
		// Queue full: retire the entry so it is not replayed.
		done, _ := json.Marshal(walEntry{Action: "COMPLETE", Intent: Intent{ID: in.ID}, Timestamp: time.Now()})
		_, _ = pq.walFile.Write(append(done, '\n'))
		atomic.AddUint64(&pq.metrics.Failed, 1)
		return false
	}
	pq.processing[in.ID] = true
	return true
}

// MarkComplete records that the broker answered the intent.
func (pq *PersistentQueue) MarkComplete(id string) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if !pq.processing[id] || pq.closed {
		return
	}
	data, _ := json.Marshal(walEntry{Action: "COMPLETE", Intent: Intent{ID: id}, Timestamp: time.Now()})
	// Not synced: a lost COMPLETE only causes an idempotent replay.
	_, _ = pq.walFile.Write(append(data, '\n'))

	delete(pq.processing, id)
	atomic.AddUint64(&pq.metrics.Completed, 1)
}

// Drain hands queued intents to handler. The handler's owner calls
// MarkComplete once the broker answered.
func (pq *PersistentQueue) Drain(ctx context.Context, handler func(Intent)) {
	pq.queue.Drain(ctx, handler)
}

// InFlight returns the number of intents not yet marked complete.
func (pq *PersistentQueue) InFlight() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.processing)
}

// GetMetrics returns persistence metrics.
func (pq *PersistentQueue) GetMetrics() PersistentQueueMetrics {
	return PersistentQueueMetrics{
		Written:   atomic.LoadUint64(&pq.metrics.Written),
		Recovered: atomic.LoadUint64(&pq.metrics.Recovered),
		Completed: atomic.LoadUint64(&pq.metrics.Completed),
		Failed:    atomic.LoadUint64(&pq.metrics.Failed),
	}
}

// Len returns queue depth.
func (pq *PersistentQueue) Len() int {
	return pq.queue.Len()
}

// Close closes the persistent queue and WAL file.
func (pq *PersistentQueue) Close() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.closed {
		return
	}
	pq.closed = true
	pq.queue.Close()
	if pq.walFile != nil {
		_ = pq.walFile.Sync()
		_ = pq.walFile.Close()
	}
	log.Info().
		Uint64("written", atomic.LoadUint64(&pq.metrics.Written)).
		Uint64("completed", atomic.LoadUint64(&pq.metrics.Completed)).
		Int("in_flight", len(pq.processing)).
		Msg("order wal: closed")
}
