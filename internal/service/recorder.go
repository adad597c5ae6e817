package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helioscrm/helios/internal/model"
)

// UsageRecorder drains usage log entries to the store off the request path.
// Submit never blocks: when the queue is full the entry is dropped and
// counted, because slowing partner traffic for audit logging is the wrong
// trade.
type UsageRecorder struct {
	store  UsageStore
	logger *slog.Logger

	queue  chan model.UsageLogEntry
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

// NewUsageRecorder sizes the queue; size <= 0 falls back to 256.
func NewUsageRecorder(store UsageStore, size int, logger *slog.Logger) *UsageRecorder {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageRecorder{
		store:  store,
		logger: logger,
		queue:  make(chan model.UsageLogEntry, size),
	}
}

// Start launches the drain goroutine. The recorder stops when ctx is
// cancelled or Close is called.
func (r *UsageRecorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.drain(ctx)
}

// Submit enqueues one entry, filling in the id and timestamp if unset.
func (r *UsageRecorder) Submit(entry model.UsageLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	select {
	case r.queue <- entry:
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		if n%100 == 1 {
			r.logger.Warn("usage log queue full, dropping entries", "dropped_total", n)
		}
	}
}

// Dropped returns how many entries were discarded on a full queue.
func (r *UsageRecorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops the drain loop after flushing whatever is already queued.
func (r *UsageRecorder) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *UsageRecorder) drain(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.queue:
			r.insert(entry)
		case <-ctx.Done():
			// Flush what is left without waiting for new entries.
			for {
				select {
				case entry := <-r.queue:
					r.insert(entry)
				default:
					return
				}
			}
		}
	}
}

// insert uses a fresh context: the request that produced the entry is long
// gone by the time it lands here.
func (r *UsageRecorder) insert(entry model.UsageLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.InsertUsageLog(ctx, &entry); err != nil {
		r.logger.Error("usage log insert failed", "api_key_id", entry.APIKeyID, "error", err)
	}
}
