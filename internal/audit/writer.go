package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/atlasrisk/atlas/internal/metrics"
	"github.com/atlasrisk/atlas/internal/retry"
)

const (
	writerQueueSize     = 4096
	writerBatchSize     = 100
	writerFlushInterval = 500 * time.Millisecond
)

// Writer asynchronously batches audit records to a Sink, so scoring never
// stalls on audit durability. Enqueue is non-blocking: when the queue is
// full the record is dropped and counted, never silently lost.
type Writer struct {
	sink    Sink
	logger  *slog.Logger
	ch      chan *Record
	stop    chan struct{}
	running atomic.Bool
	dropped atomic.Int64

	queueSize     int
	batchSize     int
	flushInterval time.Duration
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the writer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// WithQueueSize overrides the enqueue buffer size.
func WithQueueSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithBatchSize overrides how many records are flushed at once.
func WithBatchSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithFlushInterval overrides the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.flushInterval = d
		}
	}
}

// NewWriter creates an async writer over the given sink.
func NewWriter(sink Sink, opts ...Option) *Writer {
	w := &Writer{
		sink:          sink,
		logger:        slog.Default(),
		stop:          make(chan struct{}),
		queueSize:     writerQueueSize,
		batchSize:     writerBatchSize,
		flushInterval: writerFlushInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ch = make(chan *Record, w.queueSize)
	return w
}

// Enqueue queues a record for persistence. Non-blocking: drops and counts
// if the queue is full.
func (w *Writer) Enqueue(rec *Record) {
	select {
	case w.ch <- rec:
	default:
		w.dropped.Add(1)
		metrics.AuditDroppedTotal.Inc()
		w.logger.Warn("audit queue full, record dropped", "audit_id", rec.ID, "event_id", rec.EventID)
	}
}

// Dropped returns the number of records dropped due to a full queue.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Start begins draining the queue and flushing batches. Call in a goroutine.
func (w *Writer) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	var buf []*Record

	for {
		select {
		case <-ctx.Done():
			w.flush(buf)
			return
		case <-w.stop:
			w.flush(buf)
			return
		case rec := <-w.ch:
			buf = append(buf, rec)
			if len(buf) >= w.batchSize {
				w.flush(buf)
				buf = nil
			}
		case <-ticker.C:
			if len(buf) > 0 {
				w.flush(buf)
				buf = nil
			}
		}
	}
}

// Stop signals the writer to flush remaining records and exit.
func (w *Writer) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

// Running reports whether the writer loop is active.
func (w *Writer) Running() bool {
	return w.running.Load()
}

func (w *Writer) flush(buf []*Record) {
	if len(buf) == 0 {
		return
	}
	w.safeFlush(buf)
}

func (w *Writer) safeFlush(buf []*Record) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in audit writer flush", "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		return w.sink.Append(ctx, buf...)
	})
	if err != nil {
		metrics.AuditWritesTotal.WithLabelValues("error").Add(float64(len(buf)))
		w.logger.Error("audit writer flush failed", "error", err, "count", len(buf))
		return
	}
	metrics.AuditWritesTotal.WithLabelValues("ok").Add(float64(len(buf)))
}
