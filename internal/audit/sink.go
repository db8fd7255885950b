package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Sink persists audit records. Implementations must be append-only: records
// are never updated or deleted once written.
type Sink interface {
	Append(ctx context.Context, records ...*Record) error
}

// MemorySink keeps records in memory. Used in tests and when the service
// runs without a database.
type MemorySink struct {
	mu      sync.RWMutex
	records []*Record
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores the records.
func (s *MemorySink) Append(_ context.Context, records ...*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// Trail returns the records for one event, oldest first.
func (s *MemorySink) Trail(_ context.Context, eventID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, r := range s.records {
		if r.EventID == eventID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Len returns the number of stored records.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// FanoutSink appends to every underlying sink. All sinks are attempted even
// if one fails; errors are joined.
type FanoutSink struct {
	sinks []Sink
}

var _ Sink = (*FanoutSink)(nil)

// NewFanoutSink combines multiple sinks into one.
func NewFanoutSink(sinks ...Sink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

// Append writes the records to each sink in order.
func (s *FanoutSink) Append(ctx context.Context, records ...*Record) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Append(ctx, records...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
