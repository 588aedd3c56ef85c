package lineage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// defaultFlushThreshold is how many buffered events trigger a flush.
const defaultFlushThreshold = 500

// Recorder buffers lineage events during ingestion and flushes them to the
// store in batches. Not safe for concurrent use; the ingestion pipeline is
// strictly sequential.
type Recorder struct {
	store     Store
	publisher Publisher
	threshold int
	buf       []Event
}

// NewRecorder wraps a store with batching. publisher may be nil.
func NewRecorder(store Store, publisher Publisher) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
		threshold: defaultFlushThreshold,
	}
}

// Record derives the deterministic ids and buffers one event; callers flush
// via MaybeFlush/Flush.
func (r *Recorder) Record(collection, recordID string, eventType EventType, importID, fileKey, changeType string,
	eventTime time.Time, previous, next map[string]interface{}) {
	r.buf = append(r.buf, Event{
		ID:             EventID(collection, recordID, eventTime),
		ParentID:       ParentID(collection, recordID),
		CollectionName: collection,
		RecordID:       recordID,
		EventType:      eventType,
		ImportID:       importID,
		FileKey:        fileKey,
		EventTime:      eventTime.UTC(),
		ChangeType:     changeType,
		PreviousValues: previous,
		NewValues:      next,
	})
}

// Pending reports how many events are buffered.
func (r *Recorder) Pending() int { return len(r.buf) }

// MaybeFlush flushes when the buffer reached the threshold.
func (r *Recorder) MaybeFlush(ctx context.Context) error {
	if len(r.buf) < r.threshold {
		return nil
	}
	return r.Flush(ctx)
}

// Flush writes the buffered events and publishes them best effort.
func (r *Recorder) Flush(ctx context.Context) error {
	if len(r.buf) == 0 {
		return nil
	}
	batch := r.buf
	if err := r.store.WriteBatch(ctx, batch); err != nil {
		return fmt.Errorf("flush lineage events: %w", err)
	}
	r.buf = nil
	if r.publisher != nil {
		for _, ev := range batch {
			if err := r.publisher.Publish(ctx, ev); err != nil {
				log.Printf("[lineage] publish event %s: %v", ev.ID, err)
			}
		}
	}
	return nil
}
