// package lineage maintains the append-only per-record event log and its
// current-status projection. Ids are deterministic so replays are idempotent:
// the parent id is a hash of (collection, record), the event id appends the
// fixed-width event time so a record's events sort chronologically by id.
package lineage

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"
)

// Status is the current-status projection of a record.
type Status string

const (
	StatusActive  Status = "Active"
	StatusDeleted Status = "Deleted"
)

// EventType classifies one applied change.
type EventType string

const (
	EventCreated   EventType = "Created"
	EventUpdated   EventType = "Updated"
	EventDeleted   EventType = "Deleted"
	EventUndeleted EventType = "Undeleted"
)

// ErrNotFound is returned when a record has no lineage.
var ErrNotFound = errors.New("lineage: not found")

// idDelimiter joins the components hashed into parent and event ids.
const idDelimiter = "__"

// eventTimeLayout is fixed-width ISO-8601 UTC so event ids hashed from it
// sort chronologically under a plain lexicographic id sort.
const eventTimeLayout = "2006-01-02T15:04:05.000000000Z"

// ParentID derives the stable 43-character parent id for a record.
func ParentID(collection, recordID string) string {
	return hashID(collection + idDelimiter + recordID)
}

// EventID derives the stable id for one event: the parent id plus the
// fixed-width event time, so a record's events sort chronologically under a
// plain lexicographic id sort.
func EventID(collection, recordID string, eventTime time.Time) string {
	return ParentID(collection, recordID) + idDelimiter + FormatEventTime(eventTime)
}

// FormatEventTime renders an event time in the fixed-width id form.
func FormatEventTime(t time.Time) string {
	return t.UTC().Format(eventTimeLayout)
}

func hashID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Parent is the per-record projection row.
type Parent struct {
	ID                   string    `json:"id"`
	CollectionName       string    `json:"collectionName"`
	RecordID             string    `json:"recordId"`
	CurrentStatus        Status    `json:"currentStatus"`
	CreatedByImport      string    `json:"createdByImport"`
	LastModifiedByImport string    `json:"lastModifiedByImport"`
	CreatedAt            time.Time `json:"createdAt"`
	LastModifiedAt       time.Time `json:"lastModifiedAt"`
}

// Event is one immutable applied change.
type Event struct {
	ID             string                 `json:"id"`
	ParentID       string                 `json:"lineageParentId"`
	CollectionName string                 `json:"collectionName"`
	RecordID       string                 `json:"recordId"`
	EventType      EventType              `json:"eventType"`
	ImportID       string                 `json:"importId"`
	FileKey        string                 `json:"fileKey"`
	EventTime      time.Time              `json:"eventTime"`
	ChangeType     string                 `json:"changeType"`
	PreviousValues map[string]interface{} `json:"previousValues,omitempty"`
	NewValues      map[string]interface{} `json:"newValues,omitempty"`
}

// Lifecycle is a record's full event history with its projection.
type Lifecycle struct {
	Parent Parent  `json:"parent"`
	Events []Event `json:"events"`
}

// LifecyclePage is the paginated retrieval envelope.
type LifecyclePage struct {
	TotalEvents    int64     `json:"totalEvents"`
	Skip           int       `json:"skip"`
	Top            int       `json:"top"`
	Count          int       `json:"count"`
	Events         []Event   `json:"events"`
	CurrentStatus  Status    `json:"currentStatus"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
	Imports        []string  `json:"imports"`
}

// Store is the persistence abstraction for the lineage log.
type Store interface {
	// EnsureIndexes idempotently creates schema and indexes; called once per process.
	EnsureIndexes(ctx context.Context) error

	// WriteBatch upserts the parents derived from the events (unordered),
	// then insert-many's the events (unordered, duplicate ids ignored).
	WriteBatch(ctx context.Context, events []Event) error

	// GetLifecycle returns the full history for one record.
	GetLifecycle(ctx context.Context, collection, recordID string) (*Lifecycle, error)

	// GetLifecyclePage returns one page of the history.
	GetLifecyclePage(ctx context.Context, collection, recordID string, skip, top int) (*LifecyclePage, error)
}

// parentsFor folds an event batch into the parent mutations it implies,
// later events (by time) winning for the mutable columns.
func parentsFor(events []Event) []Parent {
	byID := make(map[string]*Parent)
	var order []string
	for _, ev := range events {
		status := StatusActive
		if ev.EventType == EventDeleted {
			status = StatusDeleted
		}
		p, ok := byID[ev.ParentID]
		if !ok {
			byID[ev.ParentID] = &Parent{
				ID:                   ev.ParentID,
				CollectionName:       ev.CollectionName,
				RecordID:             ev.RecordID,
				CurrentStatus:        status,
				CreatedByImport:      ev.ImportID,
				LastModifiedByImport: ev.ImportID,
				CreatedAt:            ev.EventTime,
				LastModifiedAt:       ev.EventTime,
			}
			order = append(order, ev.ParentID)
			continue
		}
		if !ev.EventTime.Before(p.LastModifiedAt) {
			p.CurrentStatus = status
			p.LastModifiedByImport = ev.ImportID
			p.LastModifiedAt = ev.EventTime
		}
	}
	out := make([]Parent, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}
