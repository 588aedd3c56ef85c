// package catalogue enumerates the snapshot files available per dataset for a
// date range. Listing fans out across (dataset, date) pairs with bounded
// concurrency; results are re-ordered by the run timestamp embedded in each
// filename before they are handed to the pipelines.
package catalogue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agrimesh/refsync/internal/blob"
	"github.com/agrimesh/refsync/internal/dataset"
)

// maxConcurrentLists bounds parallel list calls against the object store.
const maxConcurrentLists = 10

// Error is the fatal per-run catalogue error kind. A filename that does not
// carry a parseable run timestamp fails the run rather than being skipped.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalogue: %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// File is a storage object with the run timestamp parsed from its key.
type File struct {
	blob.Object
	Timestamp time.Time
}

// FileSet is every file found for one dataset, ordered ascending by run
// timestamp so older changes apply first.
type FileSet struct {
	Definition dataset.Definition
	Files      []File
}

// TotalFiles counts the files across the given sets.
func TotalFiles(sets []FileSet) int {
	n := 0
	for _, fs := range sets {
		n += len(fs.Files)
	}
	return n
}

// Service lists candidate files from one object store.
type Service struct {
	store    blob.Reader
	registry *dataset.Registry
}

// New constructs a catalogue over the given read-only store.
func New(store blob.Reader, registry *dataset.Registry) *Service {
	return &Service{store: store, registry: registry}
}

// ForDays returns file sets covering today and the previous days-1 days.
// days=0 covers today only.
func (s *Service) ForDays(ctx context.Context, days int) ([]FileSet, error) {
	to := time.Now().UTC()
	from := to
	if days > 0 {
		from = to.AddDate(0, 0, -(days - 1))
	}
	return s.ForRange(ctx, from, to)
}

// ForRange returns one FileSet per dataset definition covering every date in
// [from, to] inclusive (UTC).
func (s *Service) ForRange(ctx context.Context, from, to time.Time) ([]FileSet, error) {
	type listJob struct {
		defIdx int
		prefix string
	}

	defs := s.registry.All()
	var jobs []listJob
	for i, d := range defs {
		for day := dateOnly(from); !day.After(dateOnly(to)); day = day.AddDate(0, 0, 1) {
			jobs = append(jobs, listJob{defIdx: i, prefix: d.PrefixFor(day)})
		}
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		perDef   = make([][]File, len(defs))
	)
	sem := make(chan struct{}, maxConcurrentLists)

	for _, job := range jobs {
		job := job
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			objs, err := s.store.List(ctx, job.prefix)
			if err == nil {
				var files []File
				files, err = parseFiles(defs[job.defIdx], objs)
				if err == nil {
					mu.Lock()
					perDef[job.defIdx] = append(perDef[job.defIdx], files...)
					mu.Unlock()
					return
				}
			}
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	sets := make([]FileSet, 0, len(defs))
	for i, d := range defs {
		files := perDef[i]
		sort.Slice(files, func(a, b int) bool { return files[a].Timestamp.Before(files[b].Timestamp) })
		sets = append(sets, FileSet{Definition: d, Files: files})
	}
	return sets, nil
}

func parseFiles(def dataset.Definition, objs []blob.Object) ([]File, error) {
	files := make([]File, 0, len(objs))
	for _, obj := range objs {
		ts, err := ParseTimestamp(def, obj.Key)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Object: obj, Timestamp: ts})
	}
	return files, nil
}

// ParseTimestamp extracts the run timestamp from a snapshot key. The key's
// first dot-segment is split on underscores; the last segment must lead with
// a 14-digit timestamp in the dataset's datetime pattern (UTC).
func ParseTimestamp(def dataset.Definition, key string) (time.Time, error) {
	stem := key
	if i := strings.Index(stem, "."); i >= 0 {
		stem = stem[:i]
	}
	parts := strings.Split(stem, "_")
	last := parts[len(parts)-1]
	if len(last) < len(def.DateTimePattern) {
		return time.Time{}, &Error{Key: key, Err: fmt.Errorf("no %d-digit run timestamp", len(def.DateTimePattern))}
	}
	ts, err := time.ParseInLocation(def.DateTimePattern, last[:len(def.DateTimePattern)], time.UTC)
	if err != nil {
		return time.Time{}, &Error{Key: key, Err: fmt.Errorf("parse run timestamp: %w", err)}
	}
	return ts, nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
