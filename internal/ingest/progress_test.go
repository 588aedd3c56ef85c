package ingest

import (
	"testing"
	"time"
)

// fakeClock advances a Tracker deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestTracker(estimate int64) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	tr := NewTracker("farms/FARM_20240501120000.csv", estimate)
	tr.now = clock.now
	return tr, clock
}

func TestTrackerPercentageCapsAt99(t *testing.T) {
	tr, clock := newTestTracker(100)
	tr.Update(0)
	clock.t = clock.t.Add(time.Second)
	tr.Update(100)

	st := tr.Status()
	if st.PercentageCompleted != 99 {
		t.Fatalf("percentage = %d, want cap 99", st.PercentageCompleted)
	}

	// The estimate can undershoot; percentage still may not pass 99.
	clock.t = clock.t.Add(time.Second)
	tr.Update(250)
	if st := tr.Status(); st.PercentageCompleted != 99 {
		t.Fatalf("percentage = %d with overshoot rows", st.PercentageCompleted)
	}
}

func TestTrackerCompleteIs100(t *testing.T) {
	tr, _ := newTestTracker(100)
	tr.Update(100)
	tr.Complete()
	st := tr.Status()
	if st.PercentageCompleted != 100 {
		t.Fatalf("percentage = %d after Complete", st.PercentageCompleted)
	}
	if st.EstimatedCompletion == nil {
		t.Fatalf("completion timestamp missing")
	}
}

func TestTrackerNoETABeforeMinimumRows(t *testing.T) {
	tr, clock := newTestTracker(1000)
	tr.Update(0)
	clock.t = clock.t.Add(time.Second)
	tr.Update(5)

	st := tr.Status()
	if st.EstimatedTimeRemaining != "" || st.EstimatedCompletion != nil {
		t.Fatalf("ETA produced from %d rows", st.RowNumber)
	}
}

func TestTrackerRateAndETA(t *testing.T) {
	tr, clock := newTestTracker(1000)
	tr.Update(0)
	clock.t = clock.t.Add(10 * time.Second)
	tr.Update(100) // 10 rows/sec

	st := tr.Status()
	if st.RowsPerMinute != 600 {
		t.Fatalf("RowsPerMinute = %v, want 600", st.RowsPerMinute)
	}
	if st.EstimatedTimeRemaining == "" || st.EstimatedCompletion == nil {
		t.Fatalf("expected ETA at %d rows", st.RowNumber)
	}
	// 900 rows left at 10 rows/sec.
	if st.EstimatedTimeRemaining != "1m30s" {
		t.Fatalf("EstimatedTimeRemaining = %q", st.EstimatedTimeRemaining)
	}
}

func TestTrackerSmoothsRate(t *testing.T) {
	tr, clock := newTestTracker(10000)
	tr.Update(0)
	clock.t = clock.t.Add(time.Second)
	tr.Update(100) // seeds the average at 100 rows/sec
	clock.t = clock.t.Add(time.Second)
	tr.Update(300) // instantaneous 200 rows/sec

	st := tr.Status()
	// 0.2*200 + 0.8*100 = 120 rows/sec.
	want := 120.0 * 60
	if diff := st.RowsPerMinute - want; diff < -0.001 || diff > 0.001 {
		t.Fatalf("RowsPerMinute = %v, want ~%v", st.RowsPerMinute, want)
	}
}
