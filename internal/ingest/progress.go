package ingest

import (
	"time"

	"github.com/agrimesh/refsync/internal/report"
)

const (
	// emaAlpha is the smoothing factor for the rows/sec moving average.
	emaAlpha = 0.2

	// minRowsForETA is how many rows must pass before an ETA is produced.
	minRowsForETA = 10
)

// Tracker derives the current-file progress block from row counts and an
// exponential moving average of the ingest rate. Percentage stays capped at
// 99 until Complete is called.
type Tracker struct {
	fileName string
	estimate int64

	rows     int64
	ema      float64 // rows per second
	lastTick time.Time
	lastRows int64
	done     bool

	now func() time.Time
}

// NewTracker starts tracking one file against its estimated row count.
func NewTracker(fileName string, estimatedRows int64) *Tracker {
	return &Tracker{
		fileName: fileName,
		estimate: estimatedRows,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Update records that rows have now been processed in total.
func (t *Tracker) Update(rows int64) {
	now := t.now()
	if t.lastTick.IsZero() {
		t.lastTick = now
		t.lastRows = rows
		t.rows = rows
		return
	}
	elapsed := now.Sub(t.lastTick).Seconds()
	if elapsed > 0 {
		rate := float64(rows-t.lastRows) / elapsed
		if t.ema == 0 {
			t.ema = rate
		} else {
			t.ema = emaAlpha*rate + (1-emaAlpha)*t.ema
		}
		t.lastTick = now
		t.lastRows = rows
	}
	t.rows = rows
}

// Complete marks the file finished: 100 percent, nothing remaining.
func (t *Tracker) Complete() {
	t.done = true
}

// Status renders the progress block.
func (t *Tracker) Status() *report.CurrentFileStatus {
	st := &report.CurrentFileStatus{
		FileName:          t.fileName,
		TotalRowsEstimate: t.estimate,
		RowNumber:         t.rows,
		RowsPerMinute:     t.ema * 60,
	}
	if t.done {
		st.PercentageCompleted = 100
		now := t.now()
		st.EstimatedCompletion = &now
		return st
	}
	// Effective total absorbs underestimates so percentage never passes 99
	// before completion.
	total := t.estimate
	if t.rows > total {
		total = t.rows
	}
	if total > 0 {
		pct := int(t.rows * 100 / total)
		if pct > 99 {
			pct = 99
		}
		st.PercentageCompleted = pct
	}
	if t.rows >= minRowsForETA && t.ema > 0 {
		remaining := time.Duration(float64(total-t.rows) / t.ema * float64(time.Second))
		st.EstimatedTimeRemaining = remaining.Round(time.Second).String()
		eta := t.now().Add(remaining)
		st.EstimatedCompletion = &eta
	}
	return st
}
