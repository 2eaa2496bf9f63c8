package stateengine

import "time"

type windowEntry struct {
	at       time.Time
	inserted int
}

// SlidingWindow keeps the insert volume of the last span of edits.
// Aggregates are always recomputed from the retained entries.
type SlidingWindow struct {
	span    time.Duration
	entries []windowEntry
}

func NewSlidingWindow(span time.Duration) *SlidingWindow {
	if span <= 0 {
		span = 1200 * time.Millisecond
	}
	return &SlidingWindow{span: span}
}

// Record appends an entry and evicts everything older than span relative to at.
// Timestamps are expected to be non-decreasing.
func (w *SlidingWindow) Record(at time.Time, inserted int) {
	if inserted < 0 {
		inserted = 0
	}
	w.entries = append(w.entries, windowEntry{at: at, inserted: inserted})
	cut := 0
	for cut < len(w.entries) && at.Sub(w.entries[cut].at) > w.span {
		cut++
	}
	if cut > 0 {
		w.entries = append(w.entries[:0], w.entries[cut:]...)
	}
}

func (w *SlidingWindow) InsertTotal() int {
	total := 0
	for _, e := range w.entries {
		total += e.inserted
	}
	return total
}

func (w *SlidingWindow) EventCount() int {
	return len(w.entries)
}

func (w *SlidingWindow) Reset() {
	w.entries = w.entries[:0]
}
