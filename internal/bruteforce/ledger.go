package bruteforce

import (
	"sync"
	"time"
)

// Ledger tracks per-identity authentication failures. Window counts
// purge stale timestamps before every read and write; the cumulative
// count survives window expiry and feeds the blacklist threshold.
type Ledger struct {
	mu      sync.Mutex
	window  time.Duration
	records map[string]*attemptRecord
	now     func() time.Time
}

type attemptRecord struct {
	timestamps []time.Time
	cumulative int
}

// NewLedger creates a ledger with the given lookback window.
func NewLedger(window time.Duration) *Ledger {
	return &Ledger{
		window:  window,
		records: make(map[string]*attemptRecord),
		now:     time.Now,
	}
}

// RecordFailure appends a failure for identity and returns the count
// of failures inside the window along with the cumulative total.
func (l *Ledger) RecordFailure(identity string) (windowCount, cumulative int) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identity]
	if !ok {
		rec = &attemptRecord{}
		l.records[identity] = rec
	}

	rec.timestamps = purge(rec.timestamps, now.Add(-l.window))
	rec.timestamps = append(rec.timestamps, now)
	rec.cumulative++

	return len(rec.timestamps), rec.cumulative
}

// WindowCount returns the identity's failure count inside the window.
func (l *Ledger) WindowCount(identity string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identity]
	if !ok {
		return 0
	}

	rec.timestamps = purge(rec.timestamps, now.Add(-l.window))
	return len(rec.timestamps)
}

// Timestamps returns a copy of the identity's in-window failure times,
// oldest first. Breach heuristics consume this.
func (l *Ledger) Timestamps(identity string) []time.Time {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identity]
	if !ok {
		return nil
	}

	rec.timestamps = purge(rec.timestamps, now.Add(-l.window))
	out := make([]time.Time, len(rec.timestamps))
	copy(out, rec.timestamps)
	return out
}

// ClearWindow drops the identity's in-window history but keeps the
// cumulative total. Used when an expired lockout grants a fresh start.
func (l *Ledger) ClearWindow(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.records[identity]; ok {
		rec.timestamps = nil
	}
}

// Clear removes the identity entirely, cumulative count included.
func (l *Ledger) Clear(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, identity)
}

// Cleanup reaps identities with no in-window failures and no
// cumulative history worth keeping. Memory reclamation only.
func (l *Ledger) Cleanup() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, rec := range l.records {
		rec.timestamps = purge(rec.timestamps, now.Add(-l.window))
		if len(rec.timestamps) == 0 {
			delete(l.records, identity)
			removed++
		}
	}
	return removed
}

func purge(timestamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(timestamps) && timestamps[idx].Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return timestamps
	}
	return append([]time.Time(nil), timestamps[idx:]...)
}
