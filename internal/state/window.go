package state

import "time"

type windowEntry[T any] struct {
	at   time.Time
	item T
}

// TimeWindow is an append-ordered buffer of timestamped items with
// eviction by age. Timestamps are expected to be roughly monotonic but
// out-of-order arrivals are tolerated: eviction removes exactly the
// entries whose timestamp falls outside the retention horizon, wherever
// they sit in the buffer.
type TimeWindow[T any] struct {
	entries []windowEntry[T]
}

func NewTimeWindow[T any]() *TimeWindow[T] {
	return &TimeWindow[T]{}
}

// Push appends item in arrival order.
func (w *TimeWindow[T]) Push(item T, at time.Time) {
	w.entries = append(w.entries, windowEntry[T]{at: at, item: item})
}

// ReplaceLast swaps the most recent entry for item. No-op when empty.
func (w *TimeWindow[T]) ReplaceLast(item T, at time.Time) {
	if len(w.entries) == 0 {
		return
	}
	w.entries[len(w.entries)-1] = windowEntry[T]{at: at, item: item}
}

// Evict drops every entry with timestamp <= now-keep and reports how many
// were dropped. Calling it again with the same now is a no-op.
func (w *TimeWindow[T]) Evict(now time.Time, keep time.Duration) int {
	cutoff := now.Add(-keep)
	first := -1
	for i := range w.entries {
		if !w.entries[i].at.After(cutoff) {
			first = i
			break
		}
	}
	if first < 0 {
		return 0
	}
	kept := w.entries[:first]
	for _, e := range w.entries[first+1:] {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	evicted := len(w.entries) - len(kept)
	var zero windowEntry[T]
	for i := len(kept); i < len(w.entries); i++ {
		w.entries[i] = zero
	}
	w.entries = kept
	return evicted
}

func (w *TimeWindow[T]) Len() int { return len(w.entries) }

func (w *TimeWindow[T]) Empty() bool { return len(w.entries) == 0 }

// Snapshot returns the retained items in arrival order. The slice is a
// copy; items themselves are shared.
func (w *TimeWindow[T]) Snapshot() []T {
	out := make([]T, len(w.entries))
	for i := range w.entries {
		out[i] = w.entries[i].item
	}
	return out
}

// Tail returns up to n of the most recent items, newest first.
func (w *TimeWindow[T]) Tail(n int) []T {
	if n <= 0 || len(w.entries) == 0 {
		return nil
	}
	if n > len(w.entries) {
		n = len(w.entries)
	}
	out := make([]T, 0, n)
	for i := len(w.entries) - 1; i >= len(w.entries)-n; i-- {
		out = append(out, w.entries[i].item)
	}
	return out
}

// Last returns the most recent item.
func (w *TimeWindow[T]) Last() (T, bool) {
	if len(w.entries) == 0 {
		var zero T
		return zero, false
	}
	return w.entries[len(w.entries)-1].item, true
}
