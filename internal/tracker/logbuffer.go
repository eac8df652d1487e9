package tracker

import (
	"sort"
	"time"

	"seopilot/internal/models"
)

// Log aggregation: per-task sequences are append-only and timestamp
// ordered, with insertion order breaking ties. The same server-side event
// can reach the client through both the change feed and a poll response, so
// entries with identical text inside a small tolerance window collapse to
// one.

// insertEntry places e into a task's ordered sequence. It returns the new
// sequence and false when e was dropped as a duplicate.
func insertEntry(entries []models.TaskLogEntry, e models.TaskLogEntry, tolerance time.Duration) ([]models.TaskLogEntry, bool) {
	for i := range entries {
		if entries[i].Message != e.Message {
			continue
		}
		delta := e.Timestamp.Sub(entries[i].Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta <= tolerance {
			return entries, false
		}
	}

	// First index whose timestamp is strictly later than e's; equal
	// timestamps keep insertion order.
	pos := sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp.After(e.Timestamp)
	})

	entries = append(entries, models.TaskLogEntry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = e
	return entries, true
}

// mergeEntries folds src into dst one entry at a time, preserving the
// relative order of src and de-duplicating against dst. Used when a
// temporary bucket's log is moved under its resolved server key.
func mergeEntries(dst, src []models.TaskLogEntry, tolerance time.Duration) []models.TaskLogEntry {
	for _, e := range src {
		dst, _ = insertEntry(dst, e, tolerance)
	}
	return dst
}

// Flatten produces one chronologically merged feed across every tracked
// task. The sort is total (timestamp, then task key, then insertion
// sequence) so repeated calls over an unchanged state yield identical
// output, which the UI relies on for diffing.
func Flatten(state *State) []models.TaskLogEntry {
	total := 0
	for _, entries := range state.Logs {
		total += len(entries)
	}
	feed := make([]models.TaskLogEntry, 0, total)
	for _, entries := range state.Logs {
		feed = append(feed, entries...)
	}

	sort.Slice(feed, func(i, j int) bool {
		a, b := feed[i], feed[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		return a.Seq < b.Seq
	})
	return feed
}
