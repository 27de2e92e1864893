// Package fingerprint implements the in-memory change-notification bus:
// a monotonically non-decreasing logical clock per (table, rowId), plus a
// table-level clock for large bootstraps (spec §3, §9, P6).
package fingerprint

import (
	"sync"
	"time"
)

// Stamp is a monotonic logical clock: a millisecond timestamp paired with a
// rolling counter that discriminates updates landing in the same
// millisecond, compared lexicographically (millis first, then counter).
type Stamp struct {
	Millis  int64
	Counter uint32
}

// Less reports whether s sorts strictly before other.
func (s Stamp) Less(other Stamp) bool {
	if s.Millis != other.Millis {
		return s.Millis < other.Millis
	}
	return s.Counter < other.Counter
}

// Key identifies one row, or a whole table when RowID is empty.
type Key struct {
	Table string
	RowID string
}

// Map is the in-memory fingerprint map; it keeps one stamp per key and never
// evicts entries. Safe for concurrent use,
// though the engine's single-threaded-task discipline (§5, §9) means
// contention is not expected in practice.
type Map struct {
	mu       sync.Mutex
	last     Stamp
	byKey    map[Key]Stamp
	nowFn    func() time.Time
}

// New constructs an empty fingerprint map using the real wall clock.
func New() *Map {
	return &Map{byKey: map[Key]Stamp{}, nowFn: time.Now}
}

// newWithClock is used by tests to control time deterministically.
func newWithClock(nowFn func() time.Time) *Map {
	return &Map{byKey: map[Key]Stamp{}, nowFn: nowFn}
}

// Bump produces the next strictly-increasing stamp for key and records it
// (P6). Concurrent/same-millisecond calls for the same or different keys
// are disambiguated by the rolling counter.
func (m *Map) Bump(key Key) Stamp {
	m.mu.Lock()
	defer m.mu.Unlock()

	millis := m.nowFn().UnixMilli()
	next := Stamp{Millis: millis, Counter: 0}
	if !m.last.Less(next) {
		// Same millisecond (or a clock that didn't advance): bump the
		// counter instead of the millis component.
		next = Stamp{Millis: m.last.Millis, Counter: m.last.Counter + 1}
	}
	m.last = next
	m.byKey[key] = next
	return next
}

// BumpTable bumps the table-level stamp (used for large bootstraps to
// avoid per-row entries) by bumping the empty-RowID key for that table.
func (m *Map) BumpTable(table string) Stamp {
	return m.Bump(Key{Table: table})
}

// Get returns the last stamp recorded for key, or the zero Stamp if none.
func (m *Map) Get(key Key) (Stamp, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[key]
	return s, ok
}

// Clear removes every entry, used by reset/repair flows.
func (m *Map) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey = map[Key]Stamp{}
	m.last = Stamp{}
}
