package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBump_StrictlyIncreasesAcrossSameMillisecond(t *testing.T) {
	frozen := time.UnixMilli(1000)
	m := newWithClock(func() time.Time { return frozen })

	key := Key{Table: "items", RowID: "1"}
	prev := m.Bump(key)
	for i := 0; i < 50; i++ {
		next := m.Bump(key)
		assert.True(t, prev.Less(next), "stamp must strictly increase even within the same millisecond")
		prev = next
	}
}

func TestBump_AdvancesWithRealClock(t *testing.T) {
	m := New()
	a := m.Bump(Key{Table: "items", RowID: "1"})
	b := m.Bump(Key{Table: "items", RowID: "2"})
	assert.True(t, a.Less(b))
}

func TestGet_ReturnsLastBump(t *testing.T) {
	m := New()
	key := Key{Table: "items", RowID: "1"}
	want := m.Bump(key)
	got, ok := m.Get(key)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestClear_RemovesAllEntries(t *testing.T) {
	m := New()
	key := Key{Table: "items", RowID: "1"}
	m.Bump(key)
	m.Clear()
	_, ok := m.Get(key)
	assert.False(t, ok)
}

func TestBumpTable_UsesEmptyRowID(t *testing.T) {
	m := New()
	m.BumpTable("items")
	_, ok := m.Get(Key{Table: "items"})
	assert.True(t, ok)
}
