package inspector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/syncengine/internal/inspector"
)

func TestRecord_MonotonicIDs(t *testing.T) {
	r := inspector.New(10)
	a := r.Record("sync:complete", nil)
	b := r.Record("sync:error", nil)
	assert.Equal(t, a.ID+1, b.ID)
}

func TestRecord_BoundedAtCapacity(t *testing.T) {
	r := inspector.New(3)
	for i := 0; i < 10; i++ {
		r.Record("event", i)
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, 7, snap[0].Payload)
	assert.Equal(t, 9, snap[2].Payload)
}

func TestNew_ClampsToDefaultCapacity(t *testing.T) {
	r := inspector.New(10000)
	for i := 0; i < inspector.DefaultCapacity+50; i++ {
		r.Record("event", i)
	}
	assert.Len(t, r.Snapshot(), inspector.DefaultCapacity)
}

func TestClear_EmptiesRingButKeepsIDCounter(t *testing.T) {
	r := inspector.New(10)
	r.Record("a", nil)
	r.Clear()
	assert.Empty(t, r.Snapshot())
	next := r.Record("b", nil)
	assert.Equal(t, int64(2), next.ID)
}
