package tablehandler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/tablehandler"
)

type fakeHandler struct {
	snapshots []tablehandler.SnapshotBatch
	changes   []tablehandler.Change
	cleared   []map[string]any
}

func (f *fakeHandler) ApplySnapshot(ctx context.Context, b tablehandler.SnapshotBatch) error {
	f.snapshots = append(f.snapshots, b)
	return nil
}
func (f *fakeHandler) ApplyChange(ctx context.Context, tx store.Tx, c tablehandler.Change) error {
	f.changes = append(f.changes, c)
	return nil
}
func (f *fakeHandler) ClearAll(ctx context.Context, scopes map[string]any) error {
	f.cleared = append(f.cleared, scopes)
	return nil
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, tablehandler.ValidIdentifier("items"))
	assert.True(t, tablehandler.ValidIdentifier("_private"))
	assert.False(t, tablehandler.ValidIdentifier("items; DROP TABLE x"))
	assert.False(t, tablehandler.ValidIdentifier("1items"))
	assert.False(t, tablehandler.ValidIdentifier(""))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := tablehandler.NewRegistry()
	h := &fakeHandler{}
	require.NoError(t, r.Register("items", h))

	got, err := r.Get("items")
	require.NoError(t, err)
	assert.Same(t, h, got)
}

func TestRegistry_RejectsInvalidIdentifier(t *testing.T) {
	r := tablehandler.NewRegistry()
	err := r.Register("items; DROP TABLE x", &fakeHandler{})
	require.Error(t, err)
	var invalid *tablehandler.ErrInvalidIdentifier
	assert.True(t, errors.As(err, &invalid))
}

func TestRegistry_UnknownTable(t *testing.T) {
	r := tablehandler.NewRegistry()
	_, err := r.Get("missing")
	require.Error(t, err)
	var unknown *tablehandler.ErrUnknownTable
	assert.True(t, errors.As(err, &unknown))
}
