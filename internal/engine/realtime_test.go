package engine

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/syncengine/internal/fingerprint"
	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/store/storetest"
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/tablehandler"
	"github.com/localsync/syncengine/internal/transport"
)

type fakeRealtimeTransport struct{}

func (fakeRealtimeTransport) Sync(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
	resp := &transport.SyncResponse{}
	if req.Pull != nil {
		resp.Pull = &transport.PullResponse{OK: true}
	}
	return resp, nil
}
func (fakeRealtimeTransport) FetchSnapshotChunk(ctx context.Context, chunkID string) ([]byte, error) {
	return nil, nil
}
func (fakeRealtimeTransport) FetchSnapshotChunkStream(ctx context.Context, chunkID string) (io.ReadCloser, error) {
	return nil, nil
}

type scriptedHandler struct {
	applied []tablehandler.Change
	failAt  string // RowID that errors when applied, "" means never fail
}

func (h *scriptedHandler) ApplySnapshot(ctx context.Context, batch tablehandler.SnapshotBatch) error {
	return nil
}
func (h *scriptedHandler) ApplyChange(ctx context.Context, tx store.Tx, c tablehandler.Change) error {
	if c.RowID == h.failAt {
		return errors.New("boom")
	}
	h.applied = append(h.applied, c)
	return nil
}
func (h *scriptedHandler) ClearAll(ctx context.Context, scopes map[string]any) error { return nil }

func newRealtimeTestEngine(t *testing.T, handler *scriptedHandler) (*Engine, *storetest.Memory) {
	t.Helper()
	mem := storetest.New()
	registry := tablehandler.NewRegistry()
	require.NoError(t, registry.Register("items", handler))

	e := &Engine{
		status: StatusIdle,
		mode:   ModeRealtime,
		bus:    NewBus(0),
		ctx:    context.Background(),
		deps: Deps{
			ProfileID:     "profile-1",
			Store:         mem,
			Outbox:        outbox.New(mem),
			Subscriptions: subscription.New(mem),
			Registry:      registry,
			Fingerprints:  fingerprint.New(),
			Transport:     fakeRealtimeTransport{},
		},
	}
	return e, mem
}

func TestHandleRealtimeChanges_InlineAppliesAndBumpsCursor(t *testing.T) {
	handler := &scriptedHandler{}
	e, mem := newRealtimeTestEngine(t, handler)

	require.NoError(t, subscription.Upsert(context.Background(), mem, subscription.State{
		ProfileID: "profile-1", SubscriptionID: "sub-1", Table: "items", Cursor: 5,
	}))

	cursor := int64(10)
	ev := transport.RealtimeEvent{Event: "change"}
	ev.Data.Cursor = &cursor
	ev.Data.Changes = []transport.Change{{Table: "items", RowID: "row-1", Op: "upsert"}}

	e.handleRealtimeChanges(ev)

	require.Len(t, handler.applied, 1)
	assert.Equal(t, "row-1", handler.applied[0].RowID)

	got, err := mem.GetSubscriptionState(context.Background(), "profile-1", "sub-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), got.Cursor, "cursor advances to the event's cursor when it's ahead of the stored one")
}

func TestHandleRealtimeChanges_FailureLeavesCursorUnchangedAndFallsBack(t *testing.T) {
	handler := &scriptedHandler{failAt: "row-2"}
	e, mem := newRealtimeTestEngine(t, handler)

	require.NoError(t, subscription.Upsert(context.Background(), mem, subscription.State{
		ProfileID: "profile-1", SubscriptionID: "sub-1", Table: "items", Cursor: 5,
	}))

	cursor := int64(10)
	ev := transport.RealtimeEvent{Event: "change"}
	ev.Data.Cursor = &cursor
	ev.Data.Changes = []transport.Change{
		{Table: "items", RowID: "row-1", Op: "upsert"},
		{Table: "items", RowID: "row-2", Op: "upsert"},
	}

	e.handleRealtimeChanges(ev)

	got, err := mem.GetSubscriptionState(context.Background(), "profile-1", "sub-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(5), got.Cursor, "a failed apply must never advance the subscription cursor")

	e.wg.Wait()
	assert.Equal(t, StatusIdle, e.Status(), "the fallback background sync found nothing to push/pull and returned to idle")
}

func TestCanInlineApply_FalseWhenSyncingOrOutboxPendingOrNoChanges(t *testing.T) {
	handler := &scriptedHandler{}
	e, mem := newRealtimeTestEngine(t, handler)

	ev := transport.RealtimeEvent{Event: "change"}
	ev.Data.Changes = []transport.Change{{Table: "items", RowID: "row-1"}}
	assert.True(t, e.canInlineApply(ev))

	empty := transport.RealtimeEvent{Event: "change"}
	assert.False(t, e.canInlineApply(empty), "an event with no changes must not take the fast path")

	e.syncing = true
	assert.False(t, e.canInlineApply(ev), "a sync already in flight must not be interrupted by an inline apply")
	e.syncing = false

	_, err := e.deps.Outbox.Enqueue(context.Background(), []outbox.Operation{{Table: "items", RowID: "x", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)
	_ = mem
	assert.False(t, e.canInlineApply(ev), "a non-empty outbox means a full sync is due, so the fast path is skipped")
}
