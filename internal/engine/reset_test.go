package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/subscription"
)

func TestReset_SubscriptionScopeDeletesOnlyRequestedRowsAndDrainsOutbox(t *testing.T) {
	ctx := context.Background()
	handler := &scriptedHandler{}
	e, mem := newRealtimeTestEngine(t, handler)

	require.NoError(t, subscription.Upsert(ctx, mem, subscription.State{
		ProfileID: "profile-1", SubscriptionID: "sub-1", Table: "items", Cursor: 5,
	}))
	require.NoError(t, subscription.Upsert(ctx, mem, subscription.State{
		ProfileID: "profile-1", SubscriptionID: "sub-2", Table: "items", Cursor: 9,
	}))
	_, err := e.deps.Outbox.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "row-1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	result, err := e.Reset(ctx, ResetOptions{
		Scope:             ResetScopeSubscription,
		SubscriptionIDs:   []string{"sub-1"},
		ClearOutbox:       true,
		ClearSyncedTables: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedSubscriptionStates)
	assert.Equal(t, 1, result.DeletedOutboxCommits)
	assert.Equal(t, []string{"items"}, result.ClearedTables)

	got1, err := mem.GetSubscriptionState(ctx, "profile-1", "sub-1")
	require.NoError(t, err)
	assert.Nil(t, got1, "the requested subscription must be deleted")

	got2, err := mem.GetSubscriptionState(ctx, "profile-1", "sub-2")
	require.NoError(t, err)
	assert.NotNil(t, got2, "a subscription outside the requested scope must be untouched")

	n, err := e.deps.Outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "clearOutbox must drain the outbox")
}

func TestRepair_RejectsUnsupportedMode(t *testing.T) {
	e, _ := newRealtimeTestEngine(t, &scriptedHandler{})
	_, err := e.Repair(context.Background(), RepairOptions{Mode: "wipe-everything"})
	require.Error(t, err)
}

func TestRepair_RebootstrapMissingChunksClearsTableAndSubscription(t *testing.T) {
	ctx := context.Background()
	handler := &scriptedHandler{}
	e, mem := newRealtimeTestEngine(t, handler)

	require.NoError(t, subscription.Upsert(ctx, mem, subscription.State{
		ProfileID: "profile-1", SubscriptionID: "sub-1", Table: "items", Cursor: 5,
	}))

	result, err := e.Repair(ctx, RepairOptions{
		Mode:            RepairModeRebootstrapMissingChunks,
		SubscriptionIDs: []string{"sub-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedSubscriptionStates)
	assert.Equal(t, []string{"items"}, result.ClearedTables)

	got, err := mem.GetSubscriptionState(ctx, "profile-1", "sub-1")
	require.NoError(t, err)
	assert.Nil(t, got, "a repaired subscription is dropped so the next sync re-bootstraps it")
}
