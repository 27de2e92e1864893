package syncloop_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/syncengine/internal/fingerprint"
	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/pull"
	"github.com/localsync/syncengine/internal/push"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/store/storetest"
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/syncloop"
	"github.com/localsync/syncengine/internal/tablehandler"
	"github.com/localsync/syncengine/internal/transport"
)

type noopHandler struct{}

func (noopHandler) ApplySnapshot(ctx context.Context, batch tablehandler.SnapshotBatch) error {
	return nil
}
func (noopHandler) ApplyChange(ctx context.Context, tx store.Tx, change tablehandler.Change) error {
	return nil
}
func (noopHandler) ClearAll(ctx context.Context, scopes map[string]any) error         { return nil }

// scriptedTransport returns one push response per Sync call carrying a
// push half, and reports the pull half as having nothing new to apply.
type scriptedTransport struct {
	pushResponses []transport.PushStatus
	pushCalls     int
}

func (t *scriptedTransport) Sync(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
	resp := &transport.SyncResponse{}
	if req.Push != nil {
		status := transport.PushApplied
		if t.pushCalls < len(t.pushResponses) {
			status = t.pushResponses[t.pushCalls]
		}
		t.pushCalls++
		resp.Push = &transport.PushResponse{Status: status, Results: []transport.OperationResult{{OpIndex: 0, Status: transport.ResultApplied}}}
	}
	if req.Pull != nil {
		resp.Pull = &transport.PullResponse{OK: true}
	}
	return resp, nil
}
func (*scriptedTransport) FetchSnapshotChunk(ctx context.Context, chunkID string) ([]byte, error) {
	return nil, nil
}
func (*scriptedTransport) FetchSnapshotChunkStream(ctx context.Context, chunkID string) (io.ReadCloser, error) {
	return nil, nil
}

func newTestDeps(tr *scriptedTransport) syncloop.Deps {
	mem := storetest.New()
	registry := tablehandler.NewRegistry()
	_ = registry.Register("items", noopHandler{})

	return syncloop.Deps{
		ProfileID:     "p1",
		Subscriptions: subscription.New(mem),
		Transport:     tr,
		PullOptions:   pull.Options{ClientID: "c1"},
		PushDeps: push.Deps{
			Outbox:        outbox.New(mem),
			ConflictStore: mem,
			Transport:     tr,
			ClientID:      "c1",
		},
		PullDeps: pull.Deps{
			Store:        mem,
			Registry:     registry,
			Transport:    tr,
			Fingerprints: fingerprint.New(),
		},
	}
}

func TestSyncOnce_NoPendingCommitsAndNoChanges(t *testing.T) {
	deps := newTestDeps(&scriptedTransport{})

	result, err := syncloop.SyncOnce(context.Background(), deps)
	require.NoError(t, err)
	assert.True(t, result.PushDrained)
	assert.True(t, result.PullDrained)
	assert.Empty(t, result.PushResults)
}

func TestSyncOnce_DrainsMultiplePendingCommits(t *testing.T) {
	tr := &scriptedTransport{}
	deps := newTestDeps(tr)

	ctx := context.Background()
	_, err := deps.PushDeps.Outbox.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "row-1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)
	_, err = deps.PushDeps.Outbox.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "row-2", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	result, err := syncloop.SyncOnce(ctx, deps)
	require.NoError(t, err)
	require.Len(t, result.PushResults, 2)
	assert.Equal(t, push.OutcomeAcked, result.PushResults[0].Outcome)
	assert.Equal(t, push.OutcomeAcked, result.PushResults[1].Outcome)
	assert.True(t, result.PushDrained)
}

func TestSyncOnce_StopsDrainingOnFirstNonAckedOutcome(t *testing.T) {
	tr := &scriptedTransport{pushResponses: []transport.PushStatus{transport.PushRejected}}
	deps := newTestDeps(tr)

	ctx := context.Background()
	_, err := deps.PushDeps.Outbox.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "row-1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)
	_, err = deps.PushDeps.Outbox.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "row-2", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	result, err := syncloop.SyncOnce(ctx, deps)
	require.NoError(t, err)
	require.Len(t, result.PushResults, 1, "a non-acked outcome must not drain the rest of the backlog this cycle")
	assert.False(t, result.PushDrained)
}
