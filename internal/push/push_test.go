package push_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/push"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/store/storetest"
	"github.com/localsync/syncengine/internal/syncerr"
	"github.com/localsync/syncengine/internal/transport"
)

type fakeTransport struct {
	syncFn func(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error)
}

func (f *fakeTransport) Sync(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
	return f.syncFn(ctx, req)
}
func (f *fakeTransport) FetchSnapshotChunk(ctx context.Context, chunkID string) ([]byte, error) {
	return nil, nil
}
func (f *fakeTransport) FetchSnapshotChunkStream(ctx context.Context, chunkID string) (io.ReadCloser, error) {
	return nil, nil
}

func newDeps(t *testing.T, mem *storetest.Memory, syncFn func(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error)) push.Deps {
	t.Helper()
	return push.Deps{
		Outbox:        outbox.New(mem),
		ConflictStore: mem,
		Transport:     &fakeTransport{syncFn: syncFn},
		ClientID:      "client-1",
	}
}

func TestPushOnce_NothingPendingReturnsEmpty(t *testing.T) {
	mem := storetest.New()
	deps := newDeps(t, mem, nil)

	res, err := push.PushOnce(context.Background(), deps)
	require.NoError(t, err)
	assert.Equal(t, push.OutcomeEmpty, res.Outcome)
}

func TestPushOnce_AppliedAcksCommit(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	o := outbox.New(mem)
	_, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	seq := int64(7)
	deps := newDeps(t, mem, func(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
		require.NotNil(t, req.Push)
		return &transport.SyncResponse{Push: &transport.PushResponse{Status: transport.PushApplied, CommitSeq: &seq}}, nil
	})

	res, err := push.PushOnce(ctx, deps)
	require.NoError(t, err)
	assert.Equal(t, push.OutcomeAcked, res.Outcome)
	assert.Equal(t, int64(7), res.CommitSeq)
}

func TestPushOnce_AllRetriableGoesPending(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	o := outbox.New(mem)
	_, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	retriable := true
	deps := newDeps(t, mem, func(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
		return &transport.SyncResponse{Push: &transport.PushResponse{
			Status: transport.PushRejected,
			Results: []transport.OperationResult{
				{OpIndex: 0, Status: transport.ResultError, Retriable: &retriable},
			},
		}}, nil
	})

	res, err := push.PushOnce(ctx, deps)
	require.NoError(t, err)
	assert.Equal(t, push.OutcomePending, res.Outcome)

	unresolved, err := mem.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, unresolved, "retriable rejection must not capture a conflict row")
}

func TestPushOnce_TransportErrorReturnsToPendingAndRethrows(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	o := outbox.New(mem)
	_, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	transportErr := errors.New("connection reset")
	deps := newDeps(t, mem, func(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
		return nil, transportErr
	})

	res, err := push.PushOnce(ctx, deps)
	require.Error(t, err, "a transport-level error must always be rethrown so the caller's retry/backoff schedule fires")
	require.NotNil(t, res)
	assert.Equal(t, push.OutcomePending, res.Outcome, "transport exceptions must return the commit to pending, never failed (I5)")

	commit, err := mem.GetOutboxCommit(ctx, res.OutboxCommitID)
	require.NoError(t, err)
	assert.Equal(t, store.OutboxPending, commit.Status)
}

func TestPushOnce_NonRetryableTransportErrorStillGoesPending(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	o := outbox.New(mem)
	_, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	deps := newDeps(t, mem, func(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
		return nil, &syncerr.SyncError{Code: syncerr.CodeAuthFailed, Retryable: false, Message: "unauthorized"}
	})

	res, err := push.PushOnce(ctx, deps)
	require.Error(t, err)
	assert.Equal(t, push.OutcomePending, res.Outcome, "even a non-retryable classification must not mark the commit failed for a transport exception")
}

func TestPushOnce_TerminalRejectionCapturesConflict(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	o := outbox.New(mem)
	_, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	deps := newDeps(t, mem, func(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
		return &transport.SyncResponse{Push: &transport.PushResponse{
			Status: transport.PushRejected,
			Results: []transport.OperationResult{
				{OpIndex: 0, Status: transport.ResultConflict, Message: "version mismatch"},
			},
		}}, nil
	})

	res, err := push.PushOnce(ctx, deps)
	require.NoError(t, err)
	assert.Equal(t, push.OutcomeFailed, res.Outcome)

	unresolved, err := mem.ListUnresolvedConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "version mismatch", unresolved[0].Message)
}
