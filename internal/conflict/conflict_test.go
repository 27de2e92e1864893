package conflict_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/syncengine/internal/conflict"
	"github.com/localsync/syncengine/internal/store/storetest"
)

func TestUpsertForRejectedCommit_OnlyConflictAndErrorResults(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()

	require.NoError(t, conflict.UpsertForRejectedCommit(ctx, mem, conflict.RejectedCommit{
		OutboxCommitID: "commit-1",
		ClientCommitID: "client-1",
		Results: []conflict.OperationResult{
			{OpIndex: 0, Status: conflict.ResultConflict, Message: "version mismatch"},
			{OpIndex: 1, Status: "applied"},
			{OpIndex: 2, Status: conflict.ResultError, Message: "bad payload"},
		},
	}))

	conflicts := conflict.New(mem)
	got, err := conflicts.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestUpsertForRejectedCommit_ReplacesPriorRows(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	conflicts := conflict.New(mem)

	require.NoError(t, conflict.UpsertForRejectedCommit(ctx, mem, conflict.RejectedCommit{
		OutboxCommitID: "commit-1",
		Results:        []conflict.OperationResult{{OpIndex: 0, Status: conflict.ResultConflict, Message: "first"}},
	}))
	require.NoError(t, conflict.UpsertForRejectedCommit(ctx, mem, conflict.RejectedCommit{
		OutboxCommitID: "commit-1",
		Results:        []conflict.OperationResult{{OpIndex: 0, Status: conflict.ResultConflict, Message: "second"}},
	}))

	got, err := conflicts.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Message)
}

func TestResolve_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	conflicts := conflict.New(mem)

	require.NoError(t, conflict.UpsertForRejectedCommit(ctx, mem, conflict.RejectedCommit{
		OutboxCommitID: "commit-1",
		Results:        []conflict.OperationResult{{OpIndex: 0, Status: conflict.ResultConflict, Message: "x"}},
	}))
	unresolved, err := conflicts.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	id := unresolved[0].ID

	require.NoError(t, conflicts.Resolve(ctx, id, conflict.ResolutionKeepLocal))
	after, err := conflicts.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 0)

	// P8: resolving again is a no-op.
	require.NoError(t, conflicts.Resolve(ctx, id, conflict.ResolutionKeepServer))
}
