package outbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/store/storetest"
)

func TestEnqueueAndClaim(t *testing.T) {
	ctx := context.Background()
	o := outbox.New(storetest.New())

	res, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)
	require.NotEmpty(t, res.ClientCommitID)

	c, err := o.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, outbox.StatusSending, c.Status)
	assert.Equal(t, 1, c.AttemptCount)
	assert.Len(t, c.Operations, 1)
}

func TestClaimNext_NoneAvailableReturnsNil(t *testing.T) {
	o := outbox.New(storetest.New())
	c, err := o.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, c)
}

// TestClaimNext_ExactlyOneWinner verifies P1: racing claimers never both
// return the same commit.
func TestClaimNext_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	o := outbox.New(storetest.New())
	_, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	claimed := make([]*outbox.Commit, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := o.ClaimNext(ctx)
			require.NoError(t, err)
			claimed[i] = c
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, c := range claimed {
		if c != nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one claimer should win the single enqueued commit")
}

func TestMarkAcked_SetsAckedCommitSeq(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	o := outbox.New(mem)
	res, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)
	_, err = o.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, o.MarkAcked(ctx, res.ID, 42, map[string]any{"status": "applied"}))

	got, err := mem.GetOutboxCommit(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.AckedCommitSeq)
	assert.Equal(t, int64(42), *got.AckedCommitSeq)
}

func TestMarkPending_ReturnsCommitToPending(t *testing.T) {
	ctx := context.Background()
	o := outbox.New(storetest.New())
	res, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)
	_, err = o.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, o.MarkPending(ctx, res.ID, "transport error", nil))

	c, err := o.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, res.ID, c.ID)
}

func TestClaimNext_StaleSendingIsReclaimed(t *testing.T) {
	ctx := context.Background()
	o := outbox.New(storetest.New()).WithStaleClaimAfter(10 * time.Millisecond)
	res, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	_, err = o.ClaimNext(ctx)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	c, err := o.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, res.ID, c.ID)
	assert.Equal(t, 2, c.AttemptCount)
}

func TestCountPending(t *testing.T) {
	ctx := context.Background()
	o := outbox.New(storetest.New())
	_, err := o.Enqueue(ctx, []outbox.Operation{{Table: "items", RowID: "1", Op: outbox.OpUpsert}}, "")
	require.NoError(t, err)

	n, err := o.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
