package subscription_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/syncengine/internal/store/storetest"
	"github.com/localsync/syncengine/internal/subscription"
)

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()
	subs := subscription.New(mem)

	st := subscription.State{
		ProfileID:      "profile-1",
		SubscriptionID: "sub-1",
		Table:          "items",
		Scopes:         map[string]subscription.ScopeValue{"team": {Single: "eng"}},
		Cursor:         subscription.NoCursor,
		Status:         subscription.StatusActive,
	}
	require.NoError(t, subscription.Upsert(ctx, mem, st))

	got, err := subs.Get(ctx, "profile-1", "sub-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "items", got.Table)
	assert.Equal(t, "eng", got.Scopes["team"].Single)
	assert.Equal(t, subscription.NoCursor, got.Cursor)
}

func TestGet_MissingReturnsNil(t *testing.T) {
	subs := subscription.New(storetest.New())
	got, err := subs.Get(context.Background(), "profile-1", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestList_ScopedToProfile(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()

	require.NoError(t, subscription.Upsert(ctx, mem, subscription.State{
		ProfileID: "profile-1", SubscriptionID: "sub-1", Table: "items", Status: subscription.StatusActive,
	}))
	require.NoError(t, subscription.Upsert(ctx, mem, subscription.State{
		ProfileID: "profile-2", SubscriptionID: "sub-2", Table: "items", Status: subscription.StatusActive,
	}))

	subs := subscription.New(mem)
	got, err := subs.List(ctx, "profile-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sub-1", got[0].SubscriptionID)
}

func TestUpsert_ScopeValueRoundTripsList(t *testing.T) {
	ctx := context.Background()
	mem := storetest.New()

	require.NoError(t, subscription.Upsert(ctx, mem, subscription.State{
		ProfileID: "profile-1", SubscriptionID: "sub-1", Table: "items",
		Scopes: map[string]subscription.ScopeValue{"ids": {List: []string{"a", "b"}}},
		Status: subscription.StatusActive,
	}))

	subs := subscription.New(mem)
	got, err := subs.Get(ctx, "profile-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Scopes["ids"].List)
}
