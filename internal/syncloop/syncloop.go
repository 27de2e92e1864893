package syncloop

import (
	"context"
	"fmt"

	"github.com/localsync/syncengine/internal/pull"
	"github.com/localsync/syncengine/internal/push"
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/transport"
)

// SyncOnce drains the outbox (up to MaxPushCommits acked commits) and then
// pulls (up to MaxPullRounds rounds, continuing only while a round changed a
// table, revoked a subscription or left a bootstrap in flight). Each push and pull is
// its own transport round-trip; see DESIGN.md for why this cycle doesn't
// piggyback the first push onto the same request as a pull.
func SyncOnce(ctx context.Context, deps Deps) (*Result, error) {
	deps = deps.withDefaults()
	result := &Result{}

	for i := 0; i < deps.MaxPushCommits; i++ {
		res, err := push.PushOnce(ctx, deps.PushDeps)
		if err != nil {
			return result, fmt.Errorf("push round %d: %w", i, err)
		}
		if res.Outcome == push.OutcomeEmpty {
			result.PushDrained = true
			break
		}
		result.PushResults = append(result.PushResults, *res)
		if res.Outcome != push.OutcomeAcked {
			// Pending (retry later) or failed (terminal, surfaced as a
			// conflict): either way, draining further this cycle would just
			// spin on the same head-of-line commit.
			break
		}
	}

	merged := &pull.Result{ChangedTables: map[string]bool{}}
	for i := 0; i < deps.MaxPullRounds; i++ {
		subs, err := deps.Subscriptions.List(ctx, deps.ProfileID)
		if err != nil {
			return result, fmt.Errorf("list subscriptions: %w", err)
		}

		desiredIDs := idsOf(subs)
		if deps.Desired != nil {
			desiredIDs, err = deps.Desired.Desired(ctx, deps.ProfileID)
			if err != nil {
				return result, fmt.Errorf("resolve desired subscription set: %w", err)
			}
		}

		body := pull.BuildPullRequest(subs, deps.PullOptions)
		resp, err := deps.Transport.Sync(ctx, transport.SyncRequest{
			ClientID: deps.PullOptions.ClientID,
			Pull:     &body,
		})
		if err != nil {
			return result, fmt.Errorf("pull round %d: %w", i, err)
		}
		if resp.Pull == nil {
			break
		}

		roundResult, err := pull.ApplyPullResponse(ctx, deps.PullDeps, deps.ProfileID, subs, desiredIDs, resp.Pull, deps.PullOptions)
		if err != nil {
			return result, fmt.Errorf("apply pull round %d: %w", i, err)
		}
		mergeInto(merged, roundResult)

		if len(roundResult.ChangedTables) == 0 && len(roundResult.RevokedSubscriptionIDs) == 0 && len(roundResult.BootstrapInFlight) == 0 {
			result.PullDrained = true
			break
		}
	}
	result.PullResult = merged

	return result, nil
}

func idsOf(subs []subscription.State) []string {
	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.SubscriptionID
	}
	return ids
}

func mergeInto(dst, src *pull.Result) {
	for t := range src.ChangedTables {
		dst.ChangedTables[t] = true
	}
	dst.RevokedSubscriptionIDs = append(dst.RevokedSubscriptionIDs, src.RevokedSubscriptionIDs...)
	dst.BootstrapInFlight = src.BootstrapInFlight
}
