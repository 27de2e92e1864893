package pull

import (
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/transport"
)

// BuildPullRequest converts the locally-held subscription state into the
// pull half of a sync request (spec §4.4 "buildPullRequest"). Revoked
// subscriptions are omitted; the server is the source of truth for revoking
// a subscription, not the client re-requesting it.
func BuildPullRequest(subs []subscription.State, opts Options) transport.PullBody {
	opts = opts.withDefaults()

	body := transport.PullBody{
		LimitCommits:      opts.LimitCommits,
		LimitSnapshotRows: opts.LimitSnapshotRows,
		MaxSnapshotPages:  opts.MaxSnapshotPages,
		DedupeRows:        opts.DedupeRows,
		Subscriptions:     make([]transport.SubscriptionRequest, 0, len(subs)),
	}

	for _, s := range subs {
		if s.Status == subscription.StatusRevoked {
			continue
		}
		cursor := s.Cursor
		if cursor < subscription.NoCursor {
			cursor = subscription.NoCursor
		}
		body.Subscriptions = append(body.Subscriptions, transport.SubscriptionRequest{
			ID:             s.SubscriptionID,
			Table:          s.Table,
			Scopes:         subscription.WireScopes(s.Scopes),
			Params:         s.Params,
			Cursor:         cursor,
			BootstrapState: s.BootstrapState.Wire(),
		})
	}

	return body
}
