package pull

import (
	"context"
	"fmt"
	"sort"

	"github.com/localsync/syncengine/internal/fingerprint"
	"github.com/localsync/syncengine/internal/metrics"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/tablehandler"
	"github.com/localsync/syncengine/internal/transport"

	"github.com/localsync/syncengine/internal/plugin"
)

// Deps bundles the collaborators ApplyPullResponse needs.
type Deps struct {
	Store        store.Store
	Registry     *tablehandler.Registry
	Transport    transport.Transport
	Fingerprints *fingerprint.Map
}

// ApplyPullResponse applies one pull response inside a single local
// transaction (spec §4.4 steps 1-7): desired-subscription-set reconciliation,
// revoked-subscription cleanup, snapshot application, incremental commit
// application in cursor order, and subscription-row upsert. existing is the
// caller's current subscription state, used for the table lookup and the
// cursor monotonicity check. desiredIDs is the full set of subscription ids
// the caller wants active right now; any local subscription absent from it
// is deleted the same way a server-revoked one is (step 2).
func ApplyPullResponse(ctx context.Context, deps Deps, profileID string, existing []subscription.State, desiredIDs []string, resp *transport.PullResponse, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	if len(opts.AfterPullHooks) > 0 {
		if err := materializeForHooks(ctx, deps.Transport, resp, opts.MaxConcurrency); err != nil {
			return nil, err
		}
		hooks := append([]plugin.AfterPullHook(nil), opts.AfterPullHooks...)
		plugin.SortAscending(hooks, func(h plugin.AfterPullHook) int { return h.Priority() })
		for _, h := range hooks {
			if err := h.AfterPull(ctx, resp); err != nil {
				return nil, fmt.Errorf("afterPull hook: %w", err)
			}
		}
	}

	existingByID := make(map[string]subscription.State, len(existing))
	for _, s := range existing {
		existingByID[s.SubscriptionID] = s
	}
	desired := make(map[string]bool, len(desiredIDs))
	for _, id := range desiredIDs {
		desired[id] = true
	}
	inResponse := make(map[string]bool, len(resp.Subscriptions))
	for _, subResp := range resp.Subscriptions {
		inResponse[subResp.ID] = true
	}

	result := newResult()

	err := deps.Store.WithTx(ctx, func(tx store.Tx) error {
		// Step 2: any local subscription absent from the desired set (and
		// not already handled below via the server's own revocation list)
		// is pruned the same way a revoked one is.
		for _, prev := range existing {
			if desired[prev.SubscriptionID] || inResponse[prev.SubscriptionID] {
				continue
			}
			if h, herr := handlerFor(deps.Registry, prev.Table); herr == nil {
				if err := h.ClearAll(ctx, subscription.WireScopes(prev.Scopes)); err != nil {
					return fmt.Errorf("clear unsubscribed table for %s: %w", prev.SubscriptionID, err)
				}
				result.ChangedTables[prev.Table] = true
			}
			if err := subscription.Delete(ctx, tx, profileID, prev.SubscriptionID); err != nil {
				return fmt.Errorf("delete unsubscribed subscription %s: %w", prev.SubscriptionID, err)
			}
			result.RevokedSubscriptionIDs = append(result.RevokedSubscriptionIDs, prev.SubscriptionID)
		}

		for _, subResp := range resp.Subscriptions {
			prev, hadPrev := existingByID[subResp.ID]

			if subResp.Status == transport.SubscriptionRevoked {
				if hadPrev {
					if h, herr := handlerFor(deps.Registry, prev.Table); herr == nil {
						if err := h.ClearAll(ctx, subscription.WireScopes(prev.Scopes)); err != nil {
							return fmt.Errorf("clear revoked subscription %s: %w", subResp.ID, err)
						}
						result.ChangedTables[prev.Table] = true
					}
					if err := subscription.Delete(ctx, tx, profileID, subResp.ID); err != nil {
						return fmt.Errorf("delete revoked subscription %s: %w", subResp.ID, err)
					}
				}
				result.RevokedSubscriptionIDs = append(result.RevokedSubscriptionIDs, subResp.ID)
				continue
			}

			if !hadPrev {
				log.Warn().Str("subscription_id", subResp.ID).Msg("pull response for unknown local subscription, skipping apply")
				continue
			}

			// Cursor monotonicity (P2): re-read the persisted cursor inside
			// this transaction rather than trusting prev, which was read
			// before the transaction opened and may already be behind a
			// concurrent sync cycle's write. A stale/duplicate non-bootstrap
			// response is applied as a no-op except for keeping the stored
			// cursor at its current (higher) value; a bootstrap response
			// always proceeds since it is establishing initial state.
			current, err := tx.GetSubscriptionState(ctx, profileID, subResp.ID)
			if err != nil {
				return fmt.Errorf("read current cursor for subscription %s: %w", subResp.ID, err)
			}
			currentCursor := prev.Cursor
			if current != nil {
				currentCursor = current.Cursor
			}

			if !subResp.Bootstrap && subResp.NextCursor < currentCursor {
				continue
			}
			effective := subResp.NextCursor
			if effective < currentCursor {
				effective = currentCursor
			}

			handler, herr := handlerFor(deps.Registry, prev.Table)
			if herr != nil {
				return fmt.Errorf("apply subscription %s: %w", subResp.ID, herr)
			}

			if err := applySnapshots(ctx, deps, handler, prev.Table, subResp.Snapshots, result); err != nil {
				return fmt.Errorf("apply snapshots for subscription %s: %w", subResp.ID, err)
			}

			if err := applyCommits(ctx, tx, handler, deps.Fingerprints, subResp.Commits, result); err != nil {
				return fmt.Errorf("apply commits for subscription %s: %w", subResp.ID, err)
			}

			next := subscription.State{
				ProfileID:      profileID,
				SubscriptionID: subResp.ID,
				Table:          prev.Table,
				Scopes:         subscription.ScopesFromWire(subResp.Scopes),
				Params:         prev.Params,
				Cursor:         effective,
				BootstrapState: subscription.BootstrapStateFromWire(subResp.BootstrapState),
				Status:         subscription.StatusActive,
			}
			if err := subscription.Upsert(ctx, tx, next); err != nil {
				return fmt.Errorf("upsert subscription %s: %w", subResp.ID, err)
			}
			if next.BootstrapState != nil {
				result.BootstrapInFlight = append(result.BootstrapInFlight, next.SubscriptionID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// materializeForHooks fetches every chunked snapshot page's rows upfront so
// afterPull hooks can inspect the whole response before apply runs.
func materializeForHooks(ctx context.Context, t transport.Transport, resp *transport.PullResponse, maxConcurrency int) error {
	for si := range resp.Subscriptions {
		sub := &resp.Subscriptions[si]
		for pi := range sub.Snapshots {
			page := &sub.Snapshots[pi]
			if len(page.Chunks) == 0 {
				continue
			}
			rows, err := materializeChunks(ctx, t, page.Chunks, maxConcurrency)
			if err != nil {
				return fmt.Errorf("materialize snapshot chunks: %w", err)
			}
			page.Rows = append(page.Rows, rows...)
			page.Chunks = nil
		}
	}
	return nil
}

func applySnapshots(ctx context.Context, deps Deps, handler tablehandler.TableHandler, table string, pages []transport.SnapshotPage, result *Result) error {
	for _, page := range pages {
		if len(page.Chunks) > 0 {
			err := streamChunks(ctx, deps.Transport, page.Chunks, func(b streamChunkBatch) error {
				return applySnapshotBatch(ctx, handler, tablehandler.SnapshotBatch{
					Rows:        b.Rows,
					IsFirstPage: b.IsFirstPage,
					IsLastPage:  b.IsLastPage,
				})
			})
			if err != nil {
				return err
			}
		} else {
			if err := applySnapshotBatch(ctx, handler, tablehandler.SnapshotBatch{
				Rows:        page.Rows,
				IsFirstPage: page.IsFirstPage,
				IsLastPage:  page.IsLastPage,
			}); err != nil {
				return err
			}
		}
		result.ChangedTables[table] = true
	}
	if len(pages) > 0 {
		deps.Fingerprints.BumpTable(table)
		metrics.RecordFingerprintBump(table)
	}
	return nil
}

func applySnapshotBatch(ctx context.Context, handler tablehandler.TableHandler, batch tablehandler.SnapshotBatch) error {
	ss, hasHooks := handler.(tablehandler.StartStopper)
	if batch.IsFirstPage && hasHooks {
		if err := ss.OnSnapshotStart(ctx); err != nil {
			return fmt.Errorf("onSnapshotStart: %w", err)
		}
	}
	if err := handler.ApplySnapshot(ctx, batch); err != nil {
		return fmt.Errorf("applySnapshot: %w", err)
	}
	if batch.IsLastPage && hasHooks {
		if err := ss.OnSnapshotEnd(ctx); err != nil {
			return fmt.Errorf("onSnapshotEnd: %w", err)
		}
	}
	return nil
}

func applyCommits(ctx context.Context, tx store.Tx, handler tablehandler.TableHandler, fp *fingerprint.Map, commits []transport.Commit, result *Result) error {
	ordered := append([]transport.Commit(nil), commits...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CommitSeq < ordered[j].CommitSeq })

	for _, commit := range ordered {
		for _, change := range commit.Changes {
			err := handler.ApplyChange(ctx, tx, tablehandler.Change{
				CommitSeq:  commit.CommitSeq,
				ActorID:    commit.ActorID,
				CreatedAt:  commit.CreatedAt,
				Table:      change.Table,
				RowID:      change.RowID,
				Op:         change.Op,
				RowJSON:    change.RowJSON,
				RowVersion: change.RowVersion,
				Scopes:     change.Scopes,
			})
			if err != nil {
				return fmt.Errorf("applyChange %s/%s: %w", change.Table, change.RowID, err)
			}
			fp.Bump(fingerprint.Key{Table: change.Table, RowID: change.RowID})
			metrics.RecordFingerprintBump(change.Table)
			result.ChangedTables[change.Table] = true
		}
	}
	return nil
}
