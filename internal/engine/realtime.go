package engine

import (
	"context"
	"fmt"

	"github.com/localsync/syncengine/internal/fingerprint"
	"github.com/localsync/syncengine/internal/metrics"
	"github.com/localsync/syncengine/internal/pull"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/syncloop"
	"github.com/localsync/syncengine/internal/tablehandler"
	"github.com/localsync/syncengine/internal/transport"
)

// handleRealtimeChanges implements the WS inline-apply fast path (spec
// §4.7): a realtime "change"/"commit" event carrying a small batch of rows
// is applied directly in one local transaction instead of waiting for the
// next full sync cycle. It falls back to a regular background RequestSync
// whenever the fast path isn't safe to take (canInlineApply) or the inline
// apply itself fails, rather than risking a partial or out-of-order local
// state; a failed apply never advances any subscription cursor.
func (e *Engine) handleRealtimeChanges(ev transport.RealtimeEvent) {
	if !e.canInlineApply(ev) {
		e.RequestSync("realtime:" + ev.Event)
		return
	}

	ctx := e.ctx
	changedTables := map[string]bool{}
	err := e.deps.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, change := range ev.Data.Changes {
			handler, herr := e.deps.Registry.Get(change.Table)
			if herr != nil {
				return fmt.Errorf("inline apply %s/%s: %w", change.Table, change.RowID, herr)
			}
			if err := handler.ApplyChange(ctx, tx, tablehandler.Change{
				Table:      change.Table,
				RowID:      change.RowID,
				Op:         change.Op,
				RowJSON:    change.RowJSON,
				RowVersion: change.RowVersion,
				Scopes:     change.Scopes,
			}); err != nil {
				return fmt.Errorf("inline apply %s/%s: %w", change.Table, change.RowID, err)
			}
			e.deps.Fingerprints.Bump(fingerprint.Key{Table: change.Table, RowID: change.RowID})
			metrics.RecordFingerprintBump(change.Table)
			changedTables[change.Table] = true
		}

		if ev.Data.Cursor == nil {
			return nil
		}
		for table := range changedTables {
			if err := e.bumpSubscriptionCursors(ctx, tx, table, *ev.Data.Cursor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("realtime inline apply failed, falling back to full sync")
		e.RequestSync("realtime:" + ev.Event + ":fallback")
		return
	}

	for table := range changedTables {
		e.bus.Publish(EventDataChange, table)
	}
	e.bus.Publish(EventSyncCompleted, &syncloop.Result{PullResult: &pull.Result{ChangedTables: changedTables}})
	e.bus.Publish(EventSyncLive, ev)
	if e.deps.Inspector != nil {
		e.deps.Inspector.Record("sync:live", changedTables)
	}
}

// canInlineApply reports whether the fast path is safe right now: the
// event actually carries changes, no afterPull hook needs the full pull
// response to run first, no sync cycle is already in flight, and the
// outbox has nothing pending (a non-empty outbox means a full sync is due
// anyway, so there's nothing to gain from applying inline first).
func (e *Engine) canInlineApply(ev transport.RealtimeEvent) bool {
	if len(ev.Data.Changes) == 0 {
		return false
	}
	if len(e.deps.AfterPullHooks) > 0 {
		return false
	}
	e.mu.Lock()
	busy := e.syncing
	e.mu.Unlock()
	if busy {
		return false
	}
	if e.deps.Outbox != nil {
		if n, err := e.deps.Outbox.CountPending(e.ctx); err != nil || n > 0 {
			return false
		}
	}
	return true
}

// bumpSubscriptionCursors advances every subscription watching table,
// whatever its status, to max(stored, cursor), mirroring the pull engine's own cursor-monotonicity
// guard (internal/pull/apply.go) so a stale or reordered realtime delivery
// can never regress a cursor the last full sync already advanced past.
func (e *Engine) bumpSubscriptionCursors(ctx context.Context, tx store.Tx, table string, cursor int64) error {
	subs, err := e.deps.Subscriptions.List(ctx, e.deps.ProfileID)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	for _, s := range subs {
		if s.Table != table {
			continue
		}
		current, err := tx.GetSubscriptionState(ctx, e.deps.ProfileID, s.SubscriptionID)
		if err != nil {
			return fmt.Errorf("read cursor for subscription %s: %w", s.SubscriptionID, err)
		}
		next := s
		if current != nil && current.Cursor > next.Cursor {
			next.Cursor = current.Cursor
		}
		if cursor > next.Cursor {
			next.Cursor = cursor
		}
		if err := subscription.Upsert(ctx, tx, next); err != nil {
			return fmt.Errorf("advance cursor for subscription %s: %w", s.SubscriptionID, err)
		}
	}
	return nil
}
