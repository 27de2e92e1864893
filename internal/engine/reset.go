package engine

import (
	"context"
	"fmt"

	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/subscription"
)

// ResetScope selects which subscriptions a Reset call affects (spec §4.7
// "reset/repair flows").
type ResetScope string

const (
	// ResetScopeState resets every subscription this engine's profile owns.
	ResetScopeState ResetScope = "state"
	// ResetScopeSubscription resets only SubscriptionIDs.
	ResetScopeSubscription ResetScope = "subscription"
	// ResetScopeAll resets every subscription this engine's profile owns.
	// It coincides with ResetScopeState at this layer: one Engine only ever
	// owns one profile's state, so there is no broader "all profiles" scope
	// to reach from here — an application resetting multiple profiles loops
	// over their engines itself.
	ResetScopeAll ResetScope = "all"
)

// ResetOptions mirrors the reset({scope, subscriptionIds?, clearOutbox,
// clearConflicts, clearSyncedTables}) contract (spec §4.7).
type ResetOptions struct {
	Scope           ResetScope
	SubscriptionIDs []string
	ClearOutbox     bool
	ClearConflicts  bool
	// ClearSyncedTables additionally calls ClearAll on each affected
	// subscription's table handler before deleting its row.
	ClearSyncedTables bool
}

// ResetResult reports what Reset actually deleted and cleared (spec §8
// Scenario 5). DeletedOutboxCommits and DeletedConflicts count what was
// pending/unresolved immediately before the clear — the store interface
// exposes no total-row count for either, and acked/resolved history isn't
// meaningful to report as "deleted" for repair purposes.
type ResetResult struct {
	DeletedSubscriptionStates int
	DeletedOutboxCommits      int
	DeletedConflicts          int
	ClearedTables             []string
}

// Reset stops the engine, then in one local transaction deletes the
// affected subscriptions' rows (and their tables' local rows, if
// ClearSyncedTables), and optionally drains the outbox and conflict store.
// Callers must call Start again to resume syncing; Reset never restarts the
// engine itself, matching the spec's "reset stops the engine" contract.
func (e *Engine) Reset(ctx context.Context, opts ResetOptions) (*ResetResult, error) {
	e.Stop()

	subs, err := e.deps.Subscriptions.List(ctx, e.deps.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	affected := subs
	if opts.Scope == ResetScopeSubscription {
		want := make(map[string]bool, len(opts.SubscriptionIDs))
		for _, id := range opts.SubscriptionIDs {
			want[id] = true
		}
		affected = nil
		for _, s := range subs {
			if want[s.SubscriptionID] {
				affected = append(affected, s)
			}
		}
	}

	result := &ResetResult{}
	clearedTables := map[string]bool{}

	err = e.deps.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, s := range affected {
			if opts.ClearSyncedTables {
				if h, herr := e.deps.Registry.Get(s.Table); herr == nil {
					if err := h.ClearAll(ctx, subscription.WireScopes(s.Scopes)); err != nil {
						return fmt.Errorf("clear table %s: %w", s.Table, err)
					}
					clearedTables[s.Table] = true
				}
			}
			if err := subscription.Delete(ctx, tx, e.deps.ProfileID, s.SubscriptionID); err != nil {
				return fmt.Errorf("delete subscription %s: %w", s.SubscriptionID, err)
			}
			result.DeletedSubscriptionStates++
		}

		if opts.ClearOutbox {
			n, err := tx.CountPendingOutboxCommits(ctx)
			if err != nil {
				return fmt.Errorf("count pending outbox commits: %w", err)
			}
			if err := outbox.New(tx).CleanupAll(ctx); err != nil {
				return fmt.Errorf("cleanup outbox: %w", err)
			}
			result.DeletedOutboxCommits = n
		}

		if opts.ClearConflicts {
			unresolved, err := tx.ListUnresolvedConflicts(ctx)
			if err != nil {
				return fmt.Errorf("list unresolved conflicts: %w", err)
			}
			if err := tx.DeleteAllConflicts(ctx); err != nil {
				return fmt.Errorf("delete all conflicts: %w", err)
			}
			result.DeletedConflicts = len(unresolved)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for t := range clearedTables {
		result.ClearedTables = append(result.ClearedTables, t)
	}

	e.deps.Fingerprints.Clear()
	if e.deps.Inspector != nil {
		e.deps.Inspector.Clear()
	}
	for t := range clearedTables {
		e.bus.Publish(EventDataChange, t)
	}

	return result, nil
}

// RepairMode is the fixed set of supported repair(...) strategies.
type RepairMode string

// RepairModeRebootstrapMissingChunks is the only supported repair mode: it
// drops the affected subscriptions' local rows and cursors so the next sync
// re-bootstraps them from scratch, recovering from a corrupted or partially
// materialized snapshot.
const RepairModeRebootstrapMissingChunks RepairMode = "rebootstrap-missing-chunks"

// RepairOptions mirrors the repair({mode}) contract (spec §4.7). Leaving
// SubscriptionIDs empty repairs every subscription this engine's profile
// owns.
type RepairOptions struct {
	Mode            RepairMode
	SubscriptionIDs []string
}

// Repair validates Mode and runs it as a Reset narrowed to the affected
// subscriptions with ClearSyncedTables set — repair is reset plus "and
// rebuild the local copy from scratch" (spec §4.7).
func (e *Engine) Repair(ctx context.Context, opts RepairOptions) (*ResetResult, error) {
	if opts.Mode != RepairModeRebootstrapMissingChunks {
		return nil, fmt.Errorf("unsupported repair mode %q", opts.Mode)
	}

	scope := ResetScopeAll
	if len(opts.SubscriptionIDs) > 0 {
		scope = ResetScopeSubscription
	}
	return e.Reset(ctx, ResetOptions{
		Scope:             scope,
		SubscriptionIDs:   opts.SubscriptionIDs,
		ClearSyncedTables: true,
	})
}
