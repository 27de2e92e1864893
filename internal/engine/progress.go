package engine

import (
	"context"
	"fmt"
	"time"
)

// Progress summarizes where every subscription stands, for UIs that show a
// bootstrap/sync progress indicator (spec §4.7 "progress projection").
type Progress struct {
	Subscriptions     []SubscriptionProgress
	BootstrapInFlight []string
}

// SubscriptionProgress is one subscription's cursor/bootstrap position.
type SubscriptionProgress struct {
	SubscriptionID string
	Table          string
	Cursor         int64
	Bootstrapping  bool
}

// Progress builds a snapshot of every locally-held subscription's sync
// position.
func (e *Engine) Progress(ctx context.Context) (*Progress, error) {
	subs, err := e.deps.Subscriptions.List(ctx, e.deps.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	p := &Progress{}
	for _, s := range subs {
		bootstrapping := s.BootstrapState != nil
		p.Subscriptions = append(p.Subscriptions, SubscriptionProgress{
			SubscriptionID: s.SubscriptionID,
			Table:          s.Table,
			Cursor:         s.Cursor,
			Bootstrapping:  bootstrapping,
		})
		if bootstrapping {
			p.BootstrapInFlight = append(p.BootstrapInFlight, s.SubscriptionID)
		}
	}
	return p, nil
}

// AwaitBootstrapComplete blocks until subscriptionID's bootstrap state
// clears (or ctx is done), polling at the given interval. Callers typically
// pair this with RequestSync so the wait has something driving it forward.
func (e *Engine) AwaitBootstrapComplete(ctx context.Context, subscriptionID string, pollEvery time.Duration) error {
	if pollEvery <= 0 {
		pollEvery = 100 * time.Millisecond
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		p, err := e.Progress(ctx)
		if err != nil {
			return err
		}
		found := false
		for _, id := range p.BootstrapInFlight {
			if id == subscriptionID {
				found = true
				break
			}
		}
		if !found {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// AwaitIdle blocks until the engine's status is no longer syncing (idle,
// error or disabled) or ctx is done, used by callers that want to await a
// specific sync cycle's result.
func (e *Engine) AwaitIdle(ctx context.Context, pollEvery time.Duration) error {
	if pollEvery <= 0 {
		pollEvery = 50 * time.Millisecond
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		if e.Status() != StatusSyncing {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
