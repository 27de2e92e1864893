// Package pull implements the pull engine: building a pull request from
// subscription state, and applying a pull response (snapshots and
// incremental commits) inside one local transaction (spec §4.4).
package pull

import (
	"github.com/localsync/syncengine/internal/logger"
	"github.com/localsync/syncengine/internal/plugin"
	"github.com/localsync/syncengine/internal/tablehandler"
)

var log = logger.Component("pull")

// Defaults match spec §4.4's buildPullRequest defaults.
const (
	DefaultLimitCommits      = 50
	DefaultLimitSnapshotRows = 1000
	DefaultMaxSnapshotPages  = 4
	DefaultMaxConcurrency    = 8
)

// Options configures BuildPullRequest and ApplyPullResponse.
type Options struct {
	ClientID          string
	LimitCommits      int
	LimitSnapshotRows int
	MaxSnapshotPages  int
	DedupeRows        bool

	// AfterPullHooks, if non-empty, forces chunked snapshots to be
	// materialized before the transaction starts rather than streamed
	// during apply (§4.4 step 1), and lets ApplyPullResponse run each
	// hook (ordered ascending by priority) before the transaction opens.
	AfterPullHooks []plugin.AfterPullHook

	// MaxConcurrency bounds chunk materialization fan-out on the plugin
	// path (default DefaultMaxConcurrency, spec §4.4.1).
	MaxConcurrency int
}

func (o Options) withDefaults() Options {
	if o.LimitCommits == 0 {
		o.LimitCommits = DefaultLimitCommits
	}
	if o.LimitSnapshotRows == 0 {
		o.LimitSnapshotRows = DefaultLimitSnapshotRows
	}
	if o.MaxSnapshotPages == 0 {
		o.MaxSnapshotPages = DefaultMaxSnapshotPages
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	return o
}

// Result summarizes one applyPullResponse call for the orchestrator's
// fingerprint bumps and data:change emission.
type Result struct {
	// ChangedTables holds every table that received a row mutation
	// (snapshot rows or changes) or a clearAll during this apply.
	ChangedTables map[string]bool
	// RevokedSubscriptionIDs lists subscriptions removed this apply,
	// either by server revocation or local desired-set pruning.
	RevokedSubscriptionIDs []string
	// BootstrapInFlight lists subscription ids whose BootstrapState is
	// still non-nil after this apply.
	BootstrapInFlight []string
}

func newResult() *Result {
	return &Result{ChangedTables: map[string]bool{}}
}

// handlerFor resolves a table's handler, surfacing the unknown-table error
// the same way for every call site.
func handlerFor(registry *tablehandler.Registry, table string) (tablehandler.TableHandler, error) {
	return registry.Get(table)
}
