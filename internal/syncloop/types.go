// Package syncloop drives one push+pull cycle: draining the outbox up to a
// bounded number of commits, then pulling up to a bounded number of rounds
// so a single burst of local writes and a single burst of server changes
// both settle within one syncOnce call (spec §4.6).
package syncloop

import (
	"github.com/localsync/syncengine/internal/logger"
	"github.com/localsync/syncengine/internal/pull"
	"github.com/localsync/syncengine/internal/push"
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/transport"
)

var log = logger.Component("syncloop")

// DefaultMaxPushCommits and DefaultMaxPullRounds bound how much of a cycle
// one syncOnce call will drain before returning control to the caller's
// scheduler, so a runaway backlog can't starve the event loop (spec §4.6).
const (
	DefaultMaxPushCommits = 20
	DefaultMaxPullRounds  = 20
)

// Deps bundles the collaborators syncOnce needs.
type Deps struct {
	ProfileID     string
	PushDeps      push.Deps
	PullDeps      pull.Deps
	Subscriptions *subscription.Subscriptions
	Transport     transport.Transport

	// Desired, if set, reports the subscription ids the application wants
	// active; anything local but absent from it is pruned on pull apply
	// (spec §4.4 step 2). Left nil, no desired-set pruning happens.
	Desired subscription.DesiredSet

	MaxPushCommits int
	MaxPullRounds  int
	PullOptions    pull.Options
}

func (d Deps) withDefaults() Deps {
	if d.MaxPushCommits == 0 {
		d.MaxPushCommits = DefaultMaxPushCommits
	}
	if d.MaxPullRounds == 0 {
		d.MaxPullRounds = DefaultMaxPullRounds
	}
	return d
}

// Result summarizes one syncOnce call for the orchestrator's event bus.
type Result struct {
	PushResults []push.Result
	PullResult  *pull.Result
	PushDrained bool
	PullDrained bool
}
