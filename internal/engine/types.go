// Package engine orchestrates the push/pull cycle against its configured
// cadence and the transport's realtime/polling health (spec §4.7): sync
// coalescing, retry/backoff, state and progress projection, and reset/
// repair flows sit here; the mechanics of one cycle live in internal/syncloop.
package engine

import (
	"time"

	"github.com/localsync/syncengine/internal/audit"
	"github.com/localsync/syncengine/internal/conflict"
	"github.com/localsync/syncengine/internal/fingerprint"
	"github.com/localsync/syncengine/internal/inspector"
	"github.com/localsync/syncengine/internal/logger"
	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/plugin"
	"github.com/localsync/syncengine/internal/pull"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/syncloop"
	"github.com/localsync/syncengine/internal/tablehandler"
	"github.com/localsync/syncengine/internal/transport"
)

var log = logger.Component("engine")

// Status is the engine's own lifecycle status, distinct from transport
// connection state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSyncing  Status = "syncing"
	StatusError    Status = "error"
	StatusDisabled Status = "disabled"
)

// TransportMode reflects whether the engine is currently driven by realtime
// push/pull notifications or a polling ticker (spec §4.7 "transport mode").
type TransportMode string

const (
	ModeRealtime TransportMode = "realtime"
	ModePolling  TransportMode = "polling"
)

// Config carries the subset of the top-level configuration the engine
// itself consumes; batch sizing lives in syncloop.Deps/pull.Options instead.
type Config struct {
	PollInterval          time.Duration
	FallbackPollInterval  time.Duration
	ReconnectCatchupDelay time.Duration
	IdleDebounce          time.Duration

	MaxRetries    int
	BackoffBaseMS int
	BackoffCapMS  int

	MaxPushCommits int
	MaxPullRounds  int
	PullOptions    pull.Options
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.FallbackPollInterval == 0 {
		c.FallbackPollInterval = 30 * time.Second
	}
	if c.ReconnectCatchupDelay == 0 {
		c.ReconnectCatchupDelay = 500 * time.Millisecond
	}
	if c.IdleDebounce == 0 {
		c.IdleDebounce = 10 * time.Millisecond
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBaseMS == 0 {
		c.BackoffBaseMS = 1000
	}
	if c.BackoffCapMS == 0 {
		c.BackoffCapMS = 60000
	}
	if c.MaxPushCommits == 0 {
		c.MaxPushCommits = syncloop.DefaultMaxPushCommits
	}
	if c.MaxPullRounds == 0 {
		c.MaxPullRounds = syncloop.DefaultMaxPullRounds
	}
	return c
}

// Deps bundles every collaborator the engine wires together.
type Deps struct {
	ProfileID string
	ClientID  string

	Store         store.Store
	Outbox        *outbox.Outbox
	Subscriptions *subscription.Subscriptions
	Conflicts     *conflict.Conflicts
	Registry      *tablehandler.Registry
	Fingerprints  *fingerprint.Map
	Inspector     *inspector.Ring
	Audit         *audit.Logger

	Transport transport.Transport

	// Desired, if set, reports the subscription ids the application wants
	// active; anything local but absent from it is pruned on pull apply
	// (spec §4.4 step 2).
	Desired subscription.DesiredSet

	BeforePushHooks []plugin.BeforePushHook
	AfterPushHooks  []plugin.AfterPushHook
	AfterPullHooks  []plugin.AfterPullHook
}
