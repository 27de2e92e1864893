package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localsync/syncengine/internal/metrics"
	"github.com/localsync/syncengine/internal/pull"
	"github.com/localsync/syncengine/internal/push"
	"github.com/localsync/syncengine/internal/syncerr"
	"github.com/localsync/syncengine/internal/syncloop"
	"github.com/localsync/syncengine/internal/transport"
)

// mustProfileUUID parses profileID for audit logging, falling back to the
// nil UUID for non-UUID profile identifiers rather than failing the cycle.
func mustProfileUUID(profileID string) uuid.UUID {
	id, err := uuid.Parse(profileID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Engine is the sync orchestrator: it owns the lifecycle, the transport
// mode (realtime vs polling), sync coalescing, retry/backoff, and the event
// bus every UI binding observes (spec §4.7).
type Engine struct {
	cfg  Config
	deps Deps
	bus  *Bus

	mu                    sync.Mutex
	status                Status
	mode                  TransportMode
	connectionState       ConnectionState
	hadConnectedOnce      bool
	syncing               bool
	requestedWhileRunning bool
	lastRequestReason     string
	retryAttempt          int
	isRetrying            bool
	retryTimer            *time.Timer
	lastSyncAt            time.Time
	lastError             *syncerr.SyncError

	ctx                context.Context
	cancel             context.CancelFunc
	wg                 sync.WaitGroup
	disconnectRealtime func()
}

// New constructs an Engine. Call Start to begin driving sync cycles.
func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:             cfg,
		deps:            deps,
		bus:             NewBus(cfg.IdleDebounce),
		status:          StatusIdle,
		mode:            ModePolling,
		connectionState: ConnectionStateDisconnected,
	}
}

// Bus returns the event bus subscribers attach to.
func (e *Engine) Bus() *Bus { return e.bus }

// Status returns the engine's current lifecycle status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Mode returns whether the engine is currently realtime- or polling-driven.
func (e *Engine) Mode() TransportMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Start opens the realtime channel if the transport supports it (falling
// back to polling on connect failure or absence), and begins the polling
// ticker that backstops both modes.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if rt, ok := e.deps.Transport.(transport.RealtimeTransport); ok {
		disconnect, err := rt.Connect(e.ctx, e.deps.ClientID, e.onRealtimeEvent, e.onConnectionStateChange)
		if err != nil {
			log.Warn().Err(err).Msg("realtime connect failed, falling back to polling")
			e.setMode(ModePolling)
			// Polling has no connectivity signal of its own; assume connected
			// until a sync cycle's own errors say otherwise (E1: isSyncing
			// must never coincide with a disconnected state).
			e.setConnectionState(ConnectionStateConnected)
		} else {
			e.disconnectRealtime = disconnect
			e.setMode(ModeRealtime)
		}
	} else {
		e.setMode(ModePolling)
		e.setConnectionState(ConnectionStateConnected)
	}

	e.wg.Add(1)
	go e.pollLoop()

	e.RequestSync("start")
	return nil
}

// Stop cancels the engine's background work and disconnects the realtime
// channel, if any. Safe to call once; Start must be called again for reuse.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.disconnectRealtime != nil {
		e.disconnectRealtime()
	}
	e.mu.Lock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// pollLoop ticks at PollInterval for the engine's whole lifetime, in
// realtime mode (a correctness backstop for missed events) and in polling
// mode alike; the cadence does not change with the mode.
func (e *Engine) pollLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.RequestSync("poll")
		}
	}
}

// RequestSync asks for a sync cycle. If one is already running, it flags
// requestedWhileRunning so the running cycle immediately triggers another
// pass on completion instead of dropping the request (spec §4.7 "sync
// coalescing": a burst of requests collapses into at most one extra cycle).
func (e *Engine) RequestSync(reason string) {
	e.mu.Lock()
	if e.status == StatusDisabled {
		e.mu.Unlock()
		return
	}
	if e.syncing {
		e.requestedWhileRunning = true
		e.lastRequestReason = reason
		e.mu.Unlock()
		return
	}
	e.syncing = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runCycle(reason)
}

func (e *Engine) runCycle(reason string) {
	defer e.wg.Done()

	e.setStatus(StatusSyncing)
	e.bus.Publish(EventSyncStarted, reason)
	if e.deps.Audit != nil {
		e.deps.Audit.SyncStarted(e.ctx, mustProfileUUID(e.deps.ProfileID), reason)
	}

	started := time.Now()
	result, err := syncloop.SyncOnce(e.ctx, syncloop.Deps{
		ProfileID:     e.deps.ProfileID,
		Subscriptions: e.deps.Subscriptions,
		Transport:     e.deps.Transport,
		Desired:       e.deps.Desired,
		PullOptions: pull.Options{
			ClientID:       e.deps.ClientID,
			AfterPullHooks: e.deps.AfterPullHooks,
		},
		MaxPushCommits: e.cfg.MaxPushCommits,
		MaxPullRounds:  e.cfg.MaxPullRounds,
		PushDeps: push.Deps{
			Outbox:          e.deps.Outbox,
			ConflictStore:   e.deps.Store,
			Transport:       e.deps.Transport,
			BeforePushHooks: e.deps.BeforePushHooks,
			AfterPushHooks:  e.deps.AfterPushHooks,
			ClientID:        e.deps.ClientID,
		},
		PullDeps: pull.Deps{
			Store:        e.deps.Store,
			Registry:     e.deps.Registry,
			Transport:    e.deps.Transport,
			Fingerprints: e.deps.Fingerprints,
		},
	})

	metrics.ObserveSyncCycle(time.Since(started).Seconds())
	if err != nil {
		metrics.RecordPull("error")
	} else {
		metrics.RecordPull("ok")
	}
	if n, cerr := e.deps.Outbox.CountPending(e.ctx); cerr == nil {
		metrics.SetOutboxPending(n)
	}

	e.finishCycle(result, err)
}

func (e *Engine) finishCycle(result *syncloop.Result, err error) {
	if err != nil {
		se := syncerr.Classify(err)
		e.mu.Lock()
		e.lastError = se
		e.mu.Unlock()
		e.setStatus(StatusError)
		e.bus.Publish(EventSyncError, se)
		if e.deps.Inspector != nil {
			e.deps.Inspector.Record("sync:error", se)
		}
		if e.deps.Audit != nil {
			e.deps.Audit.SyncCompleted(e.ctx, mustProfileUUID(e.deps.ProfileID), 0, 0, err)
		}
		if se.Code == syncerr.CodeMigrationFailed {
			e.setStatusDisabled()
		} else if se.Retryable {
			e.scheduleRetry()
		} else {
			// A non-retryable failure still counts as a failed attempt, but
			// no retry is scheduled for it.
			e.mu.Lock()
			e.retryAttempt++
			e.isRetrying = false
			if e.retryTimer != nil {
				e.retryTimer.Stop()
			}
			e.mu.Unlock()
		}
	} else {
		e.mu.Lock()
		e.retryAttempt = 0
		e.isRetrying = false
		e.lastError = nil
		e.lastSyncAt = time.Now()
		e.mu.Unlock()
		e.setStatus(StatusIdle)

		if result != nil {
			for table := range result.PullResult.ChangedTables {
				e.bus.Publish(EventDataChange, table)
			}
			for _, pr := range result.PushResults {
				if pr.Outcome == push.OutcomeFailed {
					e.bus.Publish(EventConflict, pr)
				}
			}
		}
		pushed, acked := 0, 0
		if result != nil {
			pushed = len(result.PushResults)
			for _, pr := range result.PushResults {
				if pr.Outcome == push.OutcomeAcked {
					acked++
				}
			}
		}
		if e.deps.Audit != nil {
			e.deps.Audit.SyncCompleted(e.ctx, mustProfileUUID(e.deps.ProfileID), pushed, acked, nil)
		}
		e.bus.Publish(EventSyncCompleted, result)
	}

	e.mu.Lock()
	e.syncing = false
	again := e.requestedWhileRunning
	reason := e.lastRequestReason
	e.requestedWhileRunning = false
	e.mu.Unlock()

	if again {
		e.RequestSync(reason)
	}
}

// scheduleRetry computes the next backoff delay (spec §7/P4:
// min(base*2^(n-1), cap)) and schedules another cycle, disabling the
// engine once MaxRetries is exhausted.
func (e *Engine) scheduleRetry() {
	e.mu.Lock()
	e.retryAttempt++
	attempt := e.retryAttempt
	e.mu.Unlock()

	if attempt > e.cfg.MaxRetries {
		e.mu.Lock()
		e.isRetrying = false
		e.mu.Unlock()
		e.setStatusDisabled()
		return
	}

	metrics.RecordRetry()
	delay := backoffDelay(attempt, e.cfg.BackoffBaseMS, e.cfg.BackoffCapMS)
	e.mu.Lock()
	e.isRetrying = true
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(delay, func() { e.RequestSync("retry") })
	e.mu.Unlock()
}

func backoffDelay(attempt, baseMS, capMS int) time.Duration {
	ms := float64(baseMS) * math.Pow(2, float64(attempt-1))
	if ms > float64(capMS) {
		ms = float64(capMS)
	}
	return time.Duration(ms) * time.Millisecond
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

func (e *Engine) setStatusDisabled() {
	e.mu.Lock()
	e.status = StatusDisabled
	e.mu.Unlock()
	log.Error().Msg("engine disabled after exhausting retries")
}

func (e *Engine) setMode(m TransportMode) {
	e.mu.Lock()
	changed := e.mode != m
	e.mode = m
	e.mu.Unlock()
	metrics.SetTransportMode(string(m), string(ModeRealtime), string(ModePolling))
	if changed {
		e.bus.Publish(EventTransportModeChange, m)
	}
}

func (e *Engine) setConnectionState(s ConnectionState) {
	e.mu.Lock()
	e.connectionState = s
	e.mu.Unlock()
}

// onConnectionStateChange mediates between realtime and polling: a
// disconnect switches the engine to polling mode, where syncs keep coming
// from pollLoop at PollInterval (FallbackPollInterval is not read by the
// engine), and a reconnect triggers one catch-up sync after
// ReconnectCatchupDelay (spec §4.7). It
// also maintains the richer engine-level ConnectionState, which splits the
// transport's "connecting" into an initial connect vs. a reconnect once the
// channel has connected at least once before.
func (e *Engine) onConnectionStateChange(state transport.ConnectionState) {
	switch state {
	case transport.StateConnected:
		wasRealtime := e.Mode() == ModeRealtime
		e.setMode(ModeRealtime)
		e.setConnectionState(ConnectionStateConnected)
		e.mu.Lock()
		e.hadConnectedOnce = true
		e.mu.Unlock()
		if e.deps.Audit != nil && !wasRealtime {
			e.deps.Audit.TransportRecovered(e.ctx, mustProfileUUID(e.deps.ProfileID))
		}
		time.AfterFunc(e.cfg.ReconnectCatchupDelay, func() { e.RequestSync("reconnect") })
	case transport.StateConnecting:
		e.mu.Lock()
		reconnecting := e.hadConnectedOnce
		e.mu.Unlock()
		if reconnecting {
			e.setConnectionState(ConnectionStateReconnecting)
		} else {
			e.setConnectionState(ConnectionStateConnecting)
		}
		if e.deps.Audit != nil && e.Mode() == ModeRealtime {
			e.deps.Audit.TransportDegraded(e.ctx, mustProfileUUID(e.deps.ProfileID), string(state))
		}
		e.setMode(ModePolling)
	case transport.StateDisconnected:
		e.setConnectionState(ConnectionStateDisconnected)
		if e.deps.Audit != nil && e.Mode() == ModeRealtime {
			e.deps.Audit.TransportDegraded(e.ctx, mustProfileUUID(e.deps.ProfileID), string(state))
		}
		e.setMode(ModePolling)
	}
}

// onRealtimeEvent handles an inline event from the realtime channel. A
// "change"/"commit" event carrying rows is applied through the inline fast
// path when it's safe to do so (handleRealtimeChanges); otherwise it falls
// back to a regular background sync (spec §4.7 "WS inline-apply fast
// path").
func (e *Engine) onRealtimeEvent(ev transport.RealtimeEvent) {
	if e.deps.Inspector != nil {
		e.deps.Inspector.Record("realtime:"+ev.Event, ev)
	}
	switch ev.Event {
	case "change", "commit":
		e.handleRealtimeChanges(ev)
	}
}
