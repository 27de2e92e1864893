package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/localsync/syncengine/internal/syncerr"
)

// Diagnostics is the engine-state snapshot the diagnostics HTTP surface
// renders (spec §7 "a diagnostics snapshot ... available for debug UIs"):
// lifecycle status, transport health, and pending/retry counts.
type Diagnostics struct {
	Status        Status        `json:"status"`
	Mode          TransportMode `json:"mode"`
	RetryAttempt  int           `json:"retry_attempt"`
	OutboxPending int           `json:"outbox_pending"`
}

// Diagnostics assembles the current snapshot.
func (e *Engine) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	e.mu.Lock()
	d := &Diagnostics{
		Status:       e.status,
		Mode:         e.mode,
		RetryAttempt: e.retryAttempt,
	}
	e.mu.Unlock()

	n, err := e.deps.Outbox.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending outbox commits: %w", err)
	}
	d.OutboxPending = n
	return d, nil
}

// ConnectionState is the engine-level view of realtime connectivity (spec
// §3 "Engine state"). It is richer than transport.ConnectionState:
// "reconnecting" distinguishes a connection attempt that follows a prior
// successful connection from the channel's very first connect.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// State is the full in-memory "Engine state" data model (spec §3):
// {enabled, isSyncing, connectionState, transportMode, lastSyncAt, error,
// pendingCount, retryCount, isRetrying}. Unlike Diagnostics (a rendering of
// the same state for the HTTP debug surface), State is what application
// code polls or binds a UI store to directly.
type State struct {
	Enabled         bool               `json:"enabled"`
	IsSyncing       bool               `json:"isSyncing"`
	ConnectionState ConnectionState    `json:"connectionState"`
	TransportMode   TransportMode      `json:"transportMode"`
	LastSyncAt      *time.Time         `json:"lastSyncAt"`
	Error           *syncerr.SyncError `json:"error"`
	PendingCount    int                `json:"pendingCount"`
	RetryCount      int                `json:"retryCount"`
	IsRetrying      bool               `json:"isRetrying"`
}

// State assembles the current engine-state snapshot. Invariants E2-E3 (spec
// §3) hold by construction: retryCount and error both reset on
// finishCycle's success path. E1 holds for a polling-only transport, whose
// connectionState Start sets to connected before the first cycle; with a
// realtime transport, connectionState follows the channel's own reports, so
// a start-, poll- or retry-triggered cycle can run while it is disconnected.
func (e *Engine) State(ctx context.Context) (*State, error) {
	e.mu.Lock()
	s := &State{
		Enabled:         e.status != StatusDisabled,
		IsSyncing:       e.syncing,
		ConnectionState: e.connectionState,
		TransportMode:   e.mode,
		Error:           e.lastError,
		RetryCount:      e.retryAttempt,
		IsRetrying:      e.isRetrying,
	}
	if !e.lastSyncAt.IsZero() {
		t := e.lastSyncAt
		s.LastSyncAt = &t
	}
	e.mu.Unlock()

	n, err := e.deps.Outbox.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending outbox commits: %w", err)
	}
	s.PendingCount = n
	return s, nil
}
