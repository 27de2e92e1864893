package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appCtx "github.com/localsync/syncengine/internal/pkg/context"
)

// Logger provides structured audit logging for sync lifecycle events, kept
// separate from per-request HTTP logging so operators can filter on the
// "audit" field alone.
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger.
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// SyncStarted logs the beginning of a sync cycle for a profile.
func (l *Logger) SyncStarted(ctx context.Context, profileID uuid.UUID, reason string) {
	l.log.Info().
		Str("action", "sync_started").
		Str("profile_id", profileID.String()).
		Str("reason", reason).
		Str("trace_id", getTraceID(ctx)).
		Msg("sync cycle started")
}

// SyncCompleted logs a finished sync cycle, successful or not.
func (l *Logger) SyncCompleted(ctx context.Context, profileID uuid.UUID, pushed, pulled int, err error) {
	ev := l.log.Info()
	if err != nil {
		ev = l.log.Warn()
	}
	ev = ev.
		Str("action", "sync_completed").
		Str("profile_id", profileID.String()).
		Int("commits_pushed", pushed).
		Int("changes_pulled", pulled).
		Str("trace_id", getTraceID(ctx))
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("sync cycle completed")
}

// CommitAcked logs a commit that the server accepted.
func (l *Logger) CommitAcked(ctx context.Context, profileID uuid.UUID, commitID string) {
	l.log.Info().
		Str("action", "commit_acked").
		Str("profile_id", profileID.String()).
		Str("commit_id", commitID).
		Str("trace_id", getTraceID(ctx)).
		Msg("outbox commit acked")
}

// ConflictCaptured logs a commit rejected by the server due to a version
// mismatch or constraint violation, now held for manual or policy resolution.
func (l *Logger) ConflictCaptured(ctx context.Context, profileID uuid.UUID, commitID, table, reason string) {
	l.log.Warn().
		Str("action", "conflict_captured").
		Str("profile_id", profileID.String()).
		Str("commit_id", commitID).
		Str("table", table).
		Str("reason", reason).
		Str("trace_id", getTraceID(ctx)).
		Msg("commit conflict captured")
}

// ConflictResolved logs the resolution of a previously captured conflict.
func (l *Logger) ConflictResolved(ctx context.Context, profileID uuid.UUID, commitID, resolution string) {
	l.log.Info().
		Str("action", "conflict_resolved").
		Str("profile_id", profileID.String()).
		Str("commit_id", commitID).
		Str("resolution", resolution).
		Str("trace_id", getTraceID(ctx)).
		Msg("commit conflict resolved")
}

// CommitDeadLettered logs a commit that exhausted its retry budget.
func (l *Logger) CommitDeadLettered(ctx context.Context, profileID uuid.UUID, commitID string, attempts int) {
	l.log.Error().
		Str("action", "commit_dead_lettered").
		Str("profile_id", profileID.String()).
		Str("commit_id", commitID).
		Int("attempts", attempts).
		Str("trace_id", getTraceID(ctx)).
		Msg("outbox commit moved to dead status")
}

// BootstrapProgress logs snapshot materialization progress for a subscription.
func (l *Logger) BootstrapProgress(ctx context.Context, profileID uuid.UUID, subscriptionID string, tablesDone, tablesTotal int) {
	l.log.Debug().
		Str("action", "bootstrap_progress").
		Str("profile_id", profileID.String()).
		Str("subscription_id", subscriptionID).
		Int("tables_done", tablesDone).
		Int("tables_total", tablesTotal).
		Str("trace_id", getTraceID(ctx)).
		Msg("bootstrap snapshot progress")
}

// TransportDegraded logs a transition from realtime to polling transport.
func (l *Logger) TransportDegraded(ctx context.Context, profileID uuid.UUID, reason string) {
	l.log.Warn().
		Str("action", "transport_degraded").
		Str("profile_id", profileID.String()).
		Str("reason", reason).
		Str("trace_id", getTraceID(ctx)).
		Msg("transport fell back to polling")
}

// TransportRecovered logs recovery of the realtime transport.
func (l *Logger) TransportRecovered(ctx context.Context, profileID uuid.UUID) {
	l.log.Info().
		Str("action", "transport_recovered").
		Str("profile_id", profileID.String()).
		Str("trace_id", getTraceID(ctx)).
		Msg("realtime transport recovered")
}

// getTraceID extracts the request id from context if available.
func getTraceID(ctx context.Context) string {
	return appCtx.GetRequestID(ctx)
}
