package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/localsync/syncengine/internal/logger"
	"github.com/localsync/syncengine/internal/store"
)

var log = logger.Component("outbox")

// DefaultStaleClaimAfter is the window after which a "sending" row is
// considered abandoned by a crashed claimer and eligible for re-claim
// (spec §4.1, §9 "cross-instance outbox coordination").
const DefaultStaleClaimAfter = 30 * time.Second

// Outbox is a thin domain facade over store.OutboxStore: it owns
// JSON encode/decode and id generation, the store owns the CAS claim query.
type Outbox struct {
	store           store.OutboxStore
	staleClaimAfter time.Duration
}

// New constructs an Outbox bound to s, using the default stale-claim window.
func New(s store.OutboxStore) *Outbox {
	return &Outbox{store: s, staleClaimAfter: DefaultStaleClaimAfter}
}

// WithStaleClaimAfter overrides the default stale-sending recovery window.
func (o *Outbox) WithStaleClaimAfter(d time.Duration) *Outbox {
	o.staleClaimAfter = d
	return o
}

// Enqueue inserts one pending commit. Ids are generated when absent.
func (o *Outbox) Enqueue(ctx context.Context, operations []Operation, clientCommitID string) (*EnqueueResult, error) {
	if clientCommitID == "" {
		clientCommitID = uuid.NewString()
	}
	opsJSON, err := json.Marshal(operations)
	if err != nil {
		return nil, fmt.Errorf("marshal operations: %w", err)
	}

	id := uuid.NewString()
	if err := o.store.EnqueueOutboxCommit(ctx, store.OutboxCommit{
		ID:             id,
		ClientCommitID: clientCommitID,
		OperationsJSON: opsJSON,
		SchemaVersion:  1,
	}); err != nil {
		return nil, fmt.Errorf("enqueue outbox commit: %w", err)
	}

	log.Debug().Str("id", id).Str("client_commit_id", clientCommitID).Int("operations", len(operations)).Msg("outbox commit enqueued")
	return &EnqueueResult{ID: id, ClientCommitID: clientCommitID}, nil
}

// ClaimNext atomically transitions exactly one pending (or stale-sending)
// commit to sending, or returns nil if none is available (P1).
func (o *Outbox) ClaimNext(ctx context.Context) (*Commit, error) {
	row, err := o.store.ClaimNextOutboxCommit(ctx, o.staleClaimAfter)
	if err != nil {
		return nil, fmt.Errorf("claim next outbox commit: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return decodeCommit(row)
}

// MarkAcked records a terminal success. The only path that sets
// AckedCommitSeq (I3).
func (o *Outbox) MarkAcked(ctx context.Context, id string, commitSeq int64, response map[string]any) error {
	respJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if err := o.store.MarkOutboxAcked(ctx, id, commitSeq, respJSON); err != nil {
		return fmt.Errorf("mark outbox acked: %w", err)
	}
	log.Info().Str("id", id).Int64("commit_seq", commitSeq).Msg("outbox commit acked")
	return nil
}

// MarkFailed records a terminal rejection (I5: never used for retriable
// transport failures).
func (o *Outbox) MarkFailed(ctx context.Context, id string, errMsg string, response map[string]any) error {
	respJSON, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if err := o.store.MarkOutboxFailed(ctx, id, errMsg, respJSON); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	log.Warn().Str("id", id).Str("error", errMsg).Msg("outbox commit failed")
	return nil
}

// MarkPending returns a claimed commit to pending, used both for
// not-yet-sent state and retriable rejections/transport errors (I5).
func (o *Outbox) MarkPending(ctx context.Context, id string, errMsg string, response map[string]any) error {
	var respJSON []byte
	if response != nil {
		var err error
		respJSON, err = json.Marshal(response)
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
	}
	if err := o.store.MarkOutboxPending(ctx, id, errMsg, respJSON); err != nil {
		return fmt.Errorf("mark outbox pending: %w", err)
	}
	return nil
}

// CountPending reports how many commits are pending or in flight, used by
// the orchestrator's WS inline-apply fast path (§4.7).
func (o *Outbox) CountPending(ctx context.Context) (int, error) {
	return o.store.CountPendingOutboxCommits(ctx)
}

// CleanupAcked, CleanupFailed and CleanupAll implement the three cleanup
// variants named in §4.1.
func (o *Outbox) CleanupAcked(ctx context.Context) error {
	return o.store.CleanupOutbox(ctx, store.OutboxAcked)
}

func (o *Outbox) CleanupFailed(ctx context.Context) error {
	return o.store.CleanupOutbox(ctx, store.OutboxFailed)
}

func (o *Outbox) CleanupAll(ctx context.Context) error {
	return o.store.CleanupAllOutbox(ctx)
}

func decodeCommit(row *store.OutboxCommit) (*Commit, error) {
	var ops []Operation
	if len(row.OperationsJSON) > 0 {
		if err := json.Unmarshal(row.OperationsJSON, &ops); err != nil {
			return nil, fmt.Errorf("decode operations: %w", err)
		}
	}
	var resp map[string]any
	if len(row.LastResponseJSON) > 0 {
		if err := json.Unmarshal(row.LastResponseJSON, &resp); err != nil {
			return nil, fmt.Errorf("decode last response: %w", err)
		}
	}
	return &Commit{
		ID:             row.ID,
		ClientCommitID: row.ClientCommitID,
		Status:         Status(row.Status),
		Operations:     ops,
		LastResponse:   resp,
		Error:          row.Error,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		AttemptCount:   row.AttemptCount,
		AckedCommitSeq: row.AckedCommitSeq,
		SchemaVersion:  row.SchemaVersion,
	}, nil
}
