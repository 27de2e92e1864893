package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/localsync/syncengine/internal/store"
)

// Conflicts is a thin domain facade over store.ConflictStore.
type Conflicts struct {
	store store.ConflictStore
}

func New(s store.ConflictStore) *Conflicts {
	return &Conflicts{store: s}
}

// UpsertForRejectedCommit deletes all prior conflict rows for the given
// outbox commit, then inserts one row per operation result whose status is
// conflict or error (§4.3). Accepts an explicit store.ConflictStore so
// callers can run it inside an existing transaction.
func UpsertForRejectedCommit(ctx context.Context, s store.ConflictStore, rc RejectedCommit) error {
	var rows []store.Conflict
	for _, r := range rc.Results {
		if r.Status != ResultConflict && r.Status != ResultError {
			continue
		}
		var rowJSON []byte
		if r.ServerRow != nil {
			b, err := json.Marshal(r.ServerRow)
			if err != nil {
				return fmt.Errorf("marshal server row: %w", err)
			}
			rowJSON = b
		}
		rows = append(rows, store.Conflict{
			ID:             uuid.NewString(),
			OutboxCommitID: rc.OutboxCommitID,
			ClientCommitID: rc.ClientCommitID,
			OpIndex:        r.OpIndex,
			ResultStatus:   store.ConflictStatus(r.Status),
			Message:        r.Message,
			Code:           r.Code,
			ServerVersion:  r.ServerVersion,
			ServerRowJSON:  rowJSON,
		})
	}
	if err := s.ReplaceConflictsForCommit(ctx, rc.OutboxCommitID, rows); err != nil {
		return fmt.Errorf("replace conflicts for commit: %w", err)
	}
	return nil
}

// Resolve stamps resolvedAt on a conflict row. Monotonic: resolving an
// already-resolved conflict is a no-op (C1, P8) because the store query
// only updates rows where resolved_at IS NULL.
func (c *Conflicts) Resolve(ctx context.Context, id string, resolution string) error {
	if err := c.store.ResolveConflict(ctx, id, resolution, time.Now()); err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	return nil
}

// ListUnresolved returns every conflict row not yet resolved.
func (c *Conflicts) ListUnresolved(ctx context.Context) ([]Conflict, error) {
	rows, err := c.store.ListUnresolvedConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved conflicts: %w", err)
	}
	out := make([]Conflict, 0, len(rows))
	for _, row := range rows {
		out = append(out, decode(row))
	}
	return out, nil
}

// DeleteForCommit cascades conflict deletion for the given outbox commit,
// used by repair flows (C2).
func DeleteForCommit(ctx context.Context, s store.ConflictStore, outboxCommitID string) error {
	return s.DeleteConflictsForCommit(ctx, outboxCommitID)
}

func decode(row store.Conflict) Conflict {
	var serverRow map[string]any
	if len(row.ServerRowJSON) > 0 {
		_ = json.Unmarshal(row.ServerRowJSON, &serverRow)
	}
	return Conflict{
		ID:             row.ID,
		OutboxCommitID: row.OutboxCommitID,
		ClientCommitID: row.ClientCommitID,
		OpIndex:        row.OpIndex,
		Status:         ResultStatus(row.ResultStatus),
		Message:        row.Message,
		Code:           row.Code,
		ServerVersion:  row.ServerVersion,
		ServerRow:      serverRow,
		CreatedAt:      row.CreatedAt,
		ResolvedAt:     row.ResolvedAt,
		Resolution:     row.Resolution,
	}
}
