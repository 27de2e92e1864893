package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/plugin"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/tablehandler"
)

// RecordLocal applies a mutation to the local table and enqueues it onto
// the outbox inside one local transaction (spec §4.8: "one local
// transaction writes the application rows ... and enqueues one outbox
// commit carrying the same operations"), so a crash between the two never
// leaves a mutated row with no corresponding outbox commit. If the table's
// handler implements VersionReader, its current row version is read inside
// the same transaction and attached as the operation's baseVersion for the
// server's optimistic-concurrency check.
func (r *Recorder) RecordLocal(ctx context.Context, table, rowID string, op outbox.Op, payload map[string]any) (*outbox.EnqueueResult, error) {
	if !tablehandler.ValidIdentifier(table) {
		return nil, &tablehandler.ErrInvalidIdentifier{Name: table}
	}

	handler, err := r.deps.Registry.Get(table)
	if err != nil {
		return nil, fmt.Errorf("record local mutation: %w", err)
	}

	localOp := map[string]any{"table": table, "rowId": rowID, "op": string(op), "payload": payload}
	hooks := append([]plugin.BeforeApplyLocalMutationsHook(nil), r.deps.BeforeApplyLocalMutationsHooks...)
	plugin.SortAscending(hooks, func(h plugin.BeforeApplyLocalMutationsHook) int { return h.Priority() })
	for _, h := range hooks {
		if err := h.BeforeApplyLocalMutations(ctx, []map[string]any{localOp}); err != nil {
			return nil, fmt.Errorf("beforeApplyLocalMutations hook: %w", err)
		}
	}

	var res *outbox.EnqueueResult
	err = r.deps.Store.WithTx(ctx, func(tx store.Tx) error {
		var baseVersion *int64
		if vr, ok := handler.(VersionReader); ok {
			v, err := vr.CurrentVersion(ctx, tx, rowID)
			if err != nil {
				return fmt.Errorf("read current version for %s/%s: %w", table, rowID, err)
			}
			baseVersion = v
		}

		if err := handler.ApplyChange(ctx, tx, tablehandler.Change{
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
			Table:      table,
			RowID:      rowID,
			Op:         string(op),
			RowJSON:    payload,
			RowVersion: baseVersion,
		}); err != nil {
			return fmt.Errorf("apply local mutation %s/%s: %w", table, rowID, err)
		}

		enqueued, err := outbox.New(tx).Enqueue(ctx, []outbox.Operation{{
			Table:       table,
			RowID:       rowID,
			Op:          op,
			Payload:     payload,
			BaseVersion: baseVersion,
		}}, "")
		if err != nil {
			return fmt.Errorf("enqueue mutation %s/%s: %w", table, rowID, err)
		}
		res = enqueued
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("table", table).Str("row_id", rowID).Str("op", string(op)).Msg("mutation recorded locally and enqueued")
	return res, nil
}

// DirectPush enqueues one or more operations without writing them to any
// local table first (spec §4.8 "direct-push/stateless path") — used for
// writes whose local representation is owned entirely by the server, or
// that the caller has already applied through some other path.
func (r *Recorder) DirectPush(ctx context.Context, ops []outbox.Operation, clientCommitID string) (*outbox.EnqueueResult, error) {
	for _, op := range ops {
		if !tablehandler.ValidIdentifier(op.Table) {
			return nil, &tablehandler.ErrInvalidIdentifier{Name: op.Table}
		}
	}
	res, err := r.deps.Outbox.Enqueue(ctx, ops, clientCommitID)
	if err != nil {
		return nil, fmt.Errorf("enqueue direct push: %w", err)
	}
	return res, nil
}
