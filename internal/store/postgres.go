package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the CRUD
// helpers below run unchanged whether or not they're inside a transaction.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the pgx/pgxpool-backed Store adapter, grounded on the
// teacher's join-service Repository: a single pool handle, plain SQL, and
// pgx.ErrNoRows translated into typed results at the call site.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Applying Schema is the caller's
// responsibility (see cmd-level wiring), mirroring how join-service's
// main.go owns pool construction and migration ordering.
func New(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &txAdapter{tx: tx}, nil
}

// WithTx runs fn inside a transaction, rolling back on error or panic and
// committing otherwise, the same discipline as the teacher's event-service
// WithTx helper.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	ta := tx.(*txAdapter)

	defer func() {
		if p := recover(); p != nil {
			_ = ta.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = ta.Rollback(ctx)
		return err
	}
	if err := ta.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txAdapter implements Tx over a live pgx.Tx; the CRUD methods below are
// shared between PostgresStore (pool) and txAdapter (tx) via crud.
type txAdapter struct {
	tx pgx.Tx
}

func (t *txAdapter) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *txAdapter) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// -- OutboxStore --

func (s *PostgresStore) EnqueueOutboxCommit(ctx context.Context, c OutboxCommit) error {
	return enqueueOutboxCommit(ctx, s.pool, c)
}
func (t *txAdapter) EnqueueOutboxCommit(ctx context.Context, c OutboxCommit) error {
	return enqueueOutboxCommit(ctx, t.tx, c)
}

func enqueueOutboxCommit(ctx context.Context, q pgxQuerier, c OutboxCommit) error {
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_commits (id, client_commit_id, status, operations_json, created_at, updated_at, schema_version)
		VALUES ($1, $2, $3, $4, now(), now(), $5)
	`, c.ID, c.ClientCommitID, OutboxPending, c.OperationsJSON, c.SchemaVersion)
	return err
}

func (s *PostgresStore) ClaimNextOutboxCommit(ctx context.Context, staleAfter time.Duration) (*OutboxCommit, error) {
	return claimNextOutboxCommit(ctx, s.pool, staleAfter)
}
func (t *txAdapter) ClaimNextOutboxCommit(ctx context.Context, staleAfter time.Duration) (*OutboxCommit, error) {
	return claimNextOutboxCommit(ctx, t.tx, staleAfter)
}

// claimNextOutboxCommit is the compare-and-swap claim: the candidate
// selection and the status flip happen in one statement via
// FOR UPDATE SKIP LOCKED, so two concurrent claimers can never both win the
// same row (P1). Grounded on the teacher's outbox_worker.go claim query,
// generalized from a fixed-size batch to a single-row claim plus the
// spec's stale-sending recovery window.
func claimNextOutboxCommit(ctx context.Context, q pgxQuerier, staleAfter time.Duration) (*OutboxCommit, error) {
	row := q.QueryRow(ctx, `
		UPDATE outbox_commits
		SET status = 'sending', attempt_count = attempt_count + 1, updated_at = now(), error = NULL, last_response_json = NULL
		WHERE id = (
			SELECT id FROM outbox_commits
			WHERE status = 'pending'
			   OR (status = 'sending' AND updated_at < now() - $1::interval)
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, client_commit_id, status, operations_json, last_response_json, error, created_at, updated_at, attempt_count, acked_commit_seq, schema_version
	`, fmt.Sprintf("%f seconds", staleAfter.Seconds()))

	var c OutboxCommit
	err := row.Scan(&c.ID, &c.ClientCommitID, &c.Status, &c.OperationsJSON, &c.LastResponseJSON, &c.Error, &c.CreatedAt, &c.UpdatedAt, &c.AttemptCount, &c.AckedCommitSeq, &c.SchemaVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) MarkOutboxAcked(ctx context.Context, id string, commitSeq int64, responseJSON []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_commits SET status = 'acked', acked_commit_seq = $2, last_response_json = $3, updated_at = now(), error = NULL
		WHERE id = $1
	`, id, commitSeq, responseJSON)
	return err
}

func (s *PostgresStore) MarkOutboxFailed(ctx context.Context, id string, errMsg string, responseJSON []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_commits SET status = 'failed', error = $2, last_response_json = $3, updated_at = now()
		WHERE id = $1
	`, id, errMsg, responseJSON)
	return err
}

func (s *PostgresStore) MarkOutboxPending(ctx context.Context, id string, errMsg string, responseJSON []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_commits SET status = 'pending', error = $2, last_response_json = $3, updated_at = now()
		WHERE id = $1
	`, id, nullIfEmpty(errMsg), responseJSON)
	return err
}

func (s *PostgresStore) GetOutboxCommit(ctx context.Context, id string) (*OutboxCommit, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, client_commit_id, status, operations_json, last_response_json, error, created_at, updated_at, attempt_count, acked_commit_seq, schema_version
		FROM outbox_commits WHERE id = $1
	`, id)
	var c OutboxCommit
	err := row.Scan(&c.ID, &c.ClientCommitID, &c.Status, &c.OperationsJSON, &c.LastResponseJSON, &c.Error, &c.CreatedAt, &c.UpdatedAt, &c.AttemptCount, &c.AckedCommitSeq, &c.SchemaVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CountPendingOutboxCommits(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM outbox_commits WHERE status IN ('pending', 'sending')`).Scan(&n)
	return n, err
}

func (s *PostgresStore) CleanupOutbox(ctx context.Context, status OutboxStatus) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM outbox_commits WHERE status = $1`, status)
	return err
}

func (s *PostgresStore) CleanupAllOutbox(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM outbox_commits`)
	return err
}
func (t *txAdapter) CleanupAllOutbox(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM outbox_commits`)
	return err
}
func (t *txAdapter) CleanupOutbox(ctx context.Context, status OutboxStatus) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM outbox_commits WHERE status = $1`, status)
	return err
}
func (t *txAdapter) CountPendingOutboxCommits(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT count(*) FROM outbox_commits WHERE status IN ('pending', 'sending')`).Scan(&n)
	return n, err
}
func (t *txAdapter) GetOutboxCommit(ctx context.Context, id string) (*OutboxCommit, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, client_commit_id, status, operations_json, last_response_json, error, created_at, updated_at, attempt_count, acked_commit_seq, schema_version
		FROM outbox_commits WHERE id = $1
	`, id)
	var c OutboxCommit
	err := row.Scan(&c.ID, &c.ClientCommitID, &c.Status, &c.OperationsJSON, &c.LastResponseJSON, &c.Error, &c.CreatedAt, &c.UpdatedAt, &c.AttemptCount, &c.AckedCommitSeq, &c.SchemaVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
func (t *txAdapter) MarkOutboxAcked(ctx context.Context, id string, commitSeq int64, responseJSON []byte) error {
	_, err := t.tx.Exec(ctx, `UPDATE outbox_commits SET status = 'acked', acked_commit_seq = $2, last_response_json = $3, updated_at = now(), error = NULL WHERE id = $1`, id, commitSeq, responseJSON)
	return err
}
func (t *txAdapter) MarkOutboxFailed(ctx context.Context, id string, errMsg string, responseJSON []byte) error {
	_, err := t.tx.Exec(ctx, `UPDATE outbox_commits SET status = 'failed', error = $2, last_response_json = $3, updated_at = now() WHERE id = $1`, id, errMsg, responseJSON)
	return err
}
func (t *txAdapter) MarkOutboxPending(ctx context.Context, id string, errMsg string, responseJSON []byte) error {
	_, err := t.tx.Exec(ctx, `UPDATE outbox_commits SET status = 'pending', error = $2, last_response_json = $3, updated_at = now() WHERE id = $1`, id, nullIfEmpty(errMsg), responseJSON)
	return err
}

// -- SubscriptionStore --

func (s *PostgresStore) GetSubscriptionState(ctx context.Context, profileID, subscriptionID string) (*SubscriptionState, error) {
	return getSubscriptionState(ctx, s.pool, profileID, subscriptionID)
}
func (t *txAdapter) GetSubscriptionState(ctx context.Context, profileID, subscriptionID string) (*SubscriptionState, error) {
	return getSubscriptionState(ctx, t.tx, profileID, subscriptionID)
}

func getSubscriptionState(ctx context.Context, q pgxQuerier, profileID, subscriptionID string) (*SubscriptionState, error) {
	row := q.QueryRow(ctx, `
		SELECT state_id, subscription_id, table_name, scopes_json, params_json, cursor, bootstrap_state_json, status, created_at, updated_at
		FROM subscription_state WHERE state_id = $1 AND subscription_id = $2
	`, profileID, subscriptionID)
	var s SubscriptionState
	err := row.Scan(&s.ProfileID, &s.SubscriptionID, &s.Table, &s.ScopesJSON, &s.ParamsJSON, &s.Cursor, &s.BootstrapStateJSON, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *PostgresStore) ListSubscriptionStates(ctx context.Context, profileID string) ([]SubscriptionState, error) {
	return listSubscriptionStates(ctx, s.pool, profileID)
}
func (t *txAdapter) ListSubscriptionStates(ctx context.Context, profileID string) ([]SubscriptionState, error) {
	return listSubscriptionStates(ctx, t.tx, profileID)
}

func listSubscriptionStates(ctx context.Context, q pgxQuerier, profileID string) ([]SubscriptionState, error) {
	rows, err := q.Query(ctx, `
		SELECT state_id, subscription_id, table_name, scopes_json, params_json, cursor, bootstrap_state_json, status, created_at, updated_at
		FROM subscription_state WHERE state_id = $1
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriptionState
	for rows.Next() {
		var s SubscriptionState
		if err := rows.Scan(&s.ProfileID, &s.SubscriptionID, &s.Table, &s.ScopesJSON, &s.ParamsJSON, &s.Cursor, &s.BootstrapStateJSON, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertSubscriptionState(ctx context.Context, state SubscriptionState) error {
	return upsertSubscriptionState(ctx, s.pool, state)
}
func (t *txAdapter) UpsertSubscriptionState(ctx context.Context, state SubscriptionState) error {
	return upsertSubscriptionState(ctx, t.tx, state)
}

func upsertSubscriptionState(ctx context.Context, q pgxQuerier, s SubscriptionState) error {
	_, err := q.Exec(ctx, `
		INSERT INTO subscription_state (state_id, subscription_id, table_name, scopes_json, params_json, cursor, bootstrap_state_json, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (state_id, subscription_id) DO UPDATE SET
			table_name = EXCLUDED.table_name,
			scopes_json = EXCLUDED.scopes_json,
			params_json = EXCLUDED.params_json,
			cursor = EXCLUDED.cursor,
			bootstrap_state_json = EXCLUDED.bootstrap_state_json,
			status = EXCLUDED.status,
			updated_at = now()
	`, s.ProfileID, s.SubscriptionID, s.Table, s.ScopesJSON, s.ParamsJSON, s.Cursor, s.BootstrapStateJSON, s.Status)
	return err
}

func (s *PostgresStore) DeleteSubscriptionState(ctx context.Context, profileID, subscriptionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM subscription_state WHERE state_id = $1 AND subscription_id = $2`, profileID, subscriptionID)
	return err
}
func (t *txAdapter) DeleteSubscriptionState(ctx context.Context, profileID, subscriptionID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM subscription_state WHERE state_id = $1 AND subscription_id = $2`, profileID, subscriptionID)
	return err
}

func (s *PostgresStore) DeleteSubscriptionStates(ctx context.Context, profileID string, subscriptionIDs []string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM subscription_state WHERE state_id = $1 AND subscription_id = ANY($2)`, profileID, subscriptionIDs)
	return err
}
func (t *txAdapter) DeleteSubscriptionStates(ctx context.Context, profileID string, subscriptionIDs []string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM subscription_state WHERE state_id = $1 AND subscription_id = ANY($2)`, profileID, subscriptionIDs)
	return err
}

// -- ConflictStore --

func (s *PostgresStore) ReplaceConflictsForCommit(ctx context.Context, outboxCommitID string, conflicts []Conflict) error {
	return s.WithTx(ctx, func(tx Tx) error {
		return tx.ReplaceConflictsForCommit(ctx, outboxCommitID, conflicts)
	})
}
func (t *txAdapter) ReplaceConflictsForCommit(ctx context.Context, outboxCommitID string, conflicts []Conflict) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM conflicts WHERE outbox_commit_id = $1`, outboxCommitID); err != nil {
		return err
	}
	for _, c := range conflicts {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO conflicts (id, outbox_commit_id, client_commit_id, op_index, result_status, message, code, server_version, server_row_json, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		`, c.ID, c.OutboxCommitID, c.ClientCommitID, c.OpIndex, c.ResultStatus, c.Message, c.Code, c.ServerVersion, c.ServerRowJSON)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ResolveConflict(ctx context.Context, id string, resolution string, resolvedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conflicts SET resolution = $2, resolved_at = $3
		WHERE id = $1 AND resolved_at IS NULL
	`, id, resolution, resolvedAt)
	return err
}
func (t *txAdapter) ResolveConflict(ctx context.Context, id string, resolution string, resolvedAt time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE conflicts SET resolution = $2, resolved_at = $3 WHERE id = $1 AND resolved_at IS NULL`, id, resolution, resolvedAt)
	return err
}

func (s *PostgresStore) ListUnresolvedConflicts(ctx context.Context) ([]Conflict, error) {
	return listUnresolvedConflicts(ctx, s.pool)
}
func (t *txAdapter) ListUnresolvedConflicts(ctx context.Context) ([]Conflict, error) {
	return listUnresolvedConflicts(ctx, t.tx)
}

func listUnresolvedConflicts(ctx context.Context, q pgxQuerier) ([]Conflict, error) {
	rows, err := q.Query(ctx, `
		SELECT id, outbox_commit_id, client_commit_id, op_index, result_status, message, code, server_version, server_row_json, created_at, resolved_at, resolution
		FROM conflicts WHERE resolved_at IS NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var c Conflict
		if err := rows.Scan(&c.ID, &c.OutboxCommitID, &c.ClientCommitID, &c.OpIndex, &c.ResultStatus, &c.Message, &c.Code, &c.ServerVersion, &c.ServerRowJSON, &c.CreatedAt, &c.ResolvedAt, &c.Resolution); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteConflictsForCommit(ctx context.Context, outboxCommitID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conflicts WHERE outbox_commit_id = $1`, outboxCommitID)
	return err
}
func (t *txAdapter) DeleteConflictsForCommit(ctx context.Context, outboxCommitID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM conflicts WHERE outbox_commit_id = $1`, outboxCommitID)
	return err
}

func (s *PostgresStore) DeleteAllConflicts(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conflicts`)
	return err
}
func (t *txAdapter) DeleteAllConflicts(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM conflicts`)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
