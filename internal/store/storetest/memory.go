// Package storetest provides an in-memory store.Store fake for unit tests
// that exercise pure sync-engine logic without a live Postgres instance.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/localsync/syncengine/internal/store"
)

// Memory is a mutex-guarded in-memory implementation of store.Store. It
// preserves the CAS semantics of ClaimNextOutboxCommit (P1) so property
// tests can run real concurrent claimers against it.
type Memory struct {
	mu            sync.Mutex
	outbox        map[string]store.OutboxCommit
	subscriptions map[string]store.SubscriptionState // key: stateID + "/" + subscriptionID
	conflicts     map[string]store.Conflict
}

func New() *Memory {
	return &Memory{
		outbox:        map[string]store.OutboxCommit{},
		subscriptions: map[string]store.SubscriptionState{},
		conflicts:     map[string]store.Conflict{},
	}
}

func (m *Memory) Close() {}

func subKey(profileID, subscriptionID string) string { return profileID + "/" + subscriptionID }

// Begin/WithTx run directly against the same in-memory maps under the same
// mutex; Memory has no partial-rollback support, so tests relying on
// transactional rollback should assert atomicity at the engine layer
// against a scripted failure rather than expecting Memory itself to undo
// writes (the real PostgresStore provides actual transaction semantics).
func (m *Memory) Begin(ctx context.Context) (store.Tx, error) {
	return &memTx{m: m}, nil
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, _ := m.Begin(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type memTx struct{ m *Memory }

func (t *memTx) Commit(ctx context.Context) error   { return nil }
func (t *memTx) Rollback(ctx context.Context) error { return nil }

func (t *memTx) EnqueueOutboxCommit(ctx context.Context, c store.OutboxCommit) error {
	return t.m.EnqueueOutboxCommit(ctx, c)
}
func (t *memTx) ClaimNextOutboxCommit(ctx context.Context, staleAfter time.Duration) (*store.OutboxCommit, error) {
	return t.m.ClaimNextOutboxCommit(ctx, staleAfter)
}
func (t *memTx) MarkOutboxAcked(ctx context.Context, id string, commitSeq int64, responseJSON []byte) error {
	return t.m.MarkOutboxAcked(ctx, id, commitSeq, responseJSON)
}
func (t *memTx) MarkOutboxFailed(ctx context.Context, id string, errMsg string, responseJSON []byte) error {
	return t.m.MarkOutboxFailed(ctx, id, errMsg, responseJSON)
}
func (t *memTx) MarkOutboxPending(ctx context.Context, id string, errMsg string, responseJSON []byte) error {
	return t.m.MarkOutboxPending(ctx, id, errMsg, responseJSON)
}
func (t *memTx) GetOutboxCommit(ctx context.Context, id string) (*store.OutboxCommit, error) {
	return t.m.GetOutboxCommit(ctx, id)
}
func (t *memTx) CountPendingOutboxCommits(ctx context.Context) (int, error) {
	return t.m.CountPendingOutboxCommits(ctx)
}
func (t *memTx) CleanupOutbox(ctx context.Context, status store.OutboxStatus) error {
	return t.m.CleanupOutbox(ctx, status)
}
func (t *memTx) CleanupAllOutbox(ctx context.Context) error { return t.m.CleanupAllOutbox(ctx) }

func (t *memTx) GetSubscriptionState(ctx context.Context, profileID, subscriptionID string) (*store.SubscriptionState, error) {
	return t.m.GetSubscriptionState(ctx, profileID, subscriptionID)
}
func (t *memTx) ListSubscriptionStates(ctx context.Context, profileID string) ([]store.SubscriptionState, error) {
	return t.m.ListSubscriptionStates(ctx, profileID)
}
func (t *memTx) UpsertSubscriptionState(ctx context.Context, s store.SubscriptionState) error {
	return t.m.UpsertSubscriptionState(ctx, s)
}
func (t *memTx) DeleteSubscriptionState(ctx context.Context, profileID, subscriptionID string) error {
	return t.m.DeleteSubscriptionState(ctx, profileID, subscriptionID)
}
func (t *memTx) DeleteSubscriptionStates(ctx context.Context, profileID string, subscriptionIDs []string) error {
	return t.m.DeleteSubscriptionStates(ctx, profileID, subscriptionIDs)
}

func (t *memTx) ReplaceConflictsForCommit(ctx context.Context, outboxCommitID string, conflicts []store.Conflict) error {
	return t.m.ReplaceConflictsForCommit(ctx, outboxCommitID, conflicts)
}
func (t *memTx) ResolveConflict(ctx context.Context, id string, resolution string, resolvedAt time.Time) error {
	return t.m.ResolveConflict(ctx, id, resolution, resolvedAt)
}
func (t *memTx) ListUnresolvedConflicts(ctx context.Context) ([]store.Conflict, error) {
	return t.m.ListUnresolvedConflicts(ctx)
}
func (t *memTx) DeleteConflictsForCommit(ctx context.Context, outboxCommitID string) error {
	return t.m.DeleteConflictsForCommit(ctx, outboxCommitID)
}
func (t *memTx) DeleteAllConflicts(ctx context.Context) error { return t.m.DeleteAllConflicts(ctx) }

// -- OutboxStore --

func (m *Memory) EnqueueOutboxCommit(ctx context.Context, c store.OutboxCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Status = store.OutboxPending
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.outbox[c.ID] = c
	return nil
}

func (m *Memory) ClaimNextOutboxCommit(ctx context.Context, staleAfter time.Duration) (*store.OutboxCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *store.OutboxCommit
	for id, c := range m.outbox {
		eligible := c.Status == store.OutboxPending ||
			(c.Status == store.OutboxSending && time.Since(c.UpdatedAt) > staleAfter)
		if !eligible {
			continue
		}
		cp := c
		if best == nil || cp.CreatedAt.Before(best.CreatedAt) {
			best = &cp
			_ = id
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = store.OutboxSending
	best.AttemptCount++
	best.UpdatedAt = time.Now()
	best.Error = ""
	best.LastResponseJSON = nil
	m.outbox[best.ID] = *best

	out := *best
	return &out, nil
}

func (m *Memory) MarkOutboxAcked(ctx context.Context, id string, commitSeq int64, responseJSON []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.outbox[id]
	c.Status = store.OutboxAcked
	c.AckedCommitSeq = &commitSeq
	c.LastResponseJSON = responseJSON
	c.Error = ""
	c.UpdatedAt = time.Now()
	m.outbox[id] = c
	return nil
}

func (m *Memory) MarkOutboxFailed(ctx context.Context, id string, errMsg string, responseJSON []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.outbox[id]
	c.Status = store.OutboxFailed
	c.Error = errMsg
	c.LastResponseJSON = responseJSON
	c.UpdatedAt = time.Now()
	m.outbox[id] = c
	return nil
}

func (m *Memory) MarkOutboxPending(ctx context.Context, id string, errMsg string, responseJSON []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.outbox[id]
	c.Status = store.OutboxPending
	c.Error = errMsg
	c.LastResponseJSON = responseJSON
	c.UpdatedAt = time.Now()
	m.outbox[id] = c
	return nil
}

func (m *Memory) GetOutboxCommit(ctx context.Context, id string) (*store.OutboxCommit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.outbox[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) CountPendingOutboxCommits(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.outbox {
		if c.Status == store.OutboxPending || c.Status == store.OutboxSending {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CleanupOutbox(ctx context.Context, status store.OutboxStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.outbox {
		if c.Status == status {
			delete(m.outbox, id)
		}
	}
	return nil
}

func (m *Memory) CleanupAllOutbox(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = map[string]store.OutboxCommit{}
	return nil
}

// -- SubscriptionStore --

func (m *Memory) GetSubscriptionState(ctx context.Context, profileID, subscriptionID string) (*store.SubscriptionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subscriptions[subKey(profileID, subscriptionID)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListSubscriptionStates(ctx context.Context, profileID string) ([]store.SubscriptionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.SubscriptionState
	for _, s := range m.subscriptions {
		if s.ProfileID == profileID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) UpsertSubscriptionState(ctx context.Context, s store.SubscriptionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subKey(s.ProfileID, s.SubscriptionID)
	if existing, ok := m.subscriptions[key]; ok {
		s.CreatedAt = existing.CreatedAt
	} else {
		s.CreatedAt = time.Now()
	}
	s.UpdatedAt = time.Now()
	m.subscriptions[key] = s
	return nil
}

func (m *Memory) DeleteSubscriptionState(ctx context.Context, profileID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subKey(profileID, subscriptionID))
	return nil
}

func (m *Memory) DeleteSubscriptionStates(ctx context.Context, profileID string, subscriptionIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range subscriptionIDs {
		delete(m.subscriptions, subKey(profileID, id))
	}
	return nil
}

// -- ConflictStore --

func (m *Memory) ReplaceConflictsForCommit(ctx context.Context, outboxCommitID string, conflicts []store.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.conflicts {
		if c.OutboxCommitID == outboxCommitID {
			delete(m.conflicts, id)
		}
	}
	for _, c := range conflicts {
		c.CreatedAt = time.Now()
		m.conflicts[c.ID] = c
	}
	return nil
}

func (m *Memory) ResolveConflict(ctx context.Context, id string, resolution string, resolvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok || c.ResolvedAt != nil {
		return nil
	}
	c.Resolution = &resolution
	t := resolvedAt
	c.ResolvedAt = &t
	m.conflicts[id] = c
	return nil
}

func (m *Memory) ListUnresolvedConflicts(ctx context.Context) ([]store.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Conflict
	for _, c := range m.conflicts {
		if c.ResolvedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) DeleteConflictsForCommit(ctx context.Context, outboxCommitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.conflicts {
		if c.OutboxCommitID == outboxCommitID {
			delete(m.conflicts, id)
		}
	}
	return nil
}

func (m *Memory) DeleteAllConflicts(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = map[string]store.Conflict{}
	return nil
}
