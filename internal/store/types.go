// Package store defines the persistent-store adapter: typed row I/O and
// transactions over the SQL store backing the outbox, subscription, and
// conflict tables. It owns no sync logic of its own.
package store

import (
	"context"
	"time"
)

// OutboxStatus is the lifecycle status of an outbox commit.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSending OutboxStatus = "sending"
	OutboxAcked   OutboxStatus = "acked"
	OutboxFailed  OutboxStatus = "failed"
)

// SubscriptionStatus is the lifecycle status of a subscription row.
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionRevoked SubscriptionStatus = "revoked"
)

// ConflictStatus mirrors the per-operation result status that produced it.
type ConflictStatus string

const (
	ConflictStatusConflict ConflictStatus = "conflict"
	ConflictStatusError    ConflictStatus = "error"
)

// OutboxCommit is one durable, client-authored commit awaiting server
// acknowledgment.
type OutboxCommit struct {
	ID              string
	ClientCommitID  string
	Status          OutboxStatus
	OperationsJSON  []byte
	LastResponseJSON []byte
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	AttemptCount    int
	AckedCommitSeq  *int64
	SchemaVersion   int
}

// SubscriptionState is one per-(profile, subscription) record.
type SubscriptionState struct {
	ProfileID        string
	SubscriptionID   string
	Table            string
	ScopesJSON       []byte
	ParamsJSON       []byte
	Cursor           int64
	BootstrapStateJSON []byte
	Status           SubscriptionStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Conflict is a durable record of one server-rejected operation.
type Conflict struct {
	ID              string
	OutboxCommitID  string
	ClientCommitID  string
	OpIndex         int
	ResultStatus    ConflictStatus
	Message         string
	Code            *string
	ServerVersion   *int64
	ServerRowJSON   []byte
	CreatedAt       time.Time
	ResolvedAt      *time.Time
	Resolution      *string
}

// Tx is a store transaction. All multi-statement operations in this module
// take a Tx so the caller controls the commit boundary (see §4.4's "one
// local transaction" requirement).
type Tx interface {
	OutboxStore
	SubscriptionStore
	ConflictStore
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the top-level handle the rest of the engine depends on.
type Store interface {
	OutboxStore
	SubscriptionStore
	ConflictStore

	// Begin opens a new transaction. Callers MUST Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	// WithTx runs fn inside a transaction, committing on success and
	// rolling back (including on panic) on error.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close()
}

// OutboxStore is the subset of operations the outbox package needs.
type OutboxStore interface {
	EnqueueOutboxCommit(ctx context.Context, c OutboxCommit) error
	ClaimNextOutboxCommit(ctx context.Context, staleAfter time.Duration) (*OutboxCommit, error)
	MarkOutboxAcked(ctx context.Context, id string, commitSeq int64, responseJSON []byte) error
	MarkOutboxFailed(ctx context.Context, id string, errMsg string, responseJSON []byte) error
	MarkOutboxPending(ctx context.Context, id string, errMsg string, responseJSON []byte) error
	GetOutboxCommit(ctx context.Context, id string) (*OutboxCommit, error)
	CountPendingOutboxCommits(ctx context.Context) (int, error)
	CleanupOutbox(ctx context.Context, status OutboxStatus) error
	CleanupAllOutbox(ctx context.Context) error
}

// SubscriptionStore is the subset of operations the subscription package
// and the pull engine need.
type SubscriptionStore interface {
	GetSubscriptionState(ctx context.Context, profileID, subscriptionID string) (*SubscriptionState, error)
	ListSubscriptionStates(ctx context.Context, profileID string) ([]SubscriptionState, error)
	UpsertSubscriptionState(ctx context.Context, s SubscriptionState) error
	DeleteSubscriptionState(ctx context.Context, profileID, subscriptionID string) error
	DeleteSubscriptionStates(ctx context.Context, profileID string, subscriptionIDs []string) error
}

// ConflictStore is the subset of operations the conflict package needs.
type ConflictStore interface {
	ReplaceConflictsForCommit(ctx context.Context, outboxCommitID string, conflicts []Conflict) error
	ResolveConflict(ctx context.Context, id string, resolution string, resolvedAt time.Time) error
	ListUnresolvedConflicts(ctx context.Context) ([]Conflict, error)
	DeleteConflictsForCommit(ctx context.Context, outboxCommitID string) error
	DeleteAllConflicts(ctx context.Context) error
}
