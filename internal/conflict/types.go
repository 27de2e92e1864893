// Package conflict implements the durable record of server-rejected
// operations keyed by outbox commit and operation index (spec §4.3).
package conflict

import "time"

// ResultStatus is the per-operation result status that produced a conflict
// row: either an optimistic-concurrency conflict or a hard error.
type ResultStatus string

const (
	ResultConflict ResultStatus = "conflict"
	ResultError    ResultStatus = "error"
)

// Resolution strategies a caller may stamp onto a resolved conflict. A
// "custom:<json>" value is also accepted verbatim and opaque to this
// package.
const (
	ResolutionKeepLocal  = "keep-local"
	ResolutionKeepServer = "keep-server"
)

// Conflict is one durable conflict row.
type Conflict struct {
	ID             string
	OutboxCommitID string
	ClientCommitID string
	OpIndex        int
	Status         ResultStatus
	Message        string
	Code           *string
	ServerVersion  *int64
	ServerRow      map[string]any
	CreatedAt      time.Time
	ResolvedAt     *time.Time
	Resolution     *string
}

// OperationResult is one entry of a push response's `results[]` whose
// status is conflict or error (spec §6 "Push response shape").
type OperationResult struct {
	OpIndex       int
	Status        ResultStatus
	Message       string
	Code          *string
	ServerVersion *int64
	ServerRow     map[string]any
}

// RejectedCommit carries the inputs to upsertConflictsForRejectedCommit.
type RejectedCommit struct {
	OutboxCommitID string
	ClientCommitID string
	Results        []OperationResult
}
