// Package transport declares the wire contracts the sync engine consumes.
// No implementation lives here: per spec §1, transport implementations
// (HTTP, the realtime channel) are external collaborators referenced only
// by interface.
package transport

import (
	"context"
	"io"
)

// PushBody is the push half of a combined sync request.
type PushBody struct {
	ClientCommitID string           `json:"clientCommitId"`
	Operations     []map[string]any `json:"operations"`
	SchemaVersion  int              `json:"schemaVersion"`
}

// SubscriptionRequest is one subscription entry of a pull request.
type SubscriptionRequest struct {
	ID             string         `json:"id"`
	Table          string         `json:"table"`
	Scopes         map[string]any `json:"scopes"`
	Params         map[string]any `json:"params,omitempty"`
	Cursor         int64          `json:"cursor"`
	BootstrapState map[string]any `json:"bootstrapState,omitempty"`
}

// PullBody is the pull half of a combined sync request.
type PullBody struct {
	LimitCommits      int                    `json:"limitCommits"`
	LimitSnapshotRows int                    `json:"limitSnapshotRows"`
	MaxSnapshotPages  int                    `json:"maxSnapshotPages"`
	DedupeRows        bool                   `json:"dedupeRows,omitempty"`
	Subscriptions     []SubscriptionRequest  `json:"subscriptions"`
}

// SyncRequest is the combined push+pull request body (spec §6).
type SyncRequest struct {
	ClientID string    `json:"clientId"`
	Push     *PushBody `json:"push,omitempty"`
	Pull     *PullBody `json:"pull,omitempty"`
}

// OperationResultStatus is the server's per-operation verdict.
type OperationResultStatus string

const (
	ResultApplied  OperationResultStatus = "applied"
	ResultConflict OperationResultStatus = "conflict"
	ResultError    OperationResultStatus = "error"
)

// OperationResult is one entry of a push response's results[].
type OperationResult struct {
	OpIndex       int                    `json:"opIndex"`
	Status        OperationResultStatus  `json:"status"`
	Message       string                 `json:"error,omitempty"`
	Code          *string                `json:"code,omitempty"`
	Retriable     *bool                  `json:"retriable,omitempty"`
	ServerVersion *int64                 `json:"server_version,omitempty"`
	ServerRow     map[string]any         `json:"server_row,omitempty"`
}

// PushStatus is the top-level push response status.
type PushStatus string

const (
	PushApplied  PushStatus = "applied"
	PushCached   PushStatus = "cached"
	PushRejected PushStatus = "rejected"
)

// PushResponse is the push half of a sync response (spec §6).
type PushResponse struct {
	Status    PushStatus        `json:"status"`
	CommitSeq *int64            `json:"commitSeq,omitempty"`
	Results   []OperationResult `json:"results"`
}

// ChunkDescriptor describes one addressable snapshot chunk (spec §4.4.1).
type ChunkDescriptor struct {
	ID          string `json:"id"`
	ByteLength  int64  `json:"byteLength"`
	SHA256      string `json:"sha256,omitempty"`
	Encoding    string `json:"encoding"`
	Compression string `json:"compression"`
}

// SnapshotPage is one table's snapshot page within a pull response.
type SnapshotPage struct {
	Table       string                 `json:"table"`
	Rows        []map[string]any       `json:"rows,omitempty"`
	Chunks      []ChunkDescriptor      `json:"chunks,omitempty"`
	IsFirstPage bool                   `json:"isFirstPage"`
	IsLastPage  bool                   `json:"isLastPage"`
}

// Change is one row mutation delivered inside a commit or inline over the
// realtime channel.
type Change struct {
	Table      string         `json:"table"`
	RowID      string         `json:"row_id"`
	Op         string         `json:"op"`
	RowJSON    map[string]any `json:"row_json,omitempty"`
	RowVersion *int64         `json:"row_version,omitempty"`
	Scopes     map[string]any `json:"scopes,omitempty"`
}

// Commit is one server-assigned group of changes.
type Commit struct {
	CommitSeq int64    `json:"commitSeq"`
	ActorID   string   `json:"actorId,omitempty"`
	CreatedAt string   `json:"createdAt,omitempty"`
	Changes   []Change `json:"changes"`
}

// SubscriptionStatus mirrors store.SubscriptionStatus on the wire.
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionRevoked SubscriptionStatus = "revoked"
)

// SubscriptionResponse is one subscription's entry in a pull response.
type SubscriptionResponse struct {
	ID             string                 `json:"id"`
	Status         SubscriptionStatus     `json:"status"`
	Scopes         map[string]any         `json:"scopes"`
	Bootstrap      bool                   `json:"bootstrap"`
	BootstrapState map[string]any         `json:"bootstrapState"`
	NextCursor     int64                  `json:"nextCursor"`
	Commits        []Commit               `json:"commits"`
	Snapshots      []SnapshotPage         `json:"snapshots"`
}

// PullResponse is the pull half of a sync response (spec §6).
type PullResponse struct {
	OK            bool                   `json:"ok"`
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
}

// SyncResponse is the combined push+pull response.
type SyncResponse struct {
	Push *PushResponse `json:"push,omitempty"`
	Pull *PullResponse `json:"pull,omitempty"`
}

// Transport is the combined request/response contract every transport
// implementation must satisfy (spec §6 "Transport contract (consumed)").
type Transport interface {
	// Sync sends a combined push+pull request and returns the combined
	// response.
	Sync(ctx context.Context, req SyncRequest) (*SyncResponse, error)

	// FetchSnapshotChunk returns a chunk's full bytes. Implementers MUST
	// provide this, FetchSnapshotChunkStream, or both.
	FetchSnapshotChunk(ctx context.Context, chunkID string) ([]byte, error)

	// FetchSnapshotChunkStream returns a chunk as a byte stream for the
	// streaming apply path (§4.4.1). The caller closes the returned
	// ReadCloser.
	FetchSnapshotChunkStream(ctx context.Context, chunkID string) (io.ReadCloser, error)
}

// WSTransport is the optional bidirectional-channel extension.
type WSTransport interface {
	// PushViaWs attempts to push a commit over the realtime channel,
	// returning nil if the transport declines (falls back to Sync).
	PushViaWs(ctx context.Context, req SyncRequest) (*PushResponse, error)
}

// ConnectionState mirrors the realtime channel's reported lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// RealtimeEvent is one event delivered by the realtime channel.
type RealtimeEvent struct {
	Event string `json:"event"`
	Data  struct {
		Cursor    *int64   `json:"cursor,omitempty"`
		Changes   []Change `json:"changes,omitempty"`
		Timestamp string   `json:"timestamp,omitempty"`
	} `json:"data"`
}

// RealtimeTransport is the optional persistent-channel extension.
type RealtimeTransport interface {
	// Connect opens the realtime channel. onEvent is called for each
	// delivered event, onStateChange for every connection-state
	// transition. The returned func disconnects and releases resources.
	Connect(ctx context.Context, clientID string, onEvent func(RealtimeEvent), onStateChange func(ConnectionState)) (disconnect func(), err error)
}

// PresenceAction is the kind of presence mutation delivered by the
// transport.
type PresenceAction string

const (
	PresenceSnapshot PresenceAction = "snapshot"
	PresenceJoin     PresenceAction = "join"
	PresenceLeave    PresenceAction = "leave"
	PresenceUpdate   PresenceAction = "update"
)

// PresenceEntry is one presence record for a scope.
type PresenceEntry struct {
	ClientID string         `json:"clientId"`
	ActorID  string         `json:"actorId"`
	JoinedAt string         `json:"joinedAt"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PresenceEvent is delivered by the transport for a scope's presence list.
type PresenceEvent struct {
	Action   PresenceAction  `json:"action"`
	ScopeKey string          `json:"scopeKey"`
	Entries  []PresenceEntry `json:"entries,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	ActorID  string          `json:"actorId,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// PresenceTransport is the optional presence extension.
type PresenceTransport interface {
	SendPresenceJoin(ctx context.Context, scopeKey string, entry PresenceEntry) error
	SendPresenceLeave(ctx context.Context, scopeKey string, clientID string) error
	SendPresenceUpdate(ctx context.Context, scopeKey string, entry PresenceEntry) error
	OnPresenceEvent(handler func(PresenceEvent)) (unsubscribe func())
}
