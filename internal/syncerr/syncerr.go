// Package syncerr classifies errors raised anywhere in the sync engine into
// the fixed taxonomy the orchestrator's retry scheduler and event bus key
// off of.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code is one of the fixed taxonomy codes surfaced to the application.
type Code string

const (
	CodeNetworkError    Code = "NETWORK_ERROR"
	CodeAuthFailed      Code = "AUTH_FAILED"
	CodeChunkNotFound   Code = "SNAPSHOT_CHUNK_NOT_FOUND"
	CodeMigrationFailed Code = "MIGRATION_FAILED"
	CodeConflict        Code = "CONFLICT"
	CodeSyncError       Code = "SYNC_ERROR"
	CodeUnknown         Code = "UNKNOWN"
)

// SyncError is the structured error every surfaced failure is normalized
// into before it reaches state.error or an emitted sync:error event.
type SyncError struct {
	Code           Code
	Message        string
	Cause          error
	Timestamp      time.Time
	Retryable      bool
	HTTPStatus     int
	SubscriptionID string
	StateID        string
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Cause }

// HTTPError is the contract transport implementations are expected to
// satisfy when a request fails with a known HTTP status; Classify type-
// asserts for it before falling back to message sniffing.
type HTTPError interface {
	error
	StatusCode() int
}

// Classify implements the §7 taxonomy table: HTTP status first, then
// message substrings, defaulting to SYNC_ERROR rather than UNKNOWN for any
// recognized-but-uncategorized condition.
func Classify(err error) *SyncError {
	if err == nil {
		return nil
	}

	var se *SyncError
	if errors.As(err, &se) {
		return se
	}

	now := time.Now()
	msg := err.Error()
	lower := strings.ToLower(msg)

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		status := httpErr.StatusCode()
		switch {
		case status == 401 || status == 403:
			return &SyncError{Code: CodeAuthFailed, Message: msg, Cause: err, Timestamp: now, Retryable: false, HTTPStatus: status}
		case status == 404 && strings.Contains(lower, "snapshot") && strings.Contains(lower, "chunk"):
			return &SyncError{Code: CodeChunkNotFound, Message: msg, Cause: err, Timestamp: now, Retryable: false, HTTPStatus: status}
		case status >= 500 || status == 408 || status == 429:
			return &SyncError{Code: CodeNetworkError, Message: msg, Cause: err, Timestamp: now, Retryable: true, HTTPStatus: status}
		default:
			return &SyncError{Code: CodeSyncError, Message: msg, Cause: err, Timestamp: now, Retryable: false, HTTPStatus: status}
		}
	}

	switch {
	case containsAny(lower, "network", "fetch", "timeout", "offline"):
		return &SyncError{Code: CodeNetworkError, Message: msg, Cause: err, Timestamp: now, Retryable: true}
	case strings.Contains(lower, "conflict"):
		return &SyncError{Code: CodeConflict, Message: msg, Cause: err, Timestamp: now, Retryable: false}
	default:
		return &SyncError{Code: CodeSyncError, Message: msg, Cause: err, Timestamp: now, Retryable: false}
	}
}

// Migration wraps a migration failure as the one non-retryable code that
// additionally tells the orchestrator to disable itself.
func Migration(err error) *SyncError {
	return &SyncError{Code: CodeMigrationFailed, Message: "migration failed", Cause: err, Timestamp: time.Now(), Retryable: false}
}

// ChunkIntegrity reports a snapshot chunk whose streamed hash did not match
// its advertised sha256; surfaced as SYNC_ERROR per §7 ("the server may
// re-chunk on retry").
func ChunkIntegrity(subscriptionID, chunkID string) *SyncError {
	return &SyncError{
		Code:           CodeSyncError,
		Message:        fmt.Sprintf("snapshot chunk %s failed integrity check", chunkID),
		Timestamp:      time.Now(),
		Retryable:      false,
		SubscriptionID: subscriptionID,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
