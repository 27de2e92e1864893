package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/localsync/syncengine/internal/conflict"
	"github.com/localsync/syncengine/internal/metrics"
	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/plugin"
	"github.com/localsync/syncengine/internal/syncerr"
	"github.com/localsync/syncengine/internal/transport"
)

// PushOnce claims the next pending outbox commit and drives it through one
// full push cycle. Returns Result{Outcome: OutcomeEmpty} with a nil error
// when there is nothing to push.
func PushOnce(ctx context.Context, deps Deps) (*Result, error) {
	res, err := pushOnce(ctx, deps)
	if res != nil {
		metrics.RecordPush(string(res.Outcome))
	}
	return res, err
}

func pushOnce(ctx context.Context, deps Deps) (*Result, error) {
	commit, err := deps.Outbox.ClaimNext(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim next commit: %w", err)
	}
	if commit == nil {
		return &Result{Outcome: OutcomeEmpty}, nil
	}

	ops, err := operationsToWire(commit.Operations)
	if err != nil {
		_ = deps.Outbox.MarkPending(ctx, commit.ID, err.Error(), nil)
		return nil, fmt.Errorf("encode operations for commit %s: %w", commit.ID, err)
	}

	req := transport.SyncRequest{
		ClientID: deps.ClientID,
		Push: &transport.PushBody{
			ClientCommitID: commit.ClientCommitID,
			Operations:     ops,
			SchemaVersion:  commit.SchemaVersion,
		},
	}

	beforeHooks := append([]plugin.BeforePushHook(nil), deps.BeforePushHooks...)
	plugin.SortAscending(beforeHooks, func(h plugin.BeforePushHook) int { return h.Priority() })
	for _, h := range beforeHooks {
		if err := h.BeforePush(ctx, &req); err != nil {
			_ = deps.Outbox.MarkPending(ctx, commit.ID, err.Error(), nil)
			return nil, fmt.Errorf("beforePush hook: %w", err)
		}
	}

	pushResp, err := send(ctx, deps.Transport, req)
	if err != nil {
		// Transport-layer exceptions always return the commit to pending and
		// rethrow, regardless of the error's own retryable classification
		// (outbox invariant I5): a network failure or a 5xx says nothing
		// about whether the operations themselves are valid, so it must
		// never be interpreted as a terminal rejection.
		se := syncerr.Classify(err)
		_ = deps.Outbox.MarkPending(ctx, commit.ID, se.Error(), nil)
		return &Result{Outcome: OutcomePending, OutboxCommitID: commit.ID, ClientCommitID: commit.ClientCommitID}, err
	}

	afterHooks := append([]plugin.AfterPushHook(nil), deps.AfterPushHooks...)
	plugin.SortDescending(afterHooks, func(h plugin.AfterPushHook) int { return h.Priority() })
	for _, h := range afterHooks {
		if err := h.AfterPush(ctx, &req, pushResp); err != nil {
			log.Warn().Err(err).Str("outbox_id", commit.ID).Msg("afterPush hook error, commit still interpreted normally")
		}
	}

	return interpret(ctx, deps, commit, pushResp)
}

// send prefers the realtime channel when the transport supports it and
// accepts the push, falling back to the combined Sync call (§4.5, §4.7
// "WS push attempt before HTTP fallback").
func send(ctx context.Context, t transport.Transport, req transport.SyncRequest) (*transport.PushResponse, error) {
	if ws, ok := t.(transport.WSTransport); ok {
		resp, err := ws.PushViaWs(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}

	resp, err := t.Sync(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Push == nil {
		return nil, fmt.Errorf("sync response missing push half")
	}
	return resp.Push, nil
}

func interpret(ctx context.Context, deps Deps, commit *outbox.Commit, resp *transport.PushResponse) (*Result, error) {
	responseMap := pushResponseToMap(resp)

	switch resp.Status {
	case transport.PushApplied, transport.PushCached:
		var commitSeq int64
		if resp.CommitSeq != nil {
			commitSeq = *resp.CommitSeq
		}
		if err := deps.Outbox.MarkAcked(ctx, commit.ID, commitSeq, responseMap); err != nil {
			return nil, fmt.Errorf("mark acked: %w", err)
		}
		return &Result{Outcome: OutcomeAcked, OutboxCommitID: commit.ID, ClientCommitID: commit.ClientCommitID, CommitSeq: commitSeq}, nil

	case transport.PushRejected:
		retryAll, rejected := classifyRejection(commit, resp)
		if retryAll {
			if err := deps.Outbox.MarkPending(ctx, commit.ID, "all operations retriable", responseMap); err != nil {
				return nil, fmt.Errorf("mark pending: %w", err)
			}
			return &Result{Outcome: OutcomePending, OutboxCommitID: commit.ID, ClientCommitID: commit.ClientCommitID}, nil
		}

		if err := conflict.UpsertForRejectedCommit(ctx, deps.ConflictStore, rejected); err != nil {
			return nil, fmt.Errorf("capture conflicts: %w", err)
		}
		metrics.RecordConflict()
		if err := deps.Outbox.MarkFailed(ctx, commit.ID, "rejected", responseMap); err != nil {
			return nil, fmt.Errorf("mark failed: %w", err)
		}
		return &Result{Outcome: OutcomeFailed, OutboxCommitID: commit.ID, ClientCommitID: commit.ClientCommitID}, nil

	default:
		return nil, fmt.Errorf("push response: unknown status %q", resp.Status)
	}
}

// classifyRejection reports whether every non-applied result is marked
// retriable (§4.5 "all-retriable-errors -> pending"), and otherwise builds
// the RejectedCommit covering every non-applied result, retriable ones
// included.
func classifyRejection(commit *outbox.Commit, resp *transport.PushResponse) (retryAll bool, rc conflict.RejectedCommit) {
	retryAll = true
	for _, r := range resp.Results {
		if r.Status == transport.ResultApplied {
			continue
		}
		if r.Retriable == nil || !*r.Retriable {
			retryAll = false
		}
	}
	if retryAll {
		return true, conflict.RejectedCommit{}
	}

	var results []conflict.OperationResult
	for _, r := range resp.Results {
		if r.Status == transport.ResultApplied {
			continue
		}
		results = append(results, conflict.OperationResult{
			OpIndex:       r.OpIndex,
			Status:        conflict.ResultStatus(r.Status),
			Message:       r.Message,
			Code:          r.Code,
			ServerVersion: r.ServerVersion,
			ServerRow:     r.ServerRow,
		})
	}
	return false, conflict.RejectedCommit{
		OutboxCommitID: commit.ID,
		ClientCommitID: commit.ClientCommitID,
		Results:        results,
	}
}

func operationsToWire(ops []outbox.Operation) ([]map[string]any, error) {
	b, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("marshal operations: %w", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("unmarshal operations to wire shape: %w", err)
	}
	return out, nil
}

func pushResponseToMap(resp *transport.PushResponse) map[string]any {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
