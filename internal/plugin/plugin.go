// Package plugin defines the extension points the push and pull engines
// run hooks through, and the fixed priority-ordering rule each hook kind
// follows (spec §9 "Plugin ordering").
package plugin

import (
	"context"
	"sort"

	"github.com/localsync/syncengine/internal/transport"
)

// DefaultPriority is used when a plugin does not set one explicitly.
const DefaultPriority = 50

// BeforePushHook transforms a push request before it is sent. Returning an
// error returns the claimed commit to pending and rethrows (spec §4.5).
type BeforePushHook interface {
	Priority() int
	BeforePush(ctx context.Context, req *transport.SyncRequest) error
}

// AfterPushHook observes/transforms a push response after the transport
// call returns.
type AfterPushHook interface {
	Priority() int
	AfterPush(ctx context.Context, req *transport.SyncRequest, resp *transport.PushResponse) error
}

// AfterPullHook observes a pull response before it is applied. Its mere
// presence changes the snapshot materialization strategy (§4.4.1) and
// forces WS-delivered changes through a full sync instead of inline apply
// (§4.7 "WS inline-apply fast path").
type AfterPullHook interface {
	Priority() int
	AfterPull(ctx context.Context, resp *transport.PullResponse) error
}

// BeforeApplyLocalMutationsHook runs before the mutation recorder writes
// local rows.
type BeforeApplyLocalMutationsHook interface {
	Priority() int
	BeforeApplyLocalMutations(ctx context.Context, ops []map[string]any) error
}

// SortAscending sorts hooks by priority, low-to-high, stable on ties. Used
// for beforePush, afterPull, and beforeApplyLocalMutations.
func SortAscending[T any](hooks []T, priority func(T) int) {
	sort.SliceStable(hooks, func(i, j int) bool { return priority(hooks[i]) < priority(hooks[j]) })
}

// SortDescending sorts hooks by priority, high-to-low, stable on ties.
// Used for afterPush.
func SortDescending[T any](hooks []T, priority func(T) int) {
	sort.SliceStable(hooks, func(i, j int) bool { return priority(hooks[i]) > priority(hooks[j]) })
}
