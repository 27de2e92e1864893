// Package push implements the push engine: claiming the next outbox commit,
// running the plugin hooks around it, sending it over the transport, and
// interpreting the response back into outbox/conflict state (spec §4.5).
package push

import (
	"github.com/localsync/syncengine/internal/logger"
	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/plugin"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/transport"
)

var log = logger.Component("push")

// Deps bundles the collaborators pushOnce needs.
type Deps struct {
	Outbox        *outbox.Outbox
	ConflictStore store.ConflictStore
	Transport     transport.Transport
	BeforePushHooks []plugin.BeforePushHook
	AfterPushHooks  []plugin.AfterPushHook
	ClientID        string
}

// Outcome is the terminal disposition of one pushOnce call.
type Outcome string

const (
	OutcomeEmpty   Outcome = "empty"
	OutcomeAcked   Outcome = "acked"
	OutcomePending Outcome = "pending"
	OutcomeFailed  Outcome = "failed"
)

// Result summarizes one pushOnce call.
type Result struct {
	Outcome        Outcome
	OutboxCommitID string
	ClientCommitID string
	CommitSeq      int64
}
