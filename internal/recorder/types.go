// Package recorder implements the mutation recorder: the entry point
// application code calls to write a row, either through the local-then-
// server transactional path (apply locally now, push later) or the direct/
// stateless path (push only, no local row write) (spec §4.8).
package recorder

import (
	"context"

	"github.com/localsync/syncengine/internal/logger"
	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/plugin"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/tablehandler"
)

var log = logger.Component("recorder")

// VersionReader is an optional TableHandler extension a handler implements
// to let the recorder auto-read the current row version as the operation's
// baseVersion, rather than requiring the caller to track it (spec §4.8
// "baseVersion auto-read"). The read happens inside the same transaction as
// the write it guards.
type VersionReader interface {
	CurrentVersion(ctx context.Context, tx store.Tx, rowID string) (*int64, error)
}

// Deps bundles the collaborators the recorder needs. Store is the
// transactional handle RecordLocal opens one local transaction against, so
// the application-row write and the outbox enqueue commit or roll back
// together (spec §4.8).
type Deps struct {
	Store    store.Store
	Outbox   *outbox.Outbox
	Registry *tablehandler.Registry

	// BeforeApplyLocalMutationsHooks run, ordered ascending by priority,
	// before RecordLocal writes the row locally.
	BeforeApplyLocalMutationsHooks []plugin.BeforeApplyLocalMutationsHook
}

// Recorder is a thin facade pairing the local apply path with outbox
// enqueue.
type Recorder struct {
	deps Deps
}

func New(deps Deps) *Recorder {
	return &Recorder{deps: deps}
}
