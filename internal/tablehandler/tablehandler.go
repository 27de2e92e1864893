// Package tablehandler re-architects the dynamic-dispatch-by-string-name
// pattern as a typed interface plus a name-keyed registry (spec §9): never
// execute SQL composed from an unvalidated table name.
package tablehandler

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/localsync/syncengine/internal/store"
)

// identifierPattern is the whitelist every table/column name is checked
// against before it is allowed anywhere near a composed SQL statement.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to compose into SQL.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Change is one applyChange input (spec §4.4 step 6).
type Change struct {
	CommitSeq int64
	ActorID   string
	CreatedAt string
	Table     string
	RowID     string
	Op        string
	RowJSON   map[string]any
	RowVersion *int64
	Scopes    map[string]any
}

// SnapshotBatch is one applySnapshot call's input (spec §4.4.1).
type SnapshotBatch struct {
	Rows        []map[string]any
	IsFirstPage bool
	IsLastPage  bool
}

// TableHandler is implemented by application code for each table it wants
// the sync engine to apply snapshots/changes into. ApplyChange takes the
// enclosing store.Tx so the row write and the caller's outbox/subscription
// writes commit or roll back together (spec §4.4 step 6, §4.8 "one local
// transaction").
type TableHandler interface {
	ApplySnapshot(ctx context.Context, batch SnapshotBatch) error
	ApplyChange(ctx context.Context, tx store.Tx, change Change) error
	ClearAll(ctx context.Context, scopes map[string]any) error
}

// StartStopper is the optional pair of bootstrap-page hooks.
type StartStopper interface {
	OnSnapshotStart(ctx context.Context) error
	OnSnapshotEnd(ctx context.Context) error
}

// ErrUnknownTable is returned for any table name absent from the registry.
type ErrUnknownTable struct{ Table string }

func (e *ErrUnknownTable) Error() string { return fmt.Sprintf("tablehandler: unknown table %q", e.Table) }

// ErrInvalidIdentifier is returned when a table name fails the identifier
// whitelist, before it is ever registered or looked up.
type ErrInvalidIdentifier struct{ Name string }

func (e *ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("tablehandler: invalid identifier %q", e.Name)
}

// Registry maps table names to their handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]TableHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]TableHandler{}}
}

// Register adds a handler for table, rejecting names that fail the
// identifier whitelist before they can ever reach a SQL statement.
func (r *Registry) Register(table string, h TableHandler) error {
	if !ValidIdentifier(table) {
		return &ErrInvalidIdentifier{Name: table}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[table] = h
	return nil
}

// Get looks up the handler for table, returning ErrUnknownTable if absent.
func (r *Registry) Get(table string) (TableHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[table]
	if !ok {
		return nil, &ErrUnknownTable{Table: table}
	}
	return h, nil
}

// Tables returns the registered table names.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
