package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	diagnosticshttp "github.com/localsync/syncengine/internal/diagnostics/http"
	"github.com/localsync/syncengine/internal/engine"
	"github.com/localsync/syncengine/internal/fingerprint"
	"github.com/localsync/syncengine/internal/inspector"
	"github.com/localsync/syncengine/internal/outbox"
	"github.com/localsync/syncengine/internal/store"
	"github.com/localsync/syncengine/internal/store/storetest"
	"github.com/localsync/syncengine/internal/subscription"
	"github.com/localsync/syncengine/internal/tablehandler"
	"github.com/localsync/syncengine/internal/transport"
)

type noopHandler struct{}

func (noopHandler) ApplySnapshot(ctx context.Context, batch tablehandler.SnapshotBatch) error {
	return nil
}
func (noopHandler) ApplyChange(ctx context.Context, tx store.Tx, change tablehandler.Change) error {
	return nil
}
func (noopHandler) ClearAll(ctx context.Context, scopes map[string]any) error         { return nil }

type fakeTransport struct{}

func (fakeTransport) Sync(ctx context.Context, req transport.SyncRequest) (*transport.SyncResponse, error) {
	resp := &transport.SyncResponse{}
	if req.Pull != nil {
		resp.Pull = &transport.PullResponse{OK: true}
	}
	return resp, nil
}
func (fakeTransport) FetchSnapshotChunk(ctx context.Context, chunkID string) ([]byte, error) {
	return nil, nil
}
func (fakeTransport) FetchSnapshotChunkStream(ctx context.Context, chunkID string) (io.ReadCloser, error) {
	return nil, nil
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	mem := storetest.New()
	registry := tablehandler.NewRegistry()
	require.NoError(t, registry.Register("items", noopHandler{}))

	return engine.New(engine.Config{PollInterval: time.Hour}, engine.Deps{
		ProfileID:     "11111111-1111-1111-1111-111111111111",
		ClientID:      "client-1",
		Store:         mem,
		Outbox:        outbox.New(mem),
		Subscriptions: subscription.New(mem),
		Registry:      registry,
		Fingerprints:  fingerprint.New(),
		Inspector:     inspector.New(inspector.DefaultCapacity),
		Transport:     fakeTransport{},
	})
}

func TestHealthz_AlwaysOK(t *testing.T) {
	e := newTestEngine(t)
	r := diagnosticshttp.NewRouter(diagnosticshttp.RouterDeps{Engine: e})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz_ReportsIdleStatus(t *testing.T) {
	e := newTestEngine(t)
	r := diagnosticshttp.NewRouter(diagnosticshttp.RouterDeps{Engine: e})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, string(engine.StatusIdle), body["status"])
}

func TestDiagnosticsEndpoint_NoAuthRequiredWhenVerifierNil(t *testing.T) {
	e := newTestEngine(t)
	r := diagnosticshttp.NewRouter(diagnosticshttp.RouterDeps{Engine: e})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/diagnostics/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap engine.Diagnostics
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, engine.StatusIdle, snap.Status)
}

func TestStateEndpoint_ReportsEnabledAndNotSyncing(t *testing.T) {
	e := newTestEngine(t)
	r := diagnosticshttp.NewRouter(diagnosticshttp.RouterDeps{Engine: e})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/diagnostics/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var s engine.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	require.True(t, s.Enabled)
	require.False(t, s.IsSyncing)
	require.Nil(t, s.Error)
}

func TestInspectorEndpoint_ReturnsRecordedEvents(t *testing.T) {
	ring := inspector.New(inspector.DefaultCapacity)
	ring.Record("sync:started", map[string]string{"reason": "test"})

	e := newTestEngine(t)
	r := diagnosticshttp.NewRouter(diagnosticshttp.RouterDeps{Engine: e, Inspector: ring})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/diagnostics/inspector")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []inspector.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 1)
	require.Equal(t, "sync:started", events[0].Name)
}

func TestProgressEndpoint_ReturnsEmptyWithNoSubscriptions(t *testing.T) {
	e := newTestEngine(t)
	r := diagnosticshttp.NewRouter(diagnosticshttp.RouterDeps{Engine: e})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/diagnostics/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p engine.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	require.Empty(t, p.Subscriptions)
}
