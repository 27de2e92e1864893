// Package http exposes the engine's debug surface: liveness/readiness
// probes, the Prometheus scrape endpoint, and the diagnostics/inspector/
// progress snapshots UIs poll while developing against the engine (spec §7).
// Grounded on join-service's internal/transport/rest/router.go.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/localsync/syncengine/internal/engine"
	"github.com/localsync/syncengine/internal/inspector"
	"github.com/localsync/syncengine/internal/metrics"
	"github.com/localsync/syncengine/internal/security"
	"github.com/localsync/syncengine/internal/transport/rest"
)

// RouterDeps bundles the collaborators the diagnostics router needs.
type RouterDeps struct {
	Engine    *engine.Engine
	Inspector *inspector.Ring

	// Verifier is nil in local/dev deployments; the auth middleware is then
	// a no-op, mirroring join-service's optional guard.
	Verifier  security.AccessTokenVerifier
	JWTIssuer string
}

// NewRouter builds the diagnostics HTTP surface.
func NewRouter(d RouterDeps) http.Handler {
	if d.Engine == nil {
		panic("diagnostics/http.NewRouter: nil engine")
	}

	r := chi.NewRouter()

	r.Use(rest.RequestID)
	r.Use(rest.HTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(rest.SecurityHeaders)

	r.Get("/healthz", healthzHandler)
	r.Get("/readyz", readyzHandler(d.Engine))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/diagnostics", func(r chi.Router) {
		r.Use(rest.AuthMiddleware(d.Verifier, rest.AuthOptions{ExpectedIssuer: d.JWTIssuer}))

		r.Get("/", diagnosticsHandler(d.Engine))
		r.Get("/state", stateHandler(d.Engine))
		r.Get("/inspector", inspectorHandler(d.Inspector))
		r.Get("/progress", progressHandler(d.Engine))
	})

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyzHandler reports not-ready once the engine has disabled itself after
// exhausting its retry budget (spec §4.7 "StatusDisabled").
func readyzHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := e.Status()
		if status == engine.StatusDisabled {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": string(status)})
			return
		}
		render.JSON(w, r, map[string]string{"status": string(status)})
	}
}

func diagnosticsHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		snap, err := e.Diagnostics(ctx)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}
		render.JSON(w, r, snap)
	}
}

// stateHandler renders the full "Engine state" data model (spec §3), the
// surface a UI store binds to directly rather than the HTTP-debug-oriented
// Diagnostics snapshot.
func stateHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		state, err := e.State(ctx)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}
		render.JSON(w, r, state)
	}
}

func inspectorHandler(ring *inspector.Ring) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ring == nil {
			render.JSON(w, r, []inspector.Event{})
			return
		}
		render.JSON(w, r, ring.Snapshot())
	}
}

func progressHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		p, err := e.Progress(ctx)
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}
		render.JSON(w, r, p)
	}
}
