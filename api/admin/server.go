// Package admin exposes the router's inspection and operator surface
// (spec.md §6): stats, dead-letter enumeration/drain, and forced agent
// deregistration, over a chi-routed HTTP server.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caxton-io/router/internal/tlsutil"
	"github.com/caxton-io/router/router"
	"github.com/caxton-io/router/types"
)

// Server serves the admin HTTP surface over core.
type Server struct {
	core *router.Core
	http *http.Server
}

// NewServer builds the admin HTTP handler. addr is the listen address.
// NewServer itself takes no TLS settings; whether the surface is served
// over TLS is decided by the certificate arguments given to ListenAndServe.
func NewServer(core *router.Core, addr string) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if core.Healthy() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if core.Ready() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", statsHandler(core))
		r.Get("/dlq", dlqListHandler(core))
		r.Post("/dlq/drain", dlqDrainHandler(core))
		r.Get("/conversations", conversationsHandler(core))
		r.Delete("/agents/{agentId}", deregisterHandler(core))
	})

	return &Server{
		core: core,
		http: &http.Server{
			Addr:      addr,
			Handler:   r,
			TLSConfig: tlsutil.DefaultTLSConfig(),
		},
	}
}

// ListenAndServe starts the server, serving TLS if certFile/keyFile are
// non-empty.
func (s *Server) ListenAndServe(certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		return s.http.ListenAndServeTLS(certFile, keyFile)
	}
	return s.http.ListenAndServe()
}

func (s *Server) Close() error { return s.http.Close() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statsHandler(core *router.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, core.GetStats())
	}
}

func dlqListHandler(core *router.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, core.DeadLetters())
	}
}

func dlqDrainHandler(core *router.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, core.DrainDeadLetters())
	}
}

func conversationsHandler(core *router.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, core.ListConversations())
	}
}

func deregisterHandler(core *router.Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "agentId")
		id, err := types.ParseAgentId(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid agent id"})
			return
		}
		if err := core.DeregisterAgent(id, true); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
