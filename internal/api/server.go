// Package api exposes the swarm over HTTP. Operations are JSON-RPC
// style: POST /v1/rpc/{method} with a JSON body, JSON reply. A bearer
// token guards the surface when one is configured.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ShayCichocki/swarm/internal/config"
	"github.com/ShayCichocki/swarm/internal/orchestrator"
)

// Server serves the swarm API.
type Server struct {
	orch  *orchestrator.Orchestrator
	token string
	http  *http.Server
}

// NewServer creates an API server around a running orchestrator.
func NewServer(orch *orchestrator.Orchestrator, cfg config.ServerConfig) *Server {
	s := &Server{
		orch:  orch,
		token: cfg.AuthToken,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/rpc/{method}", s.auth(s.handleRPC))

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks serving the API until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Printf("[api] listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// auth enforces the bearer token when one is configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			header := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || got != s.token {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRPC dispatches one named operation.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	handler, ok := s.methods()[method]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_method", "no such method: "+method)
		return
	}

	result, err := handler(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type rpcHandler func(r *http.Request) (any, error)

func (s *Server) methods() map[string]rpcHandler {
	return map[string]rpcHandler{
		"create_agent":     s.createAgent,
		"deregister_agent": s.deregisterAgent,
		"list_agents":      s.listAgents,
		"get_agent_status": s.getAgentStatus,
		"delegate_task":    s.delegateTask,
		"delegate_batch":   s.delegateBatch,
		"get_task":         s.getTask,
		"list_tasks":       s.listTasks,
		"cancel_task":      s.cancelTask,
		"coordinate_team":  s.coordinateTeam,
		"disband_team":     s.disbandTeam,
		"list_conflicts":   s.listConflicts,
		"resolve_conflict": s.resolveConflict,
		"share_knowledge":  s.shareKnowledge,
		"list_knowledge":   s.listKnowledge,
		"store_memory":     s.storeMemory,
		"retrieve_memory":  s.retrieveMemory,
	}
}

// decode reads a JSON request body into dst.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}
