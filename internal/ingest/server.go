// internal/ingest/server.go
package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/deskhand/internal/audit"
	"github.com/user/deskhand/internal/types"
	"github.com/user/deskhand/internal/vault"
)

// Server accepts work items over HTTP for sources that push instead of
// being polled.
type Server struct {
	store types.Store
	log   *audit.Logger
	agent types.AgentID
	mux   *http.ServeMux
}

// NewServer creates the ingest HTTP server.
func NewServer(store types.Store, log *audit.Logger, agent types.AgentID) *Server {
	s := &Server{
		store: store,
		log:   log,
		agent: agent,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /items", s.handleItem)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// itemRequest is the JSON body for POST /items.
type itemRequest struct {
	Type     string            `json:"type"`
	Source   string            `json:"source"`
	Priority string            `json:"priority"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Source == "" || req.Body == "" {
		http.Error(w, `{"error":"source and body are required"}`, http.StatusBadRequest)
		return
	}

	item := &types.WorkItem{
		ID:        types.NewItemID(),
		Type:      itemType(req.Type),
		Source:    req.Source,
		Priority:  priority(req.Priority),
		CreatedAt: time.Now().UTC(),
		Body:      req.Body,
		Metadata:  req.Metadata,
	}
	if item.Type == types.ItemEmail {
		item.Body = NormalizeBody(item.Body)
	}

	if err := s.store.Put(r.Context(), vault.BucketIncoming, string(item.ID)+".json", item); err != nil {
		slog.Error("store pushed item", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	s.log.Record(audit.Entry{
		Actor:  string(s.agent),
		Action: "ingest_item",
		Target: string(item.ID),
		Result: "success",
		Params: map[string]any{"watcher": "http", "type": string(item.Type)},
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": string(item.ID)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if raw, err := s.store.GetRaw(r.Context(), vault.BucketStatus, "health.json"); err == nil {
		w.Write(raw)
		return
	}

	// No snapshot yet; report live bucket counts.
	counts := map[string]int{}
	for _, bucket := range []string{
		vault.BucketIncoming, vault.BucketPendingApproval, vault.BucketLoops,
		vault.BucketRecoveryQueue, vault.BucketQuarantine,
	} {
		if names, err := s.store.List(r.Context(), bucket); err == nil {
			counts[bucket] = len(names)
		}
	}
	json.NewEncoder(w).Encode(counts)
}
