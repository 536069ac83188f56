// internal/webhook/server.go
package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/parley/internal/store"
	"github.com/user/parley/internal/types"
)

// Server exposes the producer API: enqueue answer tasks and inspect them.
type Server struct {
	tasks types.TaskStore
	mux   *http.ServeMux
}

func NewServer(tasks types.TaskStore) *Server {
	s := &Server{
		tasks: tasks,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /tasks", s.handleEnqueue)
	s.mux.HandleFunc("GET /tasks/", s.handleGetTask)
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

// enqueueRequest is the JSON body for POST /tasks.
type enqueueRequest struct {
	MessageID string   `json:"message_id"`
	Priority  *float64 `json:"priority"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.MessageID == "" {
		http.Error(w, `{"error":"message_id is required"}`, http.StatusBadRequest)
		return
	}

	priority := store.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	input, _ := json.Marshal(map[string]string{"message_id": req.MessageID})
	id, err := s.tasks.EnqueueTask(r.Context(), store.TaskClassAnswerGeneration, input, priority)
	if err != nil {
		if errors.Is(err, types.ErrValidation) {
			http.Error(w, `{"error":"invalid task"}`, http.StatusBadRequest)
			return
		}
		slog.Error("enqueue failed", "message_id", req.MessageID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"task_id": string(id)})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	task, err := s.tasks.GetTask(r.Context(), types.TaskID(id))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		slog.Error("get task failed", "task_id", id, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}
