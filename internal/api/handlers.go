package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nispor/censorate/internal/role"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_sec": int(time.Since(s.startedAt).Seconds()),
	})
}

type pluginView struct {
	Name  string      `json:"name"`
	Roles []role.Role `json:"roles"`
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.Snapshot()
	names := snap.AllPluginNames()
	out := make([]pluginView, 0, len(names))
	for _, name := range names {
		var roles []role.Role
		for _, rl := range role.All() {
			if contains(snap.RoleMembers(rl), name) {
				roles = append(roles, rl)
			}
		}
		out = append(out, pluginView{Name: name, Roles: roles})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func contains(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}

func (s *Server) handleQueueDepth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]int{"depth": s.queue.Depth()})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("audit query failed: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, entries)
}

// handleEvents streams the Commander's workflow lifecycle log as
// server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
			flusher.Flush()
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
