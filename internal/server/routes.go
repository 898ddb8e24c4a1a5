package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket routes
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)
	mux.HandleFunc("/vnc-stream/", s.handleVNCStreamRoute)

	// API routes - Applications
	mux.HandleFunc("/api/applications", s.app.ApplicationHandler.StartHandler) // POST - start a batch
	mux.HandleFunc("/api/applications/", s.handleApplicationRoutes)            // GET/DELETE /{id}, POST /{id}/jobs/{job}/submitted

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleApplicationRoutes routes /api/applications/{batch_id}[...] requests
func (s *Server) handleApplicationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/applications/")
	if rest == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")

	// /api/applications/{batch_id}
	if len(parts) == 1 {
		switch r.Method {
		case "GET":
			s.app.ApplicationHandler.StatusHandler(w, r, parts[0])
		case "DELETE":
			s.app.ApplicationHandler.CloseHandler(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	// /api/applications/{batch_id}/jobs/{job_id}/submitted
	if len(parts) == 4 && parts[1] == "jobs" && parts[3] == "submitted" {
		s.app.ApplicationHandler.MarkSubmittedHandler(w, r, parts[0], parts[2])
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}

// handleVNCStreamRoute routes /vnc-stream/{session_id} requests
func (s *Server) handleVNCStreamRoute(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/vnc-stream/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	s.app.VNCStreamHandler.StreamHandler(w, r, sessionID)
}
