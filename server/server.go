// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Scanner interface for triggering a reminder scan pass.
type Scanner interface {
	Scan(ctx context.Context) error
}

// Fanout interface for delivering a notice-created event.
type Fanout interface {
	Deliver(ctx context.Context, noticeID string)
}

// Counter interface for the unread-badge query.
type Counter interface {
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

// Server handles HTTP requests.
type Server struct {
	scanner Scanner
	fanout  Fanout
	counter Counter
	logger  *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Scanner Scanner
	Fanout  Fanout
	Counter Counter
	Logger  *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		scanner: cfg.Scanner,
		fanout:  cfg.Fanout,
		counter: cfg.Counter,
		logger:  cfg.Logger,
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/scanz", s.handleScan)
	mux.HandleFunc("/noticez", s.handleNotice)
	mux.HandleFunc("/unreadz", s.handleUnread)
	return mux
}

// ListenAndServe starts the server on the given port.
func (s *Server) ListenAndServe(port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

// handleScan triggers one reminder scan pass. Hit by the external scheduler
// in addition to the internal ticker; both paths are idempotent.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Scan endpoint triggered")

	if err := s.scanner.Scan(r.Context()); err != nil {
		s.logger.Error("Reminder scan failed", "error", err)
		http.Error(w, "Scan failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// handleNotice receives a notice-created event. Delivery may be repeated by
// the event platform; deterministic notification ids absorb redelivery, so
// this handler always acknowledges.
func (s *Server) handleNotice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var event struct {
		NoticeID string `json:"noticeId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if event.NoticeID == "" {
		http.Error(w, "noticeId is required", http.StatusBadRequest)
		return
	}

	s.logger.Info("Notice event received", "notice_id", event.NoticeID)
	s.fanout.Deliver(r.Context(), event.NoticeID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"accepted"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// handleUnread serves the notification badge count for one user.
func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	count, err := s.counter.UnreadCount(r.Context(), userID)
	if err != nil {
		s.logger.Error("Unread count failed", "user_id", userID, "error", err)
		http.Error(w, "Count failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, `{"unread":%d}`, count); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
