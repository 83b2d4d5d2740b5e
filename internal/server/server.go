// Package server provides the HTTP server for the poetry camera.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ayusman/poetrycam/internal/server/api"
	"github.com/ayusman/poetrycam/internal/status"
	"github.com/ayusman/poetrycam/internal/store"
	"github.com/ayusman/poetrycam/internal/trigger"
)

// Controller is what the server needs from the app.
type Controller interface {
	api.Controller
	Previewer
}

// Config holds the server configuration. Handlers whose dependency is nil
// are not registered.
type Config struct {
	StaticDir string
	App       Controller
	Bus       *trigger.Bus
	Hub       *status.Hub
	Store     *store.Store
}

// Server represents the HTTP server for the poetry camera.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.App != nil && s.config.Bus != nil && s.config.Hub != nil {
		control := api.NewControlHandler(s.config.App, s.config.Bus, s.config.Hub)
		s.mux.HandleFunc("/api/status", control.Status)
		s.mux.HandleFunc("/api/trigger", control.Trigger)
		s.mux.HandleFunc("/api/mode", control.Mode)
	}

	if s.config.Store != nil {
		cycles := api.NewCycleHandler(s.config.Store)
		s.mux.Handle("/api/cycles", cycles)
		s.mux.Handle("/api/cycles/", cycles)
	}

	if s.config.App != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.App))
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/events", NewEventsHandler(s.config.Hub))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Hub != nil {
		cur := s.config.Hub.Current()
		response["state"] = cur.State
		response["degraded"] = cur.Degraded
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server: shutdown", "error", err)
		return err
	}
	slog.Info("server: stopped")
	return nil
}
