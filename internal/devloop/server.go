package devloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/assetstage/internal/config"
	"github.com/conneroisu/assetstage/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second
)

// Server previews the staging directory with live reload.
type Server struct {
	config  *config.Config
	hub     *Hub
	metrics http.Handler
	logger  logging.Logger

	router *chi.Mux
	server *http.Server
}

// NewServer creates the preview server. metrics may be nil, in which case
// /metrics is not routed.
func NewServer(cfg *config.Config, hub *Hub, metrics http.Handler, logger logging.Logger) *Server {
	s := &Server{
		config:  cfg,
		hub:     hub,
		metrics: metrics,
		logger:  logger.WithComponent("preview"),
		router:  chi.NewRouter(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.NoCache)

	s.router.Get("/health", s.handleHealth)
	if s.config.Development.LiveReload {
		s.router.Get(ReloadPath, s.handleReload)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics)
	}
	s.router.Get("/*", s.handleStaging)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Preview server listening", "url", "http://"+s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("preview server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.hub.Close()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"subscribers": s.hub.Subscribers(),
	})
}

// handleStaging serves files from staging. HTML documents get the reload
// client injected when live reload is on.
func (s *Server) handleStaging(w http.ResponseWriter, r *http.Request) {
	dir := s.config.StagingDir()
	rel := path.Clean("/" + chi.URLParam(r, "*"))
	if strings.HasSuffix(r.URL.Path, "/") || rel == "/" {
		rel = path.Join(rel, "index.html")
	}
	if path.Base(rel) == config.MarkerFile {
		http.NotFound(w, r)
		return
	}
	file := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(rel, "/")))

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
		return
	}
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if !s.config.Development.LiveReload || !strings.EqualFold(path.Ext(rel), ".html") {
		http.ServeFile(w, r, file)
		return
	}

	page, err := os.ReadFile(file)
	if err != nil {
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	page, err = InjectReload(r.Context(), page, ReloadScript(ReloadPath))
	if err != nil {
		s.logger.Error(r.Context(), err, "Reload injection failed", "path", rel)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// handleReload subscribes a browser to the hub and forwards every message.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost:*",
			"127.0.0.1:*",
			net.JoinHostPort(s.config.Server.Host, "*"),
		},
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub.ID)
	s.logger.Debug(r.Context(), "Reload client connected", "id", sub.ID)

	// CloseRead discards client frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Debug(ctx, "Reload client write failed", "id", sub.ID, "error", err.Error())
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
