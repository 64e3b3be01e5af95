// Package server exposes the viseme stream to renderer clients over a
// websocket feed.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/viseme"
)

// update is the wire payload pushed to renderer clients.
type update struct {
	Visemes   map[string]float64 `json:"visemes"`
	Timestamp int64              `json:"timestamp"`
}

// Server broadcasts viseme states to all connected websocket clients.
type Server struct {
	addr     string
	path     string
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*websocket.Conn

	httpServer *http.Server
}

// New creates a server listening on addr, serving the feed at path.
func New(addr, path string, logger zerolog.Logger) *Server {
	if path == "" {
		path = "/visemes"
	}
	return &Server{
		addr:   addr,
		path:   path,
		logger: logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*websocket.Conn),
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWS)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Str("path", s.path).Msg("viseme feed listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	s.logger.Info().Str("client", id).Msg("renderer client connected")

	// drain reads so we notice the close handshake
	go func() {
		defer s.remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	conn, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if ok {
		conn.Close()
		s.logger.Info().Str("client", id).Msg("renderer client disconnected")
	}
}

// Broadcast pushes one viseme state to every connected client. Slow or
// dead clients are dropped.
func (s *Server) Broadcast(state viseme.State) {
	payload := update{
		Visemes:   make(map[string]float64, len(state)),
		Timestamp: time.Now().UnixMilli(),
	}
	for k, v := range state {
		payload.Visemes[string(k)] = v
	}

	s.mu.RLock()
	targets := make(map[string]*websocket.Conn, len(s.conns))
	for id, c := range s.conns {
		targets[id] = c
	}
	s.mu.RUnlock()

	for id, conn := range targets {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			s.logger.Warn().Str("client", id).Err(err).Msg("dropping renderer client")
			s.remove(id)
		}
	}
}

// ClientCount returns the number of connected renderer clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
