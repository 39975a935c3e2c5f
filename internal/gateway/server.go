// Package gateway exposes the HTTP API and the WebSocket event feed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/fichabot/internal/config"
	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/logging"
	"github.com/soyeahso/fichabot/internal/session"
)

// MessageHandler processes user messages and session commands.
type MessageHandler interface {
	HandleMessage(ctx context.Context, userID, text string) []domain.ActionResult
	CloseSession(ctx context.Context, userID string) bool
	UpdateCredentials(ctx context.Context, userID string, creds domain.Credentials) error
}

// StatsProvider yields the session pool snapshot.
type StatsProvider interface {
	Stats() session.Stats
}

// Server is the fichabot HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	handler  MessageHandler
	stats    StatsProvider
	log      *logging.Logger
	clients  *ClientRegistry
	eventSeq atomic.Int64

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New creates a gateway server.
func New(cfg config.Config, handler MessageHandler, stats StatsProvider, log *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		stats:   stats,
		log:     log.Sub("gateway"),
		clients: NewClientRegistry(log.Sub("clients")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The feed carries no user input; origin checks add nothing.
				return true
			},
		},
	}
}

// PublishSessionEvent broadcasts a pool lifecycle event to feed clients.
// Wire this as the pool's EventFunc.
func (s *Server) PublishSessionEvent(ev session.Event) {
	s.clients.Broadcast(EventFrame{
		Event:   ev.Type,
		Seq:     s.eventSeq.Add(1),
		Time:    ev.Time,
		Payload: map[string]string{"userId": ev.UserID},
	})
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := withMiddleware(mux, s.log, s.cfg.Gateway.AuthToken)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Bool("auth", s.cfg.Gateway.AuthToken != "").
		Msg("gateway server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("POST /close-session/{userId}", s.handleCloseSession)
	mux.HandleFunc("PUT /credentials/{userId}", s.handleCredentials)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("/", handleNotFound)
}

// handleWebSocket upgrades the connection and keeps it subscribed to the
// event feed until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, s.log.Sub("ws"))
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	// The feed is one-way; reading only serves to notice the close.
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("feed read ended")
			}
			return
		}
	}
}
