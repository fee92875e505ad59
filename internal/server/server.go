package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/lox/duelescrow/internal/auth"
	"github.com/lox/duelescrow/internal/escrow"
	"github.com/lox/duelescrow/internal/protocol"
)

// Server hosts the escrow rooms over websocket.
type Server struct {
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	rooms       *escrow.Manager
	validator   auth.Validator
	httpServer  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithValidator sets the oracle token validator.
func WithValidator(v auth.Validator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// NewServer creates a websocket server for the given room manager.
func NewServer(rooms *escrow.Manager, logger *log.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		upgrader: websocket.Upgrader{
			// Players connect from browser clients on other origins.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger.WithPrefix("server"),
		ctx:         ctx,
		cancel:      cancel,
		rooms:       rooms,
		validator:   auth.NewNoopValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

// Handler returns the HTTP handler serving /ws, /health and /stats.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting WebSocket server", "addr", addr)
	return srv.ListenAndServe()
}

// Shutdown stops accepting connections and closes existing ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close()
	}
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// run handles connection lifecycle
func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.connections[conn] = true
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client connected", "total", total)

		case conn := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.connections[conn]; ok {
				delete(s.connections, conn)
				_ = conn.Close()
			}
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client disconnected", "total", total)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, s, s.logger)
	select {
	case s.register <- client:
	case <-s.ctx.Done():
		_ = client.Close()
		return
	}
	client.Start()

	go func() {
		<-client.ctx.Done()
		select {
		case s.unregister <- client:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

// StatsResponse is the body of the /stats endpoint.
type StatsResponse struct {
	Connections int `json:"connections"`
	*escrow.Stats
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.rooms.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to collect stats", "error", err)
		http.Error(w, "failed to collect stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(StatsResponse{Connections: s.ConnectionCount(), Stats: stats}); err != nil {
		s.logger.Warn("Failed to write stats", "error", err)
	}
}

// BroadcastToRoom sends a message to every connection watching a room.
func (s *Server) BroadcastToRoom(roomID string, msg *protocol.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for conn := range s.connections {
		if conn.Watching(roomID) {
			if err := conn.SendMessage(msg); err != nil {
				s.logger.Error("Failed to send message to client", "error", err, "player", conn.Address().Short())
			} else {
				count++
			}
		}
	}

	s.logger.Debug("Broadcasted message to room", "room", roomID, "type", msg.Type, "recipients", count)
}

func (s *Server) notifyRoom(roomID string, msgType protocol.MessageType, data any) {
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		s.logger.Error("Failed to create room message", "type", msgType, "error", err)
		return
	}
	s.BroadcastToRoom(roomID, msg)
}

// Broadcast sends a message to every connection.
func (s *Server) Broadcast(msg *protocol.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn := range s.connections {
		_ = conn.SendMessage(msg)
	}
}

// broadcastOpenRooms pushes the open room listing to everyone, the way the
// lobby refreshes whenever a room is created or filled.
func (s *Server) broadcastOpenRooms() {
	rooms, err := s.rooms.ListRooms(s.ctx, escrow.StateOpen)
	if err != nil {
		s.logger.Error("Failed to list open rooms", "error", err)
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeRoomList, protocol.RoomListData{Rooms: s.roomInfos(rooms)})
	if err != nil {
		s.logger.Error("Failed to create room list message", "error", err)
		return
	}
	s.Broadcast(msg)
}

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
