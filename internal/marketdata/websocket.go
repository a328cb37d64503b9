package marketdata

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketServer broadcasts every Quote and Trade published on a
// Publisher to any number of connected WebSocket clients.
type WebSocketServer struct {
	upgrader websocket.Upgrader
	logger   *logrus.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewWebSocketServer creates a server that upgrades any incoming HTTP
// request to a WebSocket connection and registers it as a broadcast
// target. logger may be nil, in which case logrus.StandardLogger is used.
func NewWebSocketServer(logger *logrus.Logger) *WebSocketServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebSocketServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP implements http.Handler, upgrading the connection and keeping
// it registered until the client disconnects.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("marketdata: websocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Drain and discard anything the client sends; this server is
	// broadcast-only. The read loop exists solely to detect disconnects.
	go func() {
		defer s.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *WebSocketServer) remove(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
	conn.Close()
}

// Run subscribes to pub and broadcasts every Quote and Trade to all
// connected clients until quotes and trades are both closed.
func (s *WebSocketServer) Run(pub *Publisher) {
	quotes := pub.SubscribeQuotes()
	trades := pub.SubscribeTrades()

	go func() {
		for q := range quotes {
			s.broadcast(envelope{Type: "quote", Payload: q})
		}
	}()
	go func() {
		for t := range trades {
			s.broadcast(envelope{Type: "trade", Payload: t})
		}
	}()
}

type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (s *WebSocketServer) broadcast(e envelope) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.WithError(err).Error("marketdata: failed to marshal broadcast")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			go s.remove(conn)
		}
	}
}
