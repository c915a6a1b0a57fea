// Package ws streams town state to websocket observers. Delivery is
// latest-state-wins: a slow client skips intermediate frames instead of
// building a backlog.
package ws

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tinytown.ai/internal/protocol"
)

type client struct {
	out chan []byte
}

// sendLatest delivers b, dropping the stale queued frame if the client has
// not consumed it yet.
func (c *client) sendLatest(b []byte) {
	select {
	case c.out <- b:
		return
	default:
	}
	select {
	case <-c.out:
	default:
	}
	select {
	case c.out <- b:
	default:
	}
}

type Server struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  []byte
}

func NewServer(logger *log.Logger) *Server {
	return &Server{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[*client]struct{}{},
	}
}

// PublishState fans the newest town state out to every connected observer.
// Called by the engine after each tick.
func (s *Server) PublishState(msg protocol.TownStateMsg) {
	b, err := protocol.Encode(msg)
	if err != nil {
		s.log.Printf("encode town state: %v", err)
		return
	}
	s.mu.Lock()
	s.latest = b
	for c := range s.clients {
		c.sendLatest(b)
	}
	s.mu.Unlock()
}

// ClientCount reports the number of connected observers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) register() *client {
	c := &client{out: make(chan []byte, 1)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	if s.latest != nil {
		c.sendLatest(s.latest)
	}
	s.mu.Unlock()
	return c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.register()
		defer s.unregister(c)

		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-done:
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop: observers send nothing meaningful; reading keeps the
		// connection's control frames flowing and detects disconnects.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		close(done)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
	}
}
