package rpcapi

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// subscribers fans out Broadcast calls to every currently-connected
// websocket client, dropping any connection that falls behind or errors
// rather than blocking the broadcaster on a slow reader.
type subscribers struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]chan []byte
}

func (s *Server) addSubscriber(conn *websocket.Conn) {
	s.subsOnce()
	ch := make(chan []byte, 64)

	s.subs.mu.Lock()
	s.subs.conns[conn] = ch
	s.subs.mu.Unlock()

	defer func() {
		s.subs.mu.Lock()
		delete(s.subs.conns, conn)
		s.subs.mu.Unlock()
		conn.Close()
	}()

	go func() {
		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// drain reads to detect client disconnects; this endpoint is
	// publish-only from the server's side.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(ch)
			return
		}
	}
}

func (s *Server) subsOnce() {
	s.subsInit.Do(func() {
		s.subs = &subscribers{conns: make(map[*websocket.Conn]chan []byte)}
	})
}

// Broadcast sends v, JSON-encoded, to every connected subscriber.
func (s *Server) Broadcast(v interface{}) {
	s.subsOnce()
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()
	for conn, ch := range s.subs.conns {
		select {
		case ch <- data:
		default:
			delete(s.subs.conns, conn)
			close(ch)
		}
	}
}
