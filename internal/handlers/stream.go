package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tether/internal/events"
)

// EventStream pushes bus events to WebSocket clients so frontends can
// react to device lifecycle changes without polling.
type EventStream struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan events.Event
	done chan struct{}
}

// NewEventStream creates the hub and subscribes it to every event on
// the bus.
func NewEventStream(bus *events.Bus) *EventStream {
	s := &EventStream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
	bus.Subscribe(s.broadcast)
	return s
}

// HandleConnection upgrades the request and streams events until the
// client goes away.
// GET /api/events/ws
func (s *EventStream) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan events.Event, 64),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()
	log.Printf("[WS] Client connected (%d active)", total)

	go s.writeLoop(client)
	s.readLoop(client)

	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
	close(client.done)
	log.Printf("[WS] Client disconnected")
}

// broadcast fans an event out to every client. A client whose queue is
// full loses the event rather than blocking the bus.
func (s *EventStream) broadcast(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- e:
		default:
		}
	}
}

// readLoop consumes client messages to keep the connection's read side
// healthy; clients are not expected to send anything but pongs.
func (s *EventStream) readLoop(client *streamClient) {
	defer client.conn.Close()

	client.conn.SetReadLimit(4 * 1024)
	client.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	}
}

// writeLoop serializes events and pings onto the connection.
func (s *EventStream) writeLoop(client *streamClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return
		case e := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteJSON(e); err != nil {
				client.conn.Close()
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(
				websocket.PingMessage, nil,
				time.Now().Add(10*time.Second),
			); err != nil {
				client.conn.Close()
				return
			}
		}
	}
}

// ActiveClients returns the number of connected stream clients.
func (s *EventStream) ActiveClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// CloseAll terminates all stream connections; used on shutdown.
func (s *EventStream) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		client.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(5*time.Second),
		)
		client.conn.Close()
		delete(s.clients, client)
	}
}
