package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"callscan/internal/eventbus"

	"github.com/gorilla/websocket"
)

// --- WebSocket Hub ---

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.Mutex
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

var hub = &Hub{
	broadcast:  make(chan []byte),
	register:   make(chan *Client),
	unregister: make(chan *Client),
	clients:    make(map[*Client]bool),
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	hub.register <- client

	go func() {
		defer func() {
			hub.unregister <- client
			conn.Close()
		}()
		for {
			message, ok := <-client.send
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			w.Close()
		}
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// BroadcastMessage is the wire envelope for websocket pushes.
type BroadcastMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// runEventPump forwards pipeline events from the bus to connected websocket
// clients.
func (s *Server) runEventPump() {
	events := make(chan eventbus.Event, 256)
	for _, t := range []string{
		eventbus.TypeTranscriptAvailable,
		eventbus.TypeTranscriptUpcoming,
		eventbus.TypeAnalysisDone,
		eventbus.TypeAnalysisFailed,
		eventbus.TypeEmailSent,
		eventbus.TypeResearchDone,
	} {
		s.bus.Subscribe(t, events)
	}

	for evt := range events {
		payload := map[string]interface{}{
			"equity_id": evt.EquityID,
			"quarter":   evt.Quarter,
			"year":      evt.Year,
			"at":        evt.Timestamp,
		}
		if evt.GroupID != 0 {
			payload["group_id"] = evt.GroupID
		}
		if evt.Data != nil {
			payload["data"] = evt.Data
		}
		data, err := json.Marshal(BroadcastMessage{Type: evt.Type, Payload: payload})
		if err != nil {
			continue
		}
		hub.broadcast <- data
	}
}

func init() {
	go hub.run()
}
