// internal/websocket/hub.go
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"lostwheel-gateway/internal/data"
	"lostwheel-gateway/internal/metrics"
	"lostwheel-gateway/internal/session"
)

const broadcastBuffer = 1024

type directMessage struct {
	client  *Client
	message []byte
}

// Message is the envelope of everything sent to clients.
type Message struct {
	Type    string `json:"type"` // "sample", "status", "alert" or "history"
	Session string `json:"session,omitempty"`
	Payload any    `json:"payload"`
}

// Hub maintains the set of active clients and broadcasts messages.
// It is a session.Observer: samples and status changes of every session are
// forwarded to all clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte  // Channel for messages to broadcast
	register   chan *Client // Channel for registering clients
	unregister chan *Client // Channel for unregistering clients
	direct     chan directMessage
	log        *slog.Logger
	metrics    *metrics.Metrics
}

func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMessage, 16),
		clients:    make(map[*Client]bool),
		log:        log,
		metrics:    m,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client registered", slog.String("remote", client.remote()))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.log.Debug("websocket client unregistered", slog.String("remote", client.remote()))
			}

		case d := <-h.direct:
			if h.clients[d.client] {
				h.deliver(d.client, d.message)
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}
		}
	}
}

func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		// Assume client is blocked or gone, unregister
		h.log.Warn("websocket client send buffer full, removing", slog.String("remote", client.remote()))
		h.metrics.PublishDropped("websocket_client")
		close(client.Send)
		delete(h.clients, client)
	}
}

// SendTo queues a message for one registered client only. It is dropped if
// the client has already left.
func (h *Hub) SendTo(client *Client, message []byte) {
	select {
	case h.direct <- directMessage{client: client, message: message}:
	default:
		h.metrics.PublishDropped("websocket_hub")
	}
}

// RegisterClient safely registers a new client to the hub
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

// Encode marshals a message envelope.
func Encode(msgType, sessionID string, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Session: sessionID, Payload: payload})
}

func (h *Hub) send(msgType, sessionID string, payload any) {
	messageBytes, err := Encode(msgType, sessionID, payload)
	if err != nil {
		h.log.Error("marshal broadcast", slog.String("type", msgType), slog.Any("err", err))
		return
	}
	select {
	case h.broadcast <- messageBytes:
	default:
		h.metrics.PublishDropped("websocket_hub")
	}
}

func (h *Hub) ObserveSample(sessionID string, s data.Sample) {
	h.send("sample", sessionID, s)
}

func (h *Hub) ObserveStatus(st session.Status) {
	h.send("status", st.ID, st)
}

// BroadcastAlert sends an alert message to all clients
func (h *Hub) BroadcastAlert(alert data.Alert) {
	h.send("alert", alert.SessionID, alert)
}
