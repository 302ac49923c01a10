package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/evpower/csms/internal/adapter/queue"
)

// Hub pushes charging-session and top-up events to connected app clients.
// Events arrive from the message queue; each client only sees events for its
// own client id.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan event
	register   chan *Client
	unregister chan *Client

	mu  sync.RWMutex
	log *zap.Logger
}

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

type event struct {
	subject string
	// clientID is empty for events addressed to everyone
	clientID string
	data     []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan event, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        log,
	}
}

// Attach subscribes the hub to the session and top-up event subjects.
// Call before Run.
func (h *Hub) Attach(mq queue.MessageQueue) error {
	subjects := []string{
		queue.SubjectSessionStarted,
		queue.SubjectSessionActive,
		queue.SubjectSessionStopped,
		queue.SubjectSessionExpired,
		queue.SubjectSessionFailed,
		queue.SubjectTopUpApproved,
	}
	for _, subject := range subjects {
		subject := subject
		if err := mq.Subscribe(subject, func(data []byte) error {
			h.Dispatch(subject, data)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch routes one queue payload to the owning client. The envelope sent to
// the socket carries the subject so the app can switch on it.
func (h *Hub) Dispatch(subject string, data []byte) {
	var addressed struct {
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(data, &addressed); err != nil {
		h.log.Warn("unparseable event payload", zap.String("subject", subject), zap.Error(err))
		return
	}

	envelope, err := json.Marshal(struct {
		Subject string          `json:"subject"`
		Payload json.RawMessage `json:"payload"`
	}{Subject: subject, Payload: data})
	if err != nil {
		return
	}

	select {
	case h.broadcast <- event{subject: subject, clientID: addressed.ClientID, data: envelope}:
	default:
		h.log.Warn("event dropped, hub backlog full", zap.String("subject", subject))
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if ev.clientID != "" && client.clientID != ev.clientID {
					continue
				}
				select {
				case client.send <- ev.data:
				default:
					// slow consumer, drop the socket rather than the event stream
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// AddClient takes over the connection and blocks until it closes, matching
// how gofiber/websocket handlers are expected to behave.
func (h *Hub) AddClient(conn *websocket.Conn, clientID string) {
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), clientID: clientID}
	client.hub.register <- client

	go client.writePump()
	client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		// clients never send data; the loop drains control frames
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
