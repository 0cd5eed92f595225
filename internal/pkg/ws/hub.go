package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/internal/pkg/pubsub"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

var (
	ErrClientGone         = errors.New("client disconnected")
	ErrSubscriptionClosed = errors.New("notification subscription closed")
)

// Source opens a notification subscription for one task.
type Source interface {
	Subscribe(ctx context.Context, taskID string) (*pubsub.Subscription, error)
}

// Hub tracks open push connections by task id. A task may be watched by
// several connections (tabs, reconnects).
type Hub struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	log     *zap.Logger
}

type Client struct {
	TaskID string
	UserID string
	Conn   *websocket.Conn
	mu     sync.Mutex // serializes writes
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		log:     log,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.TaskID] == nil {
		h.clients[client.TaskID] = make(map[*Client]struct{})
	}
	h.clients[client.TaskID][client] = struct{}{}
	h.log.Debug("push client connected",
		zap.String("task_id", client.TaskID),
		zap.Int("task_conns", len(h.clients[client.TaskID])))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[client.TaskID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.clients, client.TaskID)
		}
	}
	h.log.Debug("push client disconnected", zap.String("task_id", client.TaskID))
}

// IsWatching reports whether any connection waits on taskID.
func (h *Hub) IsWatching(taskID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns, ok := h.clients[taskID]
	return ok && len(conns) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.clients {
		total += len(conns)
	}
	return total
}

// CloseAll sends a going-away close frame to every connection and closes it.
// Serve then unwinds each one through its normal cleanup.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0)
	for _, conns := range h.clients {
		for c := range conns {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutting down")
		c.Conn.Close()
	}
}

// Serve relays the terminal notification of client.TaskID to the client and
// returns when the event was delivered, the client went away, the
// subscription failed, or ctx ended. The subscription, hub entry and
// connection are released on every path.
func (h *Hub) Serve(ctx context.Context, client *Client, src Source) error {
	log := h.log.With(zap.String("task_id", client.TaskID), zap.String("user_id", client.UserID))

	sub, err := src.Subscribe(ctx, client.TaskID)
	if err != nil {
		log.Error("subscribe failed", zap.Error(err))
		client.close(websocket.CloseInternalServerErr, "subscription failed")
		client.Conn.Close()
		return err
	}

	h.Register(client)
	defer func() {
		sub.Close()
		h.Unregister(client)
		client.Conn.Close()
	}()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := client.Conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			client.close(websocket.CloseGoingAway, "server shutting down")
			return ctx.Err()
		case <-gone:
			return ErrClientGone
		case <-ping.C:
			if err := client.ping(); err != nil {
				return ErrClientGone
			}
		case ev, ok := <-sub.Events():
			if !ok {
				client.close(websocket.CloseInternalServerErr, "notification channel closed")
				return ErrSubscriptionClosed
			}
			if err := client.WriteJSON(ev); err != nil {
				log.Warn("failed to deliver notification", zap.Error(err))
				return err
			}
			client.close(websocket.CloseNormalClosure, "task finished")
			return nil
		}
	}
}

// Deliver sends an event that is already known, for a task that finished
// before the client connected, and closes the connection.
func (h *Hub) Deliver(client *Client, ev *pubsub.Event) error {
	defer client.Conn.Close()
	if err := client.WriteJSON(ev); err != nil {
		return err
	}
	client.close(websocket.CloseNormalClosure, "task finished")
	return nil
}

func (c *Client) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

func (c *Client) ping() error {
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Client) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
