package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is an operator-facing message, rendered as a toast by the dashboard.
type Notice struct {
	Level   Level          `json:"level"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

// Publisher accepts notices. Publishing never blocks.
type Publisher interface {
	Publish(n Notice)
}

const subscriberBuffer = 16

// Hub fans notices out to subscribers. Slow subscribers miss messages instead of stalling publishers.
type Hub struct {
	clients    map[chan Notice]struct{}
	register   chan chan Notice
	unregister chan chan Notice
	broadcast  chan Notice
	done       chan struct{}
	logger     *zap.Logger
}

var _ Publisher = (*Hub)(nil)

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[chan Notice]struct{}),
		register:   make(chan chan Notice),
		unregister: make(chan chan Notice),
		broadcast:  make(chan Notice, 256),
		done:       make(chan struct{}),
		logger:     logger.Named("notify"),
	}
}

// Run owns the subscriber set until ctx is done, then closes every subscriber channel.
// It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.logger.Debug("Notice subscriber connected", zap.Int("subscribers", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				h.logger.Debug("Notice subscriber disconnected", zap.Int("subscribers", len(h.clients)))
			}

		case n := <-h.broadcast:
			for client := range h.clients {
				select {
				case client <- n:
				default:
				}
			}
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be called
// when the subscriber goes away. If ctx ends or the hub has stopped first, the
// returned channel is already closed.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Notice, func()) {
	client := make(chan Notice, subscriberBuffer)
	select {
	case h.register <- client:
	case <-ctx.Done():
		close(client)
		return client, func() {}
	case <-h.done:
		close(client)
		return client, func() {}
	}

	return client, func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}
}

func (h *Hub) Publish(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	select {
	case h.broadcast <- n:
	default:
		h.logger.Warn("Notice dropped, broadcast buffer full", zap.String("title", n.Title))
	}
}
