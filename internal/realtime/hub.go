package realtime

import (
	"context"

	"go.uber.org/zap"
)

// connGauge receives connected-client deltas.
type connGauge interface {
	RealtimeConnected(delta int)
}

type envelope struct {
	recipient string
	payload   []byte
}

// Hub tracks websocket clients by recipient key and routes payloads to them.
// All client state is owned by the Run goroutine.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	deliver    chan envelope
	done       chan struct{}
	gauge      connGauge
	logger     *zap.Logger
}

// NewHub constructs a hub. gauge may be nil.
func NewHub(gauge connGauge, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan envelope, 256),
		done:       make(chan struct{}),
		gauge:      gauge,
		logger:     logger,
	}
}

// Run processes registrations and deliveries until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					h.drop(c)
				}
			}
			h.logger.Info("realtime hub stopped")
			return
		case c := <-h.register:
			set, ok := h.clients[c.recipient]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.recipient] = set
			}
			set[c] = struct{}{}
			h.adjust(1)
			h.logger.Debug("realtime client connected", zap.String("recipient", c.recipient))
		case c := <-h.unregister:
			h.drop(c)
		case env := <-h.deliver:
			for c := range h.clients[env.recipient] {
				select {
				case c.send <- env.payload:
				default:
					h.logger.Warn("realtime client too slow, disconnecting", zap.String("recipient", c.recipient))
					h.drop(c)
				}
			}
		}
	}
}

// Deliver queues payload for every local client of recipient. It never blocks; a full queue drops the payload.
func (h *Hub) Deliver(recipient string, payload []byte) bool {
	select {
	case h.deliver <- envelope{recipient: recipient, payload: payload}:
		return true
	default:
		h.logger.Warn("realtime delivery queue full", zap.String("recipient", recipient))
		return false
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) drop(c *Client) {
	set, ok := h.clients[c.recipient]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.recipient)
	}
	close(c.send)
	h.adjust(-1)
	h.logger.Debug("realtime client disconnected", zap.String("recipient", c.recipient))
}

func (h *Hub) adjust(delta int) {
	if h.gauge != nil {
		h.gauge.RealtimeConnected(delta)
	}
}
