package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"PegVault/internal/engine"
	"PegVault/internal/observability"
)

// wsRecord is the record shape pushed to WebSocket subscribers.
type wsRecord struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Tick      int64           `json:"tick"`
	Price     int64           `json:"price"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
}

// Hub fans committed settlement records out to WebSocket clients. Slow
// clients lose records rather than slowing the hub; they can backfill from
// the history API.
type Hub struct {
	mu       sync.RWMutex
	subs     map[chan wsRecord]struct{}
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		subs:    make(map[chan wsRecord]struct{}),
		metrics: metrics,
		log:     observability.NewLogger("ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run drains the engine's outbound channel and broadcasts until the context
// is cancelled or the channel closes.
func (h *Hub) Run(ctx context.Context, input <-chan engine.Output) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-input:
			if !ok {
				return nil
			}
			h.broadcast(toWSRecord(out))
		}
	}
}

func toWSRecord(out engine.Output) wsRecord {
	env := out.Envelope
	return wsRecord{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Tick:      env.Tick,
		Price:     env.Price,
		Payload:   json.RawMessage(env.Payload),
		StateHash: hex.EncodeToString(env.StateHash[:]),
	}
}

func (h *Hub) broadcast(rec wsRecord) {
	h.mu.RLock()
	for ch := range h.subs {
		select {
		case ch <- rec:
		default:
		}
	}
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.WSBroadcasts.Inc()
	}
}

func (h *Hub) subscribe() chan wsRecord {
	ch := make(chan wsRecord, 100)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Inc()
	}
	return ch
}

func (h *Hub) unsubscribe(ch chan wsRecord) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Dec()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case rec, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
