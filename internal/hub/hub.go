// Package hub pushes live events to connected operator dashboards over
// websocket.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pranavkale07/ObserveX/internal/observability"
	"github.com/pranavkale07/ObserveX/internal/storage"
)

// Frame types delivered to subscribers.
const (
	FrameHistory      = "history"
	FrameNewAnomaly   = "new_anomaly"
	FrameMetricUpdate = "metric_update"
)

// frameBuffer is the per-subscriber queue depth. A subscriber that cannot
// drain it loses frames, not its connection.
const frameBuffer = 16

// Frame is the envelope every websocket message uses.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{
	// Operator connections are unauthenticated; the dashboard may be served
	// from any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber owns all writes to its connection through a single writer
// goroutine draining frames; websocket connections support one concurrent
// writer only.
type subscriber struct {
	id     string
	conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}
}

// Hub maintains the set of operator subscriptions. Delivery is best-effort:
// a subscriber that fails a write is closed and removed.
type Hub struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *observability.MetricsManager

	mu   sync.Mutex
	subs map[string]*subscriber
}

// New builds a hub replaying history from store. metrics may be nil.
func New(store storage.Store, logger *slog.Logger, metrics *observability.MetricsManager) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:   store,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]*subscriber),
	}
}

// HandleWS upgrades the request, replays the recent alert history and holds
// the connection open. Client messages are read and discarded; the channel
// is push-only. The subscriber joins the broadcast set only after the
// history frame is written, so the first frame is always history and no
// broadcast can race the history write.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}

	history, err := h.store.ListAlerts(r.Context(), "", storage.HistoryLimit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to load alert history", "error", err)
		history = nil
	}
	if history == nil {
		// The first frame is always sent, even when there is no history.
		history = []storage.StoredAlert{}
	}
	if err := conn.WriteJSON(Frame{Type: FrameHistory, Data: history}); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to send history frame", "error", err)
		conn.Close()
		return
	}

	id := uuid.NewString()
	h.register(id, conn)
	defer h.unregister(r.Context(), id)

	h.logger.InfoContext(r.Context(), "Operator subscribed",
		"subscriber", id,
		"history_len", len(history),
	)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast fans an event out to every subscriber. It queues onto each
// subscriber's frame channel and never writes a connection itself; a full
// queue drops the frame for that subscriber.
func (h *Hub) Broadcast(ctx context.Context, frameType string, data any) {
	frame := Frame{Type: frameType, Data: data}

	// Snapshot under the lock so a removal cannot invalidate the iteration.
	h.mu.Lock()
	subscribers := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subscribers = append(subscribers, sub)
	}
	h.mu.Unlock()

	for _, sub := range subscribers {
		select {
		case sub.frames <- frame:
		default:
			h.logger.InfoContext(ctx, "Subscriber queue full, dropping frame",
				"subscriber", sub.id,
				"frame_type", frameType,
			)
		}
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) register(id string, conn *websocket.Conn) {
	sub := &subscriber{
		id:     id,
		conn:   conn,
		frames: make(chan Frame, frameBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	go h.writeLoop(sub)

	if h.metrics != nil {
		h.metrics.AddBroadcastClients(context.Background(), 1)
	}
}

// writeLoop is the sole writer for one subscriber's connection.
func (h *Hub) writeLoop(sub *subscriber) {
	for {
		select {
		case frame := <-sub.frames:
			if err := sub.conn.WriteJSON(frame); err != nil {
				h.logger.Info("Dropping subscriber after failed delivery",
					"subscriber", sub.id,
					"error", err,
				)
				h.unregister(context.Background(), sub.id)
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (h *Hub) unregister(ctx context.Context, id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	close(sub.done)
	sub.conn.Close()
	if h.metrics != nil {
		h.metrics.AddBroadcastClients(ctx, -1)
	}
}
