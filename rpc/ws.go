package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"nftmarket/core/events"
	"nftmarket/core/types"
)

const (
	wsWriteTimeout     = 10 * time.Second
	defaultHubBuffer   = 64
	assetAttributeName = "assetId"
)

// EventHub fans committed market events out to websocket subscribers. A
// subscriber whose buffer is full misses events rather than stalling the
// engine.
type EventHub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	buffer int
}

type subscription struct {
	assetID string
	ch      chan *types.Event
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	return &EventHub{subs: make(map[uint64]*subscription), buffer: buffer}
}

// Emit implements events.Emitter.
func (h *EventHub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.assetID != "" && sub.assetID != payload.Attr(assetAttributeName) {
			continue
		}
		select {
		case sub.ch <- payload.Clone():
		default:
		}
	}
}

// Subscribe registers a listener. An empty asset id receives every event.
func (h *EventHub) Subscribe(assetID string) (<-chan *types.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	sub := &subscription{assetID: strings.TrimSpace(assetID), ch: make(chan *types.Event, h.buffer)}
	h.subs[id] = sub
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// SetEventHub enables the /ws/events stream.
func (s *Server) SetEventHub(hub *EventHub) {
	s.hub = hub
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	assetID := strings.TrimSpace(r.URL.Query().Get("assetId"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, assetID); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			s.logger.Debug("event stream ended", slog.String("error", err.Error()))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, assetID string) error {
	updates, cancel := s.hub.Subscribe(assetID)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-updates:
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
