package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kyusang/termvisor/internal/supervisor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The desktop shell connects from its own origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// subscriber is one websocket client following one instance.
type subscriber struct {
	ch chan supervisor.Event
}

// hub fans the supervisor's single event channel out to per-instance
// websocket subscribers. A slow client drops events rather than stalling
// the pipeline or other clients.
type hub struct {
	sup *supervisor.Supervisor

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newHub(sup *supervisor.Supervisor) *hub {
	return &hub{sup: sup, subs: make(map[string]map[*subscriber]struct{})}
}

func (h *hub) run() {
	for ev := range h.sup.Events() {
		h.mu.Lock()
		for sub := range h.subs[ev.InstanceID] {
			select {
			case sub.ch <- ev:
			default:
			}
		}
		h.mu.Unlock()
	}
	// Event channel closed: the supervisor is gone, release everyone.
	h.mu.Lock()
	for _, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()
}

func (h *hub) subscribe(id string) *subscriber {
	sub := &subscriber{ch: make(chan supervisor.Event, 64)}
	h.mu.Lock()
	set, ok := h.subs[id]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[id] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) unsubscribe(id string, sub *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[id]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
	h.mu.Unlock()
}

// handleStream upgrades to a websocket carrying the instance's Data
// events as binary frames and its Exit as a close frame. Binary frames
// from the client are forwarded to the instance's input.
func (r *Router) handleStream(c *gin.Context) {
	id := c.Param("id")
	if _, ok := r.sup.Get(id); !ok {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown instance"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	sub := r.hub.subscribe(id)
	defer r.hub.unsubscribe(id, sub)
	defer func() { _ = conn.Close() }()

	// Input pump: client frames become terminal input.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := r.sup.Write(id, data); err != nil {
				slog.Warn("stream write failed", "instance", id, "error", err)
			}
		}
	}()

	for ev := range sub.ch {
		switch ev.Type {
		case supervisor.EventData:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, ev.Data); err != nil {
				return
			}
		case supervisor.EventExit:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "exit"),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}
