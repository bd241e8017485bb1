package display

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/lgr"
)

const writeWait = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type frameMessage struct {
	Camera string `json:"camera"`
	Seq    uint64 `json:"seq"`
	Image  string `json:"image"`
}

// Hub broadcasts annotated frames to WebSocket viewers as base64 JPEG inside
// a small JSON envelope. Each viewer has its own writer goroutine, so a slow
// viewer only falls behind and never holds up Show.
type Hub struct {
	camera string

	mu      sync.Mutex
	clients map[*viewer]struct{}
}

// viewer holds at most one pending message; a newer frame replaces it.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func (v *viewer) enqueue(message []byte) {
	select {
	case v.send <- message:
		return
	default:
	}

	// Drop the stale pending frame
	select {
	case <-v.send:
	default:
	}

	select {
	case v.send <- message:
	default:
	}
}

func NewHub(camera string) *Hub {
	return &Hub{
		camera:  camera,
		clients: make(map[*viewer]struct{}),
	}
}

func (h *Hub) Show(frame model.Frame) error {
	h.mu.Lock()
	viewers := make([]*viewer, 0, len(h.clients))
	for v := range h.clients {
		viewers = append(viewers, v)
	}
	h.mu.Unlock()

	if len(viewers) == 0 {
		return nil
	}

	data, err := encodeJPEG(frame)
	if err != nil {
		return err
	}

	message, err := json.Marshal(frameMessage{
		Camera: h.camera,
		Seq:    frame.Seq,
		Image:  base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return err
	}

	for _, v := range viewers {
		v.enqueue(message)
	}
	return nil
}

func (h *Hub) Close() error {
	h.mu.Lock()
	viewers := make([]*viewer, 0, len(h.clients))
	for v := range h.clients {
		viewers = append(viewers, v)
	}
	h.mu.Unlock()

	for _, v := range viewers {
		_ = v.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		h.unregister(v)
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the viewer connection and keeps it registered until it
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lgr.Logger.Error("websocket upgrade failed", lgr.Err(err))
		return
	}

	v := h.register(conn)
	defer h.unregister(v)

	lgr.Logger.Info("websocket viewer connected", slog.String("remote", r.RemoteAddr))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				lgr.Logger.Info("websocket viewer disconnected", slog.String("remote", r.RemoteAddr))
			} else {
				lgr.Logger.Debug("websocket viewer read failed", slog.String("remote", r.RemoteAddr), lgr.Err(err))
			}
			return
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) *viewer {
	v := &viewer{
		conn: conn,
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[v] = struct{}{}
	h.mu.Unlock()

	go h.write(v)
	return v
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	_, ok := h.clients[v]
	delete(h.clients, v)
	h.mu.Unlock()

	if ok {
		close(v.done)
		v.conn.Close()
	}
}

func (h *Hub) write(v *viewer) {
	for {
		select {
		case <-v.done:
			return
		case message := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				lgr.Logger.Warn(
					"dropping websocket viewer",
					slog.String("remote", v.conn.RemoteAddr().String()),
					lgr.Err(err),
				)
				h.unregister(v)
				return
			}
		}
	}
}
