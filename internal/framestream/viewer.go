package framestream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// viewer is one websocket connection receiving frames.
type viewer struct {
	conn *websocket.Conn
	log  *slog.Logger
	send chan message

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newViewer(conn *websocket.Conn, queueSize int, log *slog.Logger) *viewer {
	return &viewer{
		conn: conn,
		log:  log,
		send: make(chan message, queueSize),
		done: make(chan struct{}),
	}
}

// enqueue queues msg without blocking. It returns false when the message
// was dropped because the queue is full or the viewer is gone.
func (v *viewer) enqueue(msg message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	select {
	case v.send <- msg:
		return true
	default:
		return false
	}
}

func (v *viewer) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	close(v.done)
	v.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	v.conn.Close()
}

// readPump discards viewer messages and keeps the read deadline alive. It
// returns when the connection fails or closes.
func (v *viewer) readPump() {
	v.conn.SetReadLimit(maxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.log.Warn("read error", "error", err)
			}
			return
		}
	}
}

func (v *viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-v.done:
			return

		case msg := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(msg.kind, msg.data); err != nil {
				v.log.Warn("write error", "error", err)
				v.conn.Close()
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				v.conn.Close()
				return
			}
		}
	}
}
