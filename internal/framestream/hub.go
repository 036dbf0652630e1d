package framestream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/deskdup/internal/duplication"
	"github.com/breeze-rmm/deskdup/internal/logging"
	"github.com/breeze-rmm/deskdup/internal/workerpool"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Config holds hub limits.
type Config struct {
	MaxViewers int
	QueueSize  int
}

type message struct {
	kind int
	data []byte
}

// Hub fans captured frames out to websocket viewers. Each viewer has its own
// bounded queue; a viewer that falls behind loses frames without slowing the
// others or the capture loop.
type Hub struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
	snapshot *workerpool.Pool
	status   func() any

	mu      sync.RWMutex
	viewers map[*viewer]struct{}
	latest  []byte
	closed  bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub. snapshots bounds concurrent PNG encodes for
// /snapshot.png; status supplies the body of /healthz.
func NewHub(cfg Config, snapshots *workerpool.Pool, status func() any) *Hub {
	if cfg.MaxViewers < 1 {
		cfg.MaxViewers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	return &Hub{
		cfg:      cfg,
		log:      logging.L("framestream"),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 64 * 1024},
		snapshot: snapshots,
		status:   status,
		viewers:  make(map[*viewer]struct{}),
	}
}

// Handler returns the HTTP routes served by the hub.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /frames", h.serveFrames)
	mux.HandleFunc("GET /snapshot.png", h.serveSnapshot)
	mux.HandleFunc("GET /healthz", h.serveHealth)
	return mux
}

// Publish consumes a capture result. It has the duplication.FrameHandler
// signature and takes ownership of the frame.
func (h *Hub) Publish(res duplication.CaptureResult) {
	var msg message
	if res.Status == duplication.StatusSuccess && res.Frame != nil {
		msg = message{kind: websocket.BinaryMessage, data: EncodeFrame(res.Frame)}
		res.Frame.Release()
	} else {
		data, err := json.Marshal(res)
		if err != nil {
			h.log.Warn("failed to marshal status", logging.KeyError, err)
			return
		}
		msg = message{kind: websocket.TextMessage, data: data}
	}
	h.published.Add(1)

	h.mu.Lock()
	if msg.kind == websocket.BinaryMessage {
		h.latest = msg.data
	}
	viewers := make([]*viewer, 0, len(h.viewers))
	for v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.Unlock()

	for _, v := range viewers {
		if !v.enqueue(msg) {
			h.dropped.Add(1)
		}
	}
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Stats is reported under "stream" in /healthz.
type Stats struct {
	Viewers   int    `json:"viewers"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`

	Snapshots workerpool.Stats `json:"snapshots"`
}

func (h *Hub) Stats() Stats {
	st := Stats{Viewers: h.Viewers(), Published: h.published.Load(), Dropped: h.dropped.Load()}
	if h.snapshot != nil {
		st.Snapshots = h.snapshot.Stats()
	}
	return st
}

// Close disconnects every viewer. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	viewers := h.viewers
	h.viewers = make(map[*viewer]struct{})
	h.mu.Unlock()
	for v := range viewers {
		v.close()
	}
}

func (h *Hub) serveFrames(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.viewers) >= h.cfg.MaxViewers
	closed := h.closed
	h.mu.RUnlock()
	if closed || full {
		http.Error(w, "too many viewers", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.KeyError, err)
		return
	}

	v := newViewer(conn, h.cfg.QueueSize, h.log.With("remote", r.RemoteAddr))
	h.mu.Lock()
	if h.closed || len(h.viewers) >= h.cfg.MaxViewers {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many viewers"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.viewers[v] = struct{}{}
	h.mu.Unlock()
	v.log.Info("viewer connected")

	go v.writePump()
	v.readPump()

	h.mu.Lock()
	delete(h.viewers, v)
	h.mu.Unlock()
	v.close()
	v.log.Info("viewer disconnected")
}

var errNoFrame = errors.New("no frame captured yet")

func (h *Hub) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	latest := h.latest
	h.mu.RUnlock()
	if latest == nil {
		http.Error(w, errNoFrame.Error(), http.StatusServiceUnavailable)
		return
	}

	type result struct {
		png []byte
		err error
	}
	done := make(chan result, 1)
	ok := h.snapshot.Submit(func(ctx context.Context) {
		if ctx.Err() != nil {
			done <- result{err: ctx.Err()}
			return
		}
		b, err := encodePNG(latest)
		done <- result{png: b, err: err}
	})
	if !ok {
		http.Error(w, "snapshot encoder busy", http.StatusServiceUnavailable)
		return
	}

	select {
	case res := <-done:
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(res.png)
	case <-r.Context().Done():
	}
}

func encodePNG(msg []byte) ([]byte, error) {
	width, height, pix, err := DecodeFrame(msg)
	if err != nil {
		return nil, err
	}
	img := &image.RGBA{Pix: pix, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Hub) serveHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"stream": h.Stats()}
	if h.status != nil {
		body["capture"] = h.status()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
