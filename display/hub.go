package display

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/nfnt/resize"

	"github.com/Tutortoise/stereo-depth-service/logger"
	"github.com/Tutortoise/stereo-depth-service/models"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	clientBuffer = 4
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub streams downsized JPEG previews of published frames to websocket
// viewers. Previews are encoded on the hub's own goroutine; a viewer that
// falls behind is disconnected rather than slowing the pipeline.
type Hub struct {
	clients    map[*client]bool
	frames     chan *models.ImageBuffer
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mutex      sync.RWMutex
	maxWidth   uint
	quality    int
	log        *slog.Logger
}

// NewHub builds a hub whose previews are at most maxWidth pixels wide.
func NewHub(maxWidth int, log *slog.Logger) *Hub {
	if maxWidth <= 0 {
		maxWidth = 640
	}
	if log == nil {
		log = logger.L()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		frames:     make(chan *models.ImageBuffer, 1),
		broadcast:  make(chan []byte, 1),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		maxWidth:   uint(maxWidth),
		quality:    75,
		log:        log.With("component", "hub"),
	}
}

// Run dispatches registrations and previews until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.encodeLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("viewer connected", "viewers", n)

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("viewer disconnected", "viewers", n)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.log.Warn("dropping slow viewer")
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Publish hands frame to the preview encoder and returns at once. Only the
// newest frame is kept; one still waiting to be encoded is dropped.
func (h *Hub) Publish(frame *models.ImageBuffer) {
	select {
	case <-h.done:
		frame.Release()
		return
	default:
	}
	if h.ClientCount() == 0 {
		frame.Release()
		return
	}

	select {
	case h.frames <- frame:
		return
	default:
	}
	select {
	case stale := <-h.frames:
		stale.Release()
	default:
	}
	select {
	case h.frames <- frame:
	default:
		frame.Release()
	}
}

func (h *Hub) encodeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			select {
			case frame := <-h.frames:
				frame.Release()
			default:
			}
			return
		case frame := <-h.frames:
			preview, err := h.encodePreview(frame)
			frame.Release()
			if err != nil {
				h.log.Error("preview encode failed", "error", err)
				continue
			}
			h.queue(preview)
		}
	}
}

// queue offers preview to Run, replacing one that has not been sent yet.
func (h *Hub) queue(preview []byte) {
	select {
	case h.broadcast <- preview:
	default:
		select {
		case <-h.broadcast:
		default:
		}
		select {
		case h.broadcast <- preview:
		default:
		}
	}
}

func (h *Hub) encodePreview(frame *models.ImageBuffer) ([]byte, error) {
	img := resize.Thumbnail(h.maxWidth, h.maxWidth, frame.ToNRGBA(), resize.Bilinear)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(h.quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades a viewer connection and pumps previews to it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards viewer input and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
