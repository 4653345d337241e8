// Package ws exposes the realtime store over websocket. Each socket gets its
// own store connection, so disconnect hooks registered through it fire when
// the socket drops, which is what presence detection is built on.
package ws

import (
	"log"
	nethttp "net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"storyloom/server/internal/channel"
)

// Connector hands out one store connection per socket.
type Connector interface {
	Connect() channel.Conn
}

type HandlerConfig struct {
	Logger *log.Logger
	// FrameRate caps client frames per second. Zero means DefaultFrameRate.
	FrameRate rate.Limit
	// FrameBurst is the limiter burst. Zero means DefaultFrameBurst.
	FrameBurst int
}

// Default client frame budget: generous for interactive use, tight enough
// that a looping client cannot starve the store's delivery goroutines.
const (
	DefaultFrameRate  rate.Limit = 50
	DefaultFrameBurst            = 100
)

type Handler struct {
	store    Connector
	logger   *log.Logger
	upgrader websocket.Upgrader
	cfg      HandlerConfig
}

func NewHandler(store Connector, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = DefaultFrameBurst
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		store:    store,
		logger:   logger,
		upgrader: upgrader,
		cfg:      cfg,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	clientID := r.URL.Query().Get("id")
	if clientID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", clientID, err)
		return
	}

	session := newSession(clientID, conn, h.store.Connect(), h.logger,
		rate.NewLimiter(h.cfg.FrameRate, h.cfg.FrameBurst))
	session.serve()
}
