package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Sophie-Williams/BerryBots/internal/game"
)

const (
	// MaxSpectatorsPerIP is the maximum spectator sockets per IP
	MaxSpectatorsPerIP = 10

	writeWait = 5 * time.Second
	sendQueue = 16
)

// LiveSource returns the engine of the live match, or nil when none runs.
type LiveSource func() *game.Engine

type spectator struct {
	conn *websocket.Conn
	ip   string
	send chan []byte
}

// SpectatorHub fans msgpack-encoded snapshots of the live match out to
// websocket clients. Slow clients drop frames rather than stall the hub.
type SpectatorHub struct {
	upgrader  websocket.Upgrader
	limiter   *SpectatorLimiter
	maxTotal  int
	logger    zerolog.Logger
	mu        sync.RWMutex
	clients   map[*spectator]struct{}
	lastSeq   uint64
	lastMatch *game.Engine
}

// NewSpectatorHub creates a hub accepting up to maxTotal sockets from the
// given origins.
func NewSpectatorHub(maxTotal int, origins OriginMatcher, logger zerolog.Logger) *SpectatorHub {
	h := &SpectatorHub{
		limiter:  NewSpectatorLimiter(MaxSpectatorsPerIP),
		maxTotal: maxTotal,
		logger:   logger.With().Str("component", "spectators").Logger(),
		clients:  make(map[*spectator]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			h.logger.Warn().Str("origin", origin).Msg("Spectator rejected by origin")
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// ClientCount returns the number of connected spectators
func (h *SpectatorHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues frame for every spectator.
func (h *SpectatorHub) Broadcast(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
		}
	}
	IncrementWSMessages()
}

// Frame encodes a snapshot as a binary frame.
func Frame(s game.GameSnapshot) ([]byte, error) {
	return msgpack.Marshal(&s)
}

// Run polls source every interval and broadcasts each new snapshot until
// ctx is done. It also closes every spectator on exit.
func (h *SpectatorHub) Run(ctx context.Context, source LiveSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.poll(source)
		}
	}
}

func (h *SpectatorHub) poll(source LiveSource) {
	if h.ClientCount() == 0 {
		return
	}
	e := source()
	if e == nil {
		return
	}
	snap := e.Snapshot()
	if e == h.lastMatch && snap.Sequence == h.lastSeq {
		return
	}
	h.lastMatch, h.lastSeq = e, snap.Sequence

	frame, err := Frame(snap)
	if err != nil {
		h.logger.Error().Err(err).Msg("Encoding snapshot failed")
		return
	}
	h.Broadcast(frame)
}

func (h *SpectatorHub) add(c *spectator) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	UpdateWSConnections(count)
	h.logger.Debug().Str("ip", c.ip).Int("total", count).Msg("Spectator connected")
}

func (h *SpectatorHub) remove(c *spectator) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.limiter.Release(c.ip)
	UpdateWSConnections(count)
	h.logger.Debug().Int("total", count).Msg("Spectator disconnected")
}

func (h *SpectatorHub) closeAll() {
	h.mu.RLock()
	clients := make([]*spectator, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
}

// ServeHTTP upgrades a spectator connection.
func (h *SpectatorHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if h.maxTotal > 0 && h.ClientCount() >= h.maxTotal {
		RecordConnectionRejected("ws_total_limit")
		writeError(w, "Too many spectators", http.StatusServiceUnavailable)
		return
	}
	if !h.limiter.Allow(ip) {
		RecordConnectionRejected("ws_ip_limit")
		writeError(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Spectator upgrade failed")
		h.limiter.Release(ip)
		return
	}

	c := &spectator{conn: conn, ip: ip, send: make(chan []byte, sendQueue)}
	h.add(c)
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *SpectatorHub) writeLoop(c *spectator) {
	defer c.conn.Close()
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			h.remove(c)
			break
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readLoop only watches for the client going away; spectators send nothing.
func (h *SpectatorHub) readLoop(c *spectator) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
