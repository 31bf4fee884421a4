// Package api, stream.go: WebSocket progress streams for scan and pipeline state.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	// streamCoalesceInterval bounds the push rate: change notifications
	// arriving faster than this collapse into a single snapshot.
	streamCoalesceInterval = 250 * time.Millisecond

	// streamHeartbeatAfter is the idle time after which a heartbeat frame
	// is sent so clients can tell a quiet stream from a dead one.
	streamHeartbeatAfter = 30 * time.Second

	streamWriteTimeout = 10 * time.Second

	streamKindScan     = "scan"
	streamKindPipeline = "pipeline"
)

var heartbeatMessage = []byte(`{"heartbeat": true}`)

// streamClient is a single WebSocket subscriber on one of the two streams.
type streamClient struct {
	id   string
	kind string
	conn *websocket.Conn
}

// streamHub owns all WebSocket subscribers and pushes coalesced state
// snapshots to them. The pipeline signals changes via markDirty; the run
// loop turns those signals into at most one broadcast per coalesce interval.
type streamHub struct {
	controller *Controller
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[*streamClient]bool

	dirty  atomic.Bool
	closed atomic.Bool
}

func newStreamHub(c *Controller) *streamHub {
	return &streamHub{
		controller: c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin: func(r *http.Request) bool {
				return true // cross-origin handled by the CORS middleware
			},
		},
		clients: make(map[*streamClient]bool),
	}
}

// initStreamRoutes registers the WebSocket endpoints.
func (c *Controller) initStreamRoutes() {
	c.Group.GET("/scan/ws", c.ScanStream)
	c.Group.GET("/pipeline/ws", c.PipelineStream)
}

// ScanStream streams scan progress snapshots to the client.
func (c *Controller) ScanStream(ctx echo.Context) error {
	return c.hub.serve(ctx, streamKindScan)
}

// PipelineStream streams full pipeline stage snapshots to the client.
func (c *Controller) PipelineStream(ctx echo.Context) error {
	return c.hub.serve(ctx, streamKindPipeline)
}

// markDirty flags that pipeline state changed. Safe to call from any
// goroutine; the run loop picks the flag up on its next tick.
func (h *streamHub) markDirty() {
	h.dirty.Store(true)
}

// serve upgrades the connection, sends an initial snapshot and registers the
// client for pushes until it disconnects.
func (h *streamHub) serve(ctx echo.Context, kind string) error {
	c := h.controller

	if err := c.requirePipeline(ctx); err != nil {
		return err
	}
	if h.closed.Load() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Server is shutting down")
	}

	conn, err := h.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		c.logger.Printf("WebSocket upgrade failed for %s stream: %v", kind, err)
		return nil
	}

	client := &streamClient{
		id:   uuid.NewString(),
		kind: kind,
		conn: conn,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := h.countLocked(kind)
	h.mu.Unlock()

	if c.metrics != nil {
		c.metrics.HTTP.UpdateWebSocketClients(kind, count)
	}
	c.Debug("WebSocket client %s connected to %s stream from %s", client.id, kind, ctx.RealIP())

	// Initial snapshot so the client does not wait for the next change.
	if payload, err := h.payload(kind); err == nil {
		h.write(client, payload, "progress")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		h.readLoop(client)
	}()

	return nil
}

// readLoop consumes client frames until the connection drops. Inbound
// content is ignored; reads exist to detect disconnects and answer pings.
func (h *streamHub) readLoop(client *streamClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(client)
	h.controller.Debug("WebSocket client %s disconnected from %s stream", client.id, client.kind)
}

// run is the hub's single broadcaster goroutine. Each tick it either pushes a
// fresh snapshot when the pipeline reported changes, or a heartbeat when the
// stream has been idle too long. Returns when ctx is cancelled.
func (h *streamHub) run(ctx context.Context) {
	defer h.closeAll()

	ticker := time.NewTicker(streamCoalesceInterval)
	defer ticker.Stop()

	lastPush := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch {
			case h.dirty.Swap(false):
				h.broadcastSnapshots()
				lastPush = time.Now()
			case time.Since(lastPush) >= streamHeartbeatAfter:
				h.broadcast(streamKindScan, heartbeatMessage, "heartbeat")
				h.broadcast(streamKindPipeline, heartbeatMessage, "heartbeat")
				lastPush = time.Now()
			}
		}
	}
}

// broadcastSnapshots composes and pushes the current state to every stream
// that has subscribers.
func (h *streamHub) broadcastSnapshots() {
	for _, kind := range []string{streamKindScan, streamKindPipeline} {
		if !h.hasClients(kind) {
			continue
		}
		payload, err := h.payload(kind)
		if err != nil {
			h.controller.Debug("WebSocket %s snapshot failed: %v", kind, err)
			continue
		}
		h.broadcast(kind, payload, "progress")
	}
}

// payload builds the JSON frame for one stream kind.
func (h *streamHub) payload(kind string) ([]byte, error) {
	pl := h.controller.Pipeline
	if kind == streamKindScan {
		return json.Marshal(pl.ScanStatus())
	}
	stats, err := pl.Snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(stats)
}

// broadcast writes payload to every client of the given kind, dropping
// clients whose writes fail.
func (h *streamHub) broadcast(kind string, payload []byte, messageType string) {
	h.mu.RLock()
	targets := make([]*streamClient, 0, len(h.clients))
	for client := range h.clients {
		if client.kind == kind {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.write(client, payload, messageType)
	}
}

// write sends one text frame to a client. On failure the client is removed
// and its connection closed, which also unblocks its read loop.
func (h *streamHub) write(client *streamClient, payload []byte, messageType string) {
	if err := client.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		h.remove(client)
		return
	}
	if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.remove(client)
		return
	}
	if h.controller.metrics != nil {
		h.controller.metrics.HTTP.RecordWebSocketMessage(client.kind, messageType)
	}
}

// remove unregisters a client and closes its connection. Safe to call more
// than once for the same client.
func (h *streamHub) remove(client *streamClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	count := h.countLocked(client.kind)
	h.mu.Unlock()

	client.conn.Close()
	if present && h.controller.metrics != nil {
		h.controller.metrics.HTTP.UpdateWebSocketClients(client.kind, count)
	}
}

// closeAll shuts every connection so the per-client read loops unblock.
// Called once when the hub's run loop exits.
func (h *streamHub) closeAll() {
	h.closed.Store(true)

	h.mu.Lock()
	targets := make([]*streamClient, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.clients = make(map[*streamClient]bool)
	h.mu.Unlock()

	for _, client := range targets {
		client.conn.Close()
	}
	if h.controller.metrics != nil {
		h.controller.metrics.HTTP.UpdateWebSocketClients(streamKindScan, 0)
		h.controller.metrics.HTTP.UpdateWebSocketClients(streamKindPipeline, 0)
	}
}

// hasClients reports whether any subscriber is registered for kind.
func (h *streamHub) hasClients(kind string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked(kind) > 0
}

// countLocked counts clients of one kind. Caller holds h.mu.
func (h *streamHub) countLocked(kind string) int {
	n := 0
	for client := range h.clients {
		if client.kind == kind {
			n++
		}
	}
	return n
}
