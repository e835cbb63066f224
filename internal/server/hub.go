// Package server coordinates the shared registry, room table and router for
// every WebSocket session via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/registry"
	"github.com/Tyrowin/roomrelay/internal/rooms"
	"github.com/Tyrowin/roomrelay/internal/router"
	"github.com/Tyrowin/roomrelay/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub owns the state shared by all connections and runs one session per
// client. Shutdown cancels every session and waits for its goroutines.
type Hub struct {
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	registry *registry.Registry
	rooms    *rooms.Table
	router   *router.Router
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHub builds a hub from cfg. Nil logger and metrics are replaced with
// no-op and private instances.
func NewHub(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}

	reg := registry.New(logger.Named("registry"))
	table := rooms.NewTable()
	policy := router.Policy{
		SelfDelivery:  cfg.SelfDelivery,
		AnnounceRooms: cfg.AnnounceRooms,
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		registry: reg,
		rooms:    table,
		router:   router.New(reg, table, policy, logger.Named("router"), m),
		ctx:      ctx,
		cancel:   cancel,
	}
	origins := newOriginPolicy(cfg.AllowedOrigins, logger.Named("origin"))
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}

	m.Gauge(metrics.ConnectionsActive, func() int64 { return int64(reg.Len()) })
	m.Gauge(metrics.RoomsActive, func() int64 { return int64(table.Len()) })
	return h
}

// ServeClient runs a session over client until it ends. It blocks, so the
// caller should be the goroutine that owns the connection. The client must
// wrap a live connection.
func (h *Hub) ServeClient(client *Client) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		_ = client.Close()
		client.closeConnection()
		return ErrHubClosed
	}
	h.wg.Add(2)
	h.mu.Unlock()

	client.setupReadConnection()
	// Shutdown does not wait for queued frames.
	stop := context.AfterFunc(h.ctx, client.closeConnection)
	defer stop()
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	defer h.wg.Done()

	s := session.New(client, session.Deps{
		Registry: h.registry,
		Rooms:    h.rooms,
		Router:   h.router,
		Logger:   h.logger.Named("session").With(zap.String("remote_addr", client.addr)),
		Metrics:  h.metrics,
	})
	err := s.Run(h.ctx)
	_ = client.Close()
	if err != nil {
		h.logger.Warn("session ended with error",
			zap.String("connection_id", s.ID()),
			zap.Error(err),
		)
	}
	return err
}

// Rooms returns a snapshot of every room and its members.
func (h *Hub) Rooms() map[string][]string {
	return h.rooms.Snapshot()
}

// ConnectionCount reports the number of registered connections.
func (h *Hub) ConnectionCount() int {
	return h.registry.Len()
}

// Shutdown cancels every session and waits for their goroutines to finish,
// or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown", zap.Int("connections", h.registry.Len()))

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
