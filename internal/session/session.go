// Package session runs the per-connection control loop: it registers the
// connection, feeds inbound frames to the router in receipt order, and
// reconciles shared state exactly once when the connection ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/protocol"
	"github.com/Tyrowin/roomrelay/internal/registry"
	"github.com/Tyrowin/roomrelay/internal/rooms"
	"github.com/Tyrowin/roomrelay/internal/router"
	"go.uber.org/zap"
)

// ErrRateLimited may be returned by Transport.Receive to report a frame that
// was dropped by throttling. The session answers with an error event and
// keeps reading.
var ErrRateLimited = errors.New("rate limit exceeded")

// Transport is the bidirectional channel a session runs on. Receive returns
// io.EOF once the peer has closed the connection normally.
type Transport interface {
	Receive() ([]byte, error)
	Send(msg []byte) error
	Close() error
}

// Deps bundles the shared components every session uses.
type Deps struct {
	Registry *registry.Registry
	Rooms    *rooms.Table
	Router   *router.Router
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Session is the lifecycle of one connection.
type Session struct {
	transport Transport
	deps      Deps
	logger    *zap.Logger

	id        string
	state     atomic.Int32
	closeOnce sync.Once
}

// New returns a session in the CONNECTING state.
func New(t Transport, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Session{
		transport: t,
		deps:      deps,
		logger:    deps.Logger,
	}
}

// ID returns the identity issued at registration, or "" before Run.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run registers the connection and processes frames until the transport
// closes or ctx is cancelled. Cleanup runs on every exit path, including a
// panic in a handler. A normal close or cancellation returns nil.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panic", zap.String("connection_id", s.id), zap.Any("panic", r))
			err = fmt.Errorf("session %s panicked: %v", s.id, r)
		}
	}()

	s.id = s.deps.Registry.Register(s.transport)
	s.logger = s.logger.With(zap.String("connection_id", s.id))
	s.deps.Metrics.Incr(metrics.ConnectionsOpened, 1)
	defer s.close()

	stop := context.AfterFunc(ctx, func() {
		_ = s.transport.Close()
	})
	defer stop()

	hello, err := protocol.Encode(protocol.NewConnectionID(s.id))
	if err != nil {
		return err
	}
	if err := s.deps.Registry.Send(s.id, hello); err != nil {
		return fmt.Errorf("send connection id: %w", err)
	}
	s.logger.Info("connection established")
	s.state.Store(int32(StateActive))
	s.deps.Router.AnnounceRooms()

	for {
		data, err := s.transport.Receive()
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				s.deps.Router.Reject(s.id, protocol.NewError(protocol.CodeRateLimited, "rate limit exceeded; message dropped"))
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		s.handle(data)
	}
}

func (s *Session) handle(data []byte) {
	s.deps.Metrics.Incr(metrics.MessagesReceived, 1)

	req, err := protocol.Decode(data)
	if err != nil {
		s.deps.Router.Reject(s.id, protocol.NewError(protocol.CodeInvalidJSON, "invalid JSON"))
		return
	}
	s.deps.Router.Dispatch(s.id, req)
}

// close performs CLOSING cleanup once: the identity leaves the registry and
// every room, and each affected room hears a single user_left.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		_ = s.transport.Close()

		var affected map[string][]string
		s.deps.Registry.UnregisterFunc(s.id, func() {
			affected = s.deps.Rooms.RemoveMember(s.id)
		})
		s.deps.Router.Departed(s.id, affected)

		s.deps.Metrics.Incr(metrics.ConnectionsClosed, 1)
		s.state.Store(int32(StateClosed))
		s.logger.Info("connection closed", zap.Int("rooms_left", len(affected)))
	})
}
