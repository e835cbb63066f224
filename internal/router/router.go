// Package router decides who receives each inbound message and sends it.
package router

import (
	"slices"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/protocol"
	"github.com/Tyrowin/roomrelay/internal/registry"
	"github.com/Tyrowin/roomrelay/internal/rooms"
	"go.uber.org/zap"
)

// Policy holds the configurable routing behaviors.
type Policy struct {
	// SelfDelivery makes send_room deliver the message back to its sender.
	SelfDelivery bool
	// AnnounceRooms broadcasts the full room list to every connection after
	// each membership change.
	AnnounceRooms bool
}

// Router dispatches decoded requests against the shared registry and room
// table. Membership checks see the table as of dispatch; deliveries go to a
// snapshot and may race with concurrent departures.
type Router struct {
	registry *registry.Registry
	rooms    *rooms.Table
	policy   Policy
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New returns a Router over the given registry and room table.
func New(reg *registry.Registry, table *rooms.Table, policy Policy, logger *zap.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Router{
		registry: reg,
		rooms:    table,
		policy:   policy,
		logger:   logger,
		metrics:  m,
	}
}

// Dispatch handles one request sent by the connection from.
func (r *Router) Dispatch(from string, req protocol.Request) {
	switch req := req.(type) {
	case protocol.JoinRoom:
		r.joinRoom(from, req)
	case protocol.LeaveRoom:
		r.leaveRoom(from, req)
	case protocol.SendRoom:
		r.sendRoom(from, req)
	case protocol.SendUser:
		r.sendUser(from, req)
	case protocol.GetInfo:
		r.getInfo(from, req)
	case protocol.Unknown:
		r.Reject(from, protocol.NewError(protocol.CodeUnknownType, "unknown message type: %q", req.Type))
	default:
		r.logger.Error("unhandled request variant", zap.String("kind", req.Kind()))
		r.Reject(from, protocol.NewError(protocol.CodeUnknownType, "unknown message type: %q", req.Kind()))
	}
}

func (r *Router) joinRoom(from string, req protocol.JoinRoom) {
	if req.Room == "" {
		r.Reject(from, missingField(req.Kind(), "room"))
		return
	}

	existing, added := r.rooms.Join(req.Room, from)
	if added {
		r.logger.Info("joined room", zap.String("connection_id", from), zap.String("room", req.Room))
		r.fanout(existing, protocol.NewUserJoined(req.Room, from))
	}
	r.deliver(from, protocol.NewJoinedRoom(req.Room))
	if added {
		r.AnnounceRooms()
	}
}

func (r *Router) leaveRoom(from string, req protocol.LeaveRoom) {
	if req.Room == "" {
		r.Reject(from, missingField(req.Kind(), "room"))
		return
	}

	remaining, removed := r.rooms.Leave(req.Room, from)
	if !removed {
		r.Reject(from, notMember(req.Room))
		return
	}
	r.logger.Info("left room", zap.String("connection_id", from), zap.String("room", req.Room))
	r.fanout(remaining, protocol.NewUserLeft(req.Room, from))
	r.deliver(from, protocol.NewLeftRoom(req.Room))
	r.AnnounceRooms()
}

func (r *Router) sendRoom(from string, req protocol.SendRoom) {
	if req.Room == "" {
		r.Reject(from, missingField(req.Kind(), "room"))
		return
	}

	if req.Payload == nil {
		r.Reject(from, missingField(req.Kind(), "payload"))
		return
	}

	members := r.rooms.Members(req.Room)
	if !slices.Contains(members, from) {
		r.Reject(from, notMember(req.Room))
		return
	}
	if !r.policy.SelfDelivery {
		members = slices.DeleteFunc(members, func(id string) bool { return id == from })
	}
	r.fanout(members, protocol.NewRoomMessage(req.Room, from, req.Payload))
}

func (r *Router) sendUser(from string, req protocol.SendUser) {
	if req.To == "" {
		r.Reject(from, missingField(req.Kind(), "to"))
		return
	}
	if req.Payload == nil {
		r.Reject(from, missingField(req.Kind(), "payload"))
		return
	}
	if !r.registry.Has(req.To) {
		r.Reject(from, protocol.NewError(protocol.CodeUnknownTarget, "target connection not found: %s", req.To))
		return
	}
	r.deliver(req.To, protocol.NewUserMessage(from, req.Payload))
}

func (r *Router) getInfo(from string, req protocol.GetInfo) {
	if req.Room == "" {
		r.Reject(from, missingField(req.Kind(), "room"))
		return
	}

	members := r.rooms.Members(req.Room)
	if !slices.Contains(members, from) {
		r.Reject(from, notMember(req.Room))
		return
	}
	if req.Info == "" {
		r.Reject(from, missingField(req.Kind(), "info"))
		return
	}
	if req.Info != protocol.InfoUsers {
		r.Reject(from, protocol.NewError(protocol.CodeUnknownInfo, "unknown info type: %q", req.Info))
		return
	}
	r.deliver(from, protocol.NewCurrentUsers(req.Room, members))
}

// Departed notifies the remaining members of each room a connection was
// removed from. affected is the result of rooms.Table.RemoveMember.
func (r *Router) Departed(id string, affected map[string][]string) {
	for room, remaining := range affected {
		r.fanout(remaining, protocol.NewUserLeft(room, id))
	}
	if len(affected) > 0 {
		r.AnnounceRooms()
	}
}

// AnnounceRooms sends the full room list to every registered connection
// when the policy enables it.
func (r *Router) AnnounceRooms() {
	if !r.policy.AnnounceRooms {
		return
	}
	r.fanout(r.registry.IDs(), protocol.NewActiveRooms(r.rooms.Snapshot()))
}

// Reject sends an error event to one connection.
func (r *Router) Reject(to string, e protocol.Error) {
	r.metrics.Incr(metrics.ProtocolErrors, 1)
	r.logger.Debug("rejected request",
		zap.String("connection_id", to),
		zap.String("code", string(e.Code)),
		zap.String("reason", e.Message),
	)
	r.deliver(to, e)
}

func (r *Router) deliver(to string, event any) {
	msg, err := protocol.Encode(event)
	if err != nil {
		r.logger.Error("encode event", zap.Error(err))
		return
	}
	r.send(to, msg)
}

// fanout encodes event once and sends it to every id in the snapshot.
// Identities that disappeared since the snapshot was taken are skipped.
func (r *Router) fanout(ids []string, event any) {
	if len(ids) == 0 {
		return
	}
	msg, err := protocol.Encode(event)
	if err != nil {
		r.logger.Error("encode event", zap.Error(err))
		return
	}
	for _, id := range ids {
		r.send(id, msg)
	}
}

func (r *Router) send(to string, msg []byte) {
	if err := r.registry.Send(to, msg); err != nil {
		r.metrics.Incr(metrics.MessagesFailed, 1)
		return
	}
	r.metrics.Incr(metrics.MessagesDelivered, 1)
}

func missingField(kind, field string) protocol.Error {
	return protocol.NewError(protocol.CodeMissingField, "%s requires %q", kind, field)
}

func notMember(room string) protocol.Error {
	return protocol.NewError(protocol.CodeNotMember, "not a member of room %q", room)
}
