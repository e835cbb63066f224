package protocol

import (
	"encoding/json"
	"fmt"
)

// Server-to-client kinds.
const (
	KindConnectionID = "connection_id"
	KindJoinedRoom   = "joined_room"
	KindLeftRoom     = "left_room"
	KindRoomInfo     = "room_info"
	KindRoomMessage  = "room_message"
	KindUserMessage  = "user_message"
	KindActiveRooms  = "active_rooms"
	KindError        = "error"
)

// room_info sub-events.
const (
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventCurrentUsers = "current_users"
)

// Code is a machine-readable error classification carried in error events.
type Code string

const (
	CodeInvalidJSON   Code = "invalid_json"
	CodeUnknownType   Code = "unknown_type"
	CodeMissingField  Code = "missing_field"
	CodeNotMember     Code = "not_member"
	CodeUnknownTarget Code = "unknown_target"
	CodeUnknownInfo   Code = "unknown_info"
	CodeRateLimited   Code = "rate_limited"
)

// ConnectionID tells a client the identity it was assigned.
type ConnectionID struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// JoinedRoom confirms a join_room to the sender.
type JoinedRoom struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// LeftRoom confirms a leave_room to the sender.
type LeftRoom struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// RoomInfo carries membership events. Users is only set for current_users.
type RoomInfo struct {
	Type   string   `json:"type"`
	Event  string   `json:"event"`
	UserID string   `json:"userId,omitempty"`
	Room   string   `json:"room"`
	Users  []string `json:"users,omitempty"`
}

// RoomMessage is a send_room payload fanned out to room members.
type RoomMessage struct {
	Type    string          `json:"type"`
	Room    string          `json:"room"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// UserMessage is a send_user payload delivered to its target.
type UserMessage struct {
	Type    string          `json:"type"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// ActiveRooms lists every room and its members.
type ActiveRooms struct {
	Type  string              `json:"type"`
	Rooms map[string][]string `json:"rooms"`
}

// Error reports a rejected request to its sender only.
type Error struct {
	Type    string `json:"type"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// NewConnectionID returns the greeting sent after registration.
func NewConnectionID(id string) ConnectionID {
	return ConnectionID{Type: KindConnectionID, ConnectionID: id}
}

// NewJoinedRoom returns the join confirmation for room.
func NewJoinedRoom(room string) JoinedRoom {
	return JoinedRoom{Type: KindJoinedRoom, Room: room}
}

// NewLeftRoom returns the leave confirmation for room.
func NewLeftRoom(room string) LeftRoom {
	return LeftRoom{Type: KindLeftRoom, Room: room}
}

// NewUserJoined announces that id joined room.
func NewUserJoined(room, id string) RoomInfo {
	return RoomInfo{Type: KindRoomInfo, Event: EventUserJoined, UserID: id, Room: room}
}

// NewUserLeft announces that id left room or disconnected.
func NewUserLeft(room, id string) RoomInfo {
	return RoomInfo{Type: KindRoomInfo, Event: EventUserLeft, UserID: id, Room: room}
}

// NewCurrentUsers answers get_info with the members of room.
func NewCurrentUsers(room string, users []string) RoomInfo {
	return RoomInfo{Type: KindRoomInfo, Event: EventCurrentUsers, Room: room, Users: users}
}

// NewRoomMessage wraps a payload sent by from to room.
func NewRoomMessage(room, from string, payload json.RawMessage) RoomMessage {
	return RoomMessage{Type: KindRoomMessage, Room: room, From: from, Payload: payload}
}

// NewUserMessage wraps a direct payload sent by from.
func NewUserMessage(from string, payload json.RawMessage) UserMessage {
	return UserMessage{Type: KindUserMessage, From: from, Payload: payload}
}

// NewActiveRooms lists every room and its members.
func NewActiveRooms(rooms map[string][]string) ActiveRooms {
	return ActiveRooms{Type: KindActiveRooms, Rooms: rooms}
}

// NewError builds an error event with a formatted message.
func NewError(code Code, format string, args ...any) Error {
	return Error{Type: KindError, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Encode serializes an outbound event.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}
