package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client-to-server kinds.
const (
	KindJoinRoom  = "join_room"
	KindLeaveRoom = "leave_room"
	KindSendRoom  = "send_room"
	KindSendUser  = "send_user"
	KindGetInfo   = "get_info"
)

// InfoUsers is the only get_info selector currently served.
const InfoUsers = "users"

// ErrMalformed is returned by Decode when a frame is not a JSON object of
// the expected shape.
var ErrMalformed = errors.New("malformed message")

// Request is an inbound message. The set of implementations is closed:
// JoinRoom, LeaveRoom, SendRoom, SendUser, GetInfo and Unknown.
type Request interface {
	// Kind returns the wire "type" value the request was decoded from.
	Kind() string
	request()
}

// JoinRoom asks to add the sender to Room, creating it if needed.
type JoinRoom struct {
	Room string
}

// LeaveRoom asks to remove the sender from Room.
type LeaveRoom struct {
	Room string
}

// SendRoom broadcasts Payload to every member of Room.
type SendRoom struct {
	Room    string
	Payload json.RawMessage
}

// SendUser delivers Payload to the connection identified by To.
type SendUser struct {
	To      string
	Payload json.RawMessage
}

// GetInfo queries Room; Info selects what is returned.
type GetInfo struct {
	Room string
	Info string
}

// Unknown is any frame whose type is not a supported kind. Type holds the
// raw value, which may be empty.
type Unknown struct {
	Type string
}

func (JoinRoom) Kind() string  { return KindJoinRoom }
func (LeaveRoom) Kind() string { return KindLeaveRoom }
func (SendRoom) Kind() string  { return KindSendRoom }
func (SendUser) Kind() string  { return KindSendUser }
func (GetInfo) Kind() string   { return KindGetInfo }
func (u Unknown) Kind() string { return u.Type }

func (JoinRoom) request()  {}
func (LeaveRoom) request() {}
func (SendRoom) request()  {}
func (SendUser) request()  {}
func (GetInfo) request()   {}
func (Unknown) request()   {}

type envelope struct {
	Type    string          `json:"type"`
	Room    string          `json:"room"`
	To      string          `json:"to"`
	Info    string          `json:"info"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a frame into its Request variant. The variant is chosen from
// the "type" field alone. Required fields are not checked here; an absent
// payload stays nil while an explicit null is kept as "null".
func Decode(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case KindJoinRoom:
		return JoinRoom{Room: env.Room}, nil
	case KindLeaveRoom:
		return LeaveRoom{Room: env.Room}, nil
	case KindSendRoom:
		return SendRoom{Room: env.Room, Payload: env.Payload}, nil
	case KindSendUser:
		return SendUser{To: env.To, Payload: env.Payload}, nil
	case KindGetInfo:
		return GetInfo{Room: env.Room, Info: env.Info}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}
