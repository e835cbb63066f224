// Package protocol defines the JSON envelope exchanged with relay clients.
//
// Every frame is a JSON object carrying a "type" field. Inbound frames are
// decoded into one of a closed set of Request variants (JoinRoom, LeaveRoom,
// SendRoom, SendUser, GetInfo, or Unknown); outbound events are plain structs
// built by the New* constructors and serialized with Encode.
package protocol
