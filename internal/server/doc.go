// Package server implements the HTTP and WebSocket surface of the relay.
//
// A Client adapts one gorilla/websocket connection to the session transport,
// with a buffered write pump, keepalive pings, a read size limit and a
// per-connection token bucket. The Hub owns the connection registry, room
// table and router shared by all sessions and runs one session per client.
// Configuration, origin checks, routes and server lifecycle live in their
// own files.
package server
