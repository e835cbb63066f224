// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the room listing, and the built-in test page.
package server

import (
	"encoding/json"
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

// WebSocketHandler upgrades GET requests from allowed origins and serves the
// resulting connection until its session ends.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, h.cfg, r.RemoteAddr, h.logger.Named("client"))
	_ = h.ServeClient(client)
}

// HealthHandler reports that the server is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("roomrelay server is running!"))
}

type roomSummary struct {
	Rooms       map[string]int `json:"rooms"`
	Connections int            `json:"connections"`
}

// RoomsHandler lists every live room with its member count.
func (h *Hub) RoomsHandler(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.Rooms()
	summary := roomSummary{
		Rooms:       make(map[string]int, len(snapshot)),
		Connections: h.ConnectionCount(),
	}
	for room, members := range snapshot {
		summary.Rooms[room] = len(members)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		h.logger.Warn("write rooms response", zap.Error(err))
	}
}

// TestPageHandler serves an HTML page for joining rooms and exchanging
// messages over the WebSocket endpoint of the same host.
func (h *Hub) TestPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if err := testPage.Execute(w, testPageArgs{Host: r.Host}); err != nil {
		h.logger.Warn("write test page", zap.Error(err))
	}
}

type testPageArgs struct {
	Host string
}

var testPage = template.Must(template.New("testPage").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>roomrelay WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>roomrelay WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="roomInput" placeholder="Room" value="lobby">
        <button onclick="send({type: 'join_room', room: room()})">Join</button>
        <button onclick="send({type: 'leave_room', room: room()})">Leave</button>
        <button onclick="send({type: 'get_info', room: room(), info: 'users'})">Users</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="targetInput" placeholder="Connection id (optional)">
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function room() {
            return document.getElementById('roomInput').value.trim();
        }

        function addLine(prefix, text) {
            const line = document.createElement('div');
            line.textContent = prefix + ' ' + text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + '{{.Host}}/ws');
            ws.onopen = function() { updateStatus(true); };
            ws.onmessage = function(event) { addLine('<', event.data); };
            ws.onclose = function() { updateStatus(false); ws = null; };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(msg) {
            if (!ws || ws.readyState !== WebSocket.OPEN) {
                return;
            }
            const text = JSON.stringify(msg);
            ws.send(text);
            addLine('>', text);
        }

        function sendMessage() {
            const input = document.getElementById('messageInput');
            const target = document.getElementById('targetInput').value.trim();
            const payload = {text: input.value};
            if (target) {
                send({type: 'send_user', to: target, payload: payload});
            } else {
                send({type: 'send_room', room: room(), payload: payload});
            }
            input.value = '';
        }
    </script>
</body>
</html>
`))
