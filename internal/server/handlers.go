package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// HealthHandler reports that the server is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "boardcall signaling server is running!")
}

// WebSocketHandler upgrades GET requests and hands the connection to h.
func WebSocketHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		// The upgrader has already answered the request when this fails.
		if err := h.Upgrade(w, r); err != nil {
			h.log.WithFields(logrus.Fields{
				"remote": r.RemoteAddr,
				"error":  err,
			}).Warn("WebSocket upgrade failed")
		}
	}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Users        int `json:"users"`
	Calls        int `json:"calls"`
	ActiveCalls  int `json:"activeCalls"`
	ViewedIssues int `json:"viewedIssues"`
	Connections  int `json:"connections"`
}

// StatusHandler reports coordinator and connection counts as JSON.
func StatusHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		stats := h.coord.Stats()
		resp := StatusResponse{
			Users:        stats.Users,
			Calls:        stats.Calls,
			ActiveCalls:  stats.ActiveCalls,
			ViewedIssues: stats.ViewedIssues,
			Connections:  h.ClientCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			h.log.WithError(err).Error("Error writing status response")
		}
	}
}

// TestPageHandler serves a small console for exercising the signaling
// events by hand from two browser tabs.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		logrus.WithError(err).Error("Error writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>boardcall signaling console</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 320px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            font-size: 12px;
        }
        input[type="text"] { width: 160px; padding: 5px; margin-right: 6px; }
        textarea { width: 480px; height: 60px; }
        button {
            padding: 5px 12px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
            margin: 2px;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>boardcall signaling console</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userId" placeholder="user id">
        <input type="text" id="userName" placeholder="display name">
        <button onclick="toggleConnection()" id="connectButton">Connect</button>
    </div>
    <div>
        <input type="text" id="issueId" placeholder="issue id">
        <button onclick="send('issue:view', {issueId: val('issueId'), userId: val('userId'), userName: val('userName')})">View</button>
        <button onclick="send('issue:leave', {issueId: val('issueId'), userId: val('userId')})">Leave</button>
    </div>
    <div>
        <input type="text" id="targetId" placeholder="target user id">
        <input type="text" id="callId" placeholder="call id">
        <button onclick="send('call:start', {callerId: val('userId'), callerName: val('userName'), targetId: val('targetId')})">Call</button>
        <button onclick="send('call:accept', {callId: val('callId'), targetId: val('userId')})">Accept</button>
        <button onclick="send('call:reject', {callId: val('callId'), targetId: val('userId')})">Reject</button>
        <button onclick="send('call:end', {callId: val('callId'), userId: val('userId')})">End</button>
    </div>
    <div>
        <textarea id="signal" placeholder='{"type":"offer","sdp":"..."}'></textarea><br>
        <button onclick="sendSignal()">Send signal</button>
    </div>

    <div id="log"></div>

    <script>
        let ws = null;
        const logDiv = document.getElementById('log');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function val(id) { return document.getElementById(id).value.trim(); }

        function log(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) {
                log('not connected');
                return;
            }
            const frame = JSON.stringify({event: event, data: data});
            ws.send(frame);
            log('> ' + frame, 'blue');
        }

        function sendSignal() {
            let signal;
            try {
                signal = JSON.parse(val('signal'));
            } catch (e) {
                log('signal is not valid JSON');
                return;
            }
            send('signal', {callId: val('callId'), signal: signal, targetId: val('targetId')});
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                updateStatus(true);
                log('connected');
                if (val('userId')) {
                    send('user:active', {userId: val('userId'), userName: val('userName')});
                }
            };
            ws.onmessage = function(event) {
                log('< ' + event.data, 'green');
                try {
                    const msg = JSON.parse(event.data);
                    if (msg.event === 'call:incoming') {
                        document.getElementById('callId').value = msg.data.callId;
                        document.getElementById('targetId').value = msg.data.callerId;
                    }
                } catch (e) {}
            };
            ws.onclose = function() {
                log('connection closed');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() {
                log('connection error');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }
    </script>
</body>
</html>`
