// Package testhelpers holds shared helpers for tests that talk to the server
// over HTTP and WebSocket.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/boardcall/internal/coordinator"
)

// TestOrigin is the Origin header sent by ConnectWebSocket. It is in the
// default allowlist.
const TestOrigin = "http://localhost:8080"

// WebSocketURL turns an httptest server URL into a ws:// URL for path.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// MakeRequest executes an HTTP request with a 5 second timeout and fails the
// test if it cannot be made.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "make request")
	return resp
}

// ConnectWebSocket dials url with TestOrigin. The connection is closed when
// the test ends.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, err := DialWebSocket(url, TestOrigin)
	require.NoError(t, err, "dial %s", url)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWebSocket dials url with the given Origin header, or none if origin is
// empty.
func DialWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEvent writes one envelope.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	msg, err := coordinator.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
}

// ReadEvent reads the next envelope, waiting at most timeout.
func ReadEvent(conn *websocket.Conn, timeout time.Duration) (coordinator.Envelope, error) {
	var env coordinator.Envelope
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return env, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return env, err
	}
	err = json.Unmarshal(raw, &env)
	return env, err
}

// WaitForEvent reads envelopes until one named event arrives, skipping any
// others, and decodes its data into out when out is non-nil.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, out any) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		remaining := time.Until(deadline)
		require.True(t, remaining > 0, "timed out waiting for %s", event)

		env, err := ReadEvent(conn, remaining)
		require.NoError(t, err, "waiting for %s", event)
		if env.Event != event {
			continue
		}
		if out != nil {
			require.NoError(t, json.Unmarshal(env.Data, out), "decode %s", event)
		}
		return
	}
}

// ExpectNoEvent fails if an envelope named event arrives within wait.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		env, err := ReadEvent(conn, remaining)
		if err != nil {
			// A read timeout poisons a gorilla connection; callers must not
			// read from conn afterwards.
			return
		}
		require.NotEqual(t, event, env.Event, "unexpected %s", event)
	}
}

// CloseWebSocket sends a normal close frame and closes conn.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
