package server_test

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/boardcall/internal/coordinator"
	"github.com/Tyrowin/boardcall/internal/server"
	"github.com/Tyrowin/boardcall/internal/testhelpers"
)

// join connects a client and registers it as userID.
func join(t *testing.T, hub *server.Hub, url, userID, userName string) *websocket.Conn {
	t.Helper()

	conn := testhelpers.ConnectWebSocket(t, url)
	testhelpers.SendEvent(t, conn, coordinator.EventUserActive, coordinator.UserActivePayload{
		UserID:   userID,
		UserName: userName,
	})
	testhelpers.WaitForEvent(t, conn, coordinator.EventUsersActive, nil)
	require.Eventually(t, func() bool {
		_, err := hub.Coordinator().Lookup(userID)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	return conn
}

// waitForViewers skips issue:viewing frames until one for issueID lists
// exactly n viewers.
func waitForViewers(t *testing.T, conn *websocket.Conn, issueID string, n int) coordinator.IssueViewingPayload {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no %d-viewer list for %s", n, issueID)

		var viewing coordinator.IssueViewingPayload
		testhelpers.WaitForEvent(t, conn, coordinator.EventIssueViewing, &viewing)
		if viewing.IssueID == issueID && len(viewing.Users) == n {
			return viewing
		}
	}
}

func TestCallFlowEndToEnd(t *testing.T) {
	hub, ts := startTestServer(t, nil)
	url := testhelpers.WebSocketURL(ts.URL, "/ws")

	alice := join(t, hub, url, "alice", "Alice")
	bob := join(t, hub, url, "bob", "Bob")

	testhelpers.SendEvent(t, alice, coordinator.EventCallStart, coordinator.CallStartPayload{
		CallerID:   "alice",
		CallerName: "Alice",
		TargetID:   "bob",
	})

	var incoming coordinator.CallIncomingPayload
	testhelpers.WaitForEvent(t, bob, coordinator.EventCallIncoming, &incoming)
	require.NotEmpty(t, incoming.CallID)
	assert.Equal(t, "alice", incoming.CallerID)
	assert.Equal(t, "Alice", incoming.CallerName)

	testhelpers.SendEvent(t, bob, coordinator.EventCallAccept, coordinator.CallAnswerPayload{
		CallID:   incoming.CallID,
		TargetID: "bob",
	})

	var accepted coordinator.CallAnswerPayload
	testhelpers.WaitForEvent(t, alice, coordinator.EventCallAccepted, &accepted)
	assert.Equal(t, incoming.CallID, accepted.CallID)
	assert.Equal(t, "bob", accepted.TargetID)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 46117317 2 IN IP4 127.0.0.1\r\n"}`)
	testhelpers.SendEvent(t, alice, coordinator.EventSignal, coordinator.SignalPayload{
		CallID:   incoming.CallID,
		Signal:   offer,
		TargetID: "bob",
	})

	var fwd coordinator.SignalForward
	testhelpers.WaitForEvent(t, bob, coordinator.EventSignal, &fwd)
	assert.Equal(t, incoming.CallID, fwd.CallID)
	assert.Equal(t, "alice", fwd.FromID)
	assert.JSONEq(t, string(offer), string(fwd.Signal))

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0\r\n"}`)
	testhelpers.SendEvent(t, bob, coordinator.EventSignal, coordinator.SignalPayload{
		CallID:   incoming.CallID,
		Signal:   answer,
		TargetID: "alice",
	})
	testhelpers.WaitForEvent(t, alice, coordinator.EventSignal, &fwd)
	assert.Equal(t, "bob", fwd.FromID)
	assert.JSONEq(t, string(answer), string(fwd.Signal))

	testhelpers.SendEvent(t, alice, coordinator.EventCallEnd, coordinator.CallEndPayload{
		CallID: incoming.CallID,
		UserID: "alice",
	})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var ended coordinator.CallEndedPayload
		testhelpers.WaitForEvent(t, conn, coordinator.EventCallEnded, &ended)
		assert.Equal(t, incoming.CallID, ended.CallID)
		assert.Equal(t, "alice", ended.EndedBy)
		assert.Empty(t, ended.Reason)
	}

	info, ok := hub.Coordinator().Call(incoming.CallID)
	require.True(t, ok)
	assert.Equal(t, coordinator.StatusEnded, info.Status)
}

func TestRejectedCallEndToEnd(t *testing.T) {
	hub, ts := startTestServer(t, nil)
	url := testhelpers.WebSocketURL(ts.URL, "/api/socket")

	alice := join(t, hub, url, "alice", "Alice")
	bob := join(t, hub, url, "bob", "Bob")

	testhelpers.SendEvent(t, alice, coordinator.EventCallStart, coordinator.CallStartPayload{
		CallerID: "alice", CallerName: "Alice", TargetID: "bob",
	})
	var incoming coordinator.CallIncomingPayload
	testhelpers.WaitForEvent(t, bob, coordinator.EventCallIncoming, &incoming)

	testhelpers.SendEvent(t, bob, coordinator.EventCallReject, coordinator.CallAnswerPayload{
		CallID: incoming.CallID, TargetID: "bob",
	})
	var rejected coordinator.CallAnswerPayload
	testhelpers.WaitForEvent(t, alice, coordinator.EventCallRejected, &rejected)
	assert.Equal(t, incoming.CallID, rejected.CallID)

	// A late end from the caller is a silent no-op.
	testhelpers.SendEvent(t, alice, coordinator.EventCallEnd, coordinator.CallEndPayload{
		CallID: incoming.CallID, UserID: "alice",
	})
	testhelpers.ExpectNoEvent(t, alice, coordinator.EventCallError, 200*time.Millisecond)
}

func TestViewerCleanupOnDisconnect(t *testing.T) {
	hub, ts := startTestServer(t, nil)
	url := testhelpers.WebSocketURL(ts.URL, "/ws")

	alice := join(t, hub, url, "alice", "Alice")
	bob := join(t, hub, url, "bob", "Bob")

	testhelpers.SendEvent(t, alice, coordinator.EventIssueView, coordinator.IssueViewPayload{
		IssueID: "ISSUE-1", UserID: "alice", UserName: "Alice",
	})
	testhelpers.SendEvent(t, bob, coordinator.EventIssueView, coordinator.IssueViewPayload{
		IssueID: "ISSUE-1", UserID: "bob", UserName: "Bob",
	})
	for _, conn := range []*websocket.Conn{alice, bob} {
		viewing := waitForViewers(t, conn, "ISSUE-1", 2)
		assert.Equal(t, "alice", viewing.Users[0].UserID)
		assert.Equal(t, "bob", viewing.Users[1].UserID)
	}

	require.NoError(t, testhelpers.CloseWebSocket(alice))

	viewing := waitForViewers(t, bob, "ISSUE-1", 1)
	assert.Equal(t, "bob", viewing.Users[0].UserID)

	var users []coordinator.PresenceView
	testhelpers.WaitForEvent(t, bob, coordinator.EventUsersActive, &users)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].UserID)
}

func TestCallerDisconnectEndsCall(t *testing.T) {
	hub, ts := startTestServer(t, nil)
	url := testhelpers.WebSocketURL(ts.URL, "/ws")

	alice := join(t, hub, url, "alice", "Alice")
	bob := join(t, hub, url, "bob", "Bob")

	testhelpers.SendEvent(t, alice, coordinator.EventCallStart, coordinator.CallStartPayload{
		CallerID: "alice", CallerName: "Alice", TargetID: "bob",
	})
	var incoming coordinator.CallIncomingPayload
	testhelpers.WaitForEvent(t, bob, coordinator.EventCallIncoming, &incoming)

	require.NoError(t, alice.Close())

	var ended coordinator.CallEndedPayload
	testhelpers.WaitForEvent(t, bob, coordinator.EventCallEnded, &ended)
	assert.Equal(t, incoming.CallID, ended.CallID)
	assert.Equal(t, "alice", ended.EndedBy)
	assert.Equal(t, coordinator.ReasonDisconnected, ended.Reason)
}

func TestErrorsGoToSenderOnly(t *testing.T) {
	hub, ts := startTestServer(t, nil)
	url := testhelpers.WebSocketURL(ts.URL, "/ws")

	alice := join(t, hub, url, "alice", "Alice")
	bob := join(t, hub, url, "bob", "Bob")

	testhelpers.SendEvent(t, alice, coordinator.EventCallStart, coordinator.CallStartPayload{
		CallerID: "alice", CallerName: "Alice", TargetID: "carol",
	})

	var callErr coordinator.ErrorPayload
	testhelpers.WaitForEvent(t, alice, coordinator.EventCallError, &callErr)
	assert.Contains(t, callErr.Message, "offline")
	assert.Zero(t, hub.Coordinator().Stats().Calls)

	testhelpers.ExpectNoEvent(t, bob, coordinator.EventCallError, 200*time.Millisecond)
}

func TestMalformedFramesKeepConnectionOpen(t *testing.T) {
	hub, ts := startTestServer(t, nil)
	url := testhelpers.WebSocketURL(ts.URL, "/ws")

	alice := join(t, hub, url, "alice", "Alice")

	frames := []string{
		`not json`,
		`{"data":{"userId":"x"}}`,
		`{"event":"call:accept","data":"call-1"}`,
		`{"event":"call:accept"}`,
	}
	for _, frame := range frames {
		require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(frame)))

		var callErr coordinator.ErrorPayload
		testhelpers.WaitForEvent(t, alice, coordinator.EventCallError, &callErr)
		assert.True(t, strings.HasPrefix(callErr.Message, "invalid request"), callErr.Message)
	}

	// Unknown events are ignored without a reply.
	testhelpers.SendEvent(t, alice, "chat:message", map[string]string{"text": "hi"})
	testhelpers.SendEvent(t, alice, coordinator.EventCallAccept, coordinator.CallAnswerPayload{CallID: "call-missing"})

	var callErr coordinator.ErrorPayload
	testhelpers.WaitForEvent(t, alice, coordinator.EventCallError, &callErr)
	assert.Contains(t, callErr.Message, "not found")
	assert.Equal(t, 1, hub.ClientCount())
}

func TestBoardRelayEndToEnd(t *testing.T) {
	hub, ts := startTestServer(t, nil)
	url := testhelpers.WebSocketURL(ts.URL, "/ws")

	alice := join(t, hub, url, "alice", "Alice")
	bob := join(t, hub, url, "bob", "Bob")

	testhelpers.SendEvent(t, alice, coordinator.EventIssueUpdate, map[string]any{
		"issue": map[string]string{"id": "ISSUE-4", "title": "Crash on save", "status": "done"},
	})

	var updated map[string]any
	testhelpers.WaitForEvent(t, bob, coordinator.EventIssueUpdated, &updated)
	assert.Contains(t, updated, "issue")

	var activity coordinator.Activity
	testhelpers.WaitForEvent(t, bob, coordinator.EventActivityNew, &activity)
	assert.Equal(t, "ISSUE-4", activity.IssueID)
	assert.Equal(t, "Crash on save", activity.IssueTitle)
	assert.Equal(t, "Alice", activity.UserName)

	testhelpers.WaitForEvent(t, alice, coordinator.EventActivityNew, &activity)
	testhelpers.ExpectNoEvent(t, alice, coordinator.EventIssueUpdated, 200*time.Millisecond)
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	_, ts := startTestServer(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 256
	})

	conn := testhelpers.ConnectWebSocket(t, testhelpers.WebSocketURL(ts.URL, "/ws"))
	big := `{"event":"issue:update","data":{"id":"ISSUE-1","body":"` + strings.Repeat("x", 1024) + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.False(t, isTimeout(err), "connection should be closed, not idle: %v", err)
}

func TestRateLimitDropsExcessFrames(t *testing.T) {
	hub, ts := startTestServer(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	})
	url := testhelpers.WebSocketURL(ts.URL, "/ws")

	// join spends one token on user:active.
	alice := join(t, hub, url, "alice", "Alice")

	for i := 0; i < 5; i++ {
		testhelpers.SendEvent(t, alice, coordinator.EventCallStart, coordinator.CallStartPayload{
			CallerID: "alice", CallerName: "Alice", TargetID: "nobody",
		})
	}

	errorsSeen := 0
	for {
		env, err := testhelpers.ReadEvent(alice, 300*time.Millisecond)
		if err != nil {
			break
		}
		if env.Event == coordinator.EventCallError {
			errorsSeen++
		}
	}
	assert.Equal(t, 2, errorsSeen)
}

func TestServerSendsKeepalivePings(t *testing.T) {
	_, ts := startTestServer(t, func(cfg *server.Config) {
		cfg.PingInterval = 30 * time.Millisecond
		cfg.PongWait = time.Second
	})

	conn := testhelpers.ConnectWebSocket(t, testhelpers.WebSocketURL(ts.URL, "/ws"))

	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Control frames are only handled while a read is in progress.
	_, _ = testhelpers.ReadEvent(conn, 200*time.Millisecond)
	assert.GreaterOrEqual(t, pings.Load(), int32(2))
}

func TestReconnectKeepsCallRouting(t *testing.T) {
	hub, ts := startTestServer(t, nil)
	url := testhelpers.WebSocketURL(ts.URL, "/ws")

	alice := join(t, hub, url, "alice", "Alice")
	bob := join(t, hub, url, "bob", "Bob")

	testhelpers.SendEvent(t, alice, coordinator.EventCallStart, coordinator.CallStartPayload{
		CallerID: "alice", CallerName: "Alice", TargetID: "bob",
	})
	var incoming coordinator.CallIncomingPayload
	testhelpers.WaitForEvent(t, bob, coordinator.EventCallIncoming, &incoming)

	// bob opens a second tab; the newest connection receives his traffic.
	bob2 := join(t, hub, url, "bob", "Bob")

	testhelpers.SendEvent(t, alice, coordinator.EventSignal, coordinator.SignalPayload{
		CallID: incoming.CallID, Signal: json.RawMessage(`{"candidate":"c1"}`), TargetID: "bob",
	})
	var fwd coordinator.SignalForward
	testhelpers.WaitForEvent(t, bob2, coordinator.EventSignal, &fwd)
	assert.Equal(t, "alice", fwd.FromID)

	// Closing the stale tab must not end the call or drop bob.
	require.NoError(t, bob.Close())
	testhelpers.ExpectNoEvent(t, alice, coordinator.EventCallEnded, 200*time.Millisecond)
	_, err := hub.Coordinator().Lookup("bob")
	assert.NoError(t, err)
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
