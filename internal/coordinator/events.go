package coordinator

import (
	"encoding/json"
	"time"
)

// Event names carried in the envelope's "event" field.
const (
	EventUserActive      = "user:active"
	EventUsersActive     = "users:active"
	EventIssueView       = "issue:view"
	EventIssueLeave      = "issue:leave"
	EventIssueViewing    = "issue:viewing"
	EventIssueUpdate     = "issue:update"
	EventIssueUpdated    = "issue:updated"
	EventIssuesReorder   = "issues:reorder"
	EventIssuesReordered = "issues:reordered"
	EventActivityNew     = "activity:new"
	EventCallStart       = "call:start"
	EventCallIncoming    = "call:incoming"
	EventCallAccept      = "call:accept"
	EventCallAccepted    = "call:accepted"
	EventCallReject      = "call:reject"
	EventCallRejected    = "call:rejected"
	EventCallEnd         = "call:end"
	EventCallEnded       = "call:ended"
	EventSignal          = "signal"
	EventCallError       = "call:error"
)

// Envelope is the JSON frame exchanged on the transport in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload into an envelope for event.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Client → server payloads.

// UserActivePayload is the body of user:active.
type UserActivePayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// IssueViewPayload is the body of issue:view and issue:leave.
type IssueViewPayload struct {
	IssueID  string `json:"issueId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// CallStartPayload is the body of call:start.
type CallStartPayload struct {
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	TargetID   string `json:"targetId"`
}

// CallAnswerPayload is the body of call:accept and call:reject.
type CallAnswerPayload struct {
	CallID   string `json:"callId"`
	TargetID string `json:"targetId"`
}

// CallEndPayload is the body of call:end.
type CallEndPayload struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

// SignalPayload is the body of an inbound signal. Signal is relayed as is.
type SignalPayload struct {
	CallID   string          `json:"callId"`
	Signal   json.RawMessage `json:"signal"`
	TargetID string          `json:"targetId"`
}

// Server → client payloads.

// PresenceView is one entry of users:active.
type PresenceView struct {
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	SocketID   string `json:"socketId"`
	LastActive int64  `json:"lastActive"`
}

// ViewerView is one entry of issue:viewing.
type ViewerView struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	SocketID string `json:"socketId"`
}

// IssueViewingPayload is the body of issue:viewing.
type IssueViewingPayload struct {
	IssueID string       `json:"issueId"`
	Users   []ViewerView `json:"users"`
}

// CallIncomingPayload is the body of call:incoming.
type CallIncomingPayload struct {
	CallID     string `json:"callId"`
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
}

// CallEndedPayload is the body of call:ended.
type CallEndedPayload struct {
	CallID  string `json:"callId"`
	EndedBy string `json:"endedBy"`
	Reason  string `json:"reason,omitempty"`
}

// SignalForward is the body of an outbound signal.
type SignalForward struct {
	CallID string          `json:"callId"`
	Signal json.RawMessage `json:"signal"`
	FromID string          `json:"fromId"`
}

// ErrorPayload is the body of call:error.
type ErrorPayload struct {
	Message string `json:"message"`
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
