package coordinator

import "time"

// Endpoint is one live transport connection. Send must not block: it
// enqueues the message on the connection's ordered outbound queue and
// reports whether the message was accepted.
type Endpoint interface {
	ID() string
	Send(message []byte) bool
}

// Broadcaster fans a message out to every connected endpoint, including
// endpoints that never registered a user. A non-nil except is skipped.
type Broadcaster interface {
	Broadcast(message []byte, except Endpoint)
}

// Presence binds a user to its current endpoint.
type Presence struct {
	UserID     string
	UserName   string
	Endpoint   Endpoint
	LastActive time.Time
}

// Viewer is one member of an issue's viewer set.
type Viewer struct {
	UserID   string
	UserName string
	Endpoint Endpoint
}

// CallStatus is the state of a call attempt.
type CallStatus string

// Call states. Transitions are listed in callTransitions.
const (
	StatusRinging   CallStatus = "ringing"
	StatusConnected CallStatus = "connected"
	StatusRejected  CallStatus = "rejected"
	StatusEnded     CallStatus = "ended"
)

// Terminal reports whether no further mutation is valid from s.
func (s CallStatus) Terminal() bool {
	return s == StatusRejected || s == StatusEnded
}

// Active reports whether s is ringing or connected.
func (s CallStatus) Active() bool {
	return s == StatusRinging || s == StatusConnected
}

// Role is a participant's side of a call.
type Role int

const (
	// RoleNone means the user does not participate in the call.
	RoleNone Role = iota
	// RoleCaller is the user who started the call. On accept the caller
	// becomes the media-negotiation initiator.
	RoleCaller
	// RoleCallee is the user who was called.
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "none"
	}
}

// End reasons carried in call:ended.
const (
	ReasonDisconnected = "disconnected"
	ReasonTimeout      = "timeout"
)

// CallInfo is a read-only copy of a call returned to callers outside the
// coordinator.
type CallInfo struct {
	ID         string
	CallerID   string
	CallerName string
	TargetID   string
	TargetName string
	Status     CallStatus
	StartTime  time.Time
	EndTime    time.Time
	EndedBy    string
	Reason     string
}

// Activity is one entry of the activity feed.
type Activity struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	IssueID    string `json:"issueId"`
	IssueTitle string `json:"issueTitle"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	Timestamp  int64  `json:"timestamp"`
	Details    string `json:"details,omitempty"`
}
