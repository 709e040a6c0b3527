package coordinator

import (
	"fmt"
	"sort"
	"time"
)

// callTransitions lists the allowed forward edges of the call state machine.
// Nothing leaves rejected or ended; those calls are only evicted.
var callTransitions = map[CallStatus][]CallStatus{
	StatusRinging:   {StatusConnected, StatusRejected, StatusEnded},
	StatusConnected: {StatusEnded},
}

func canTransition(from, to CallStatus) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// call is one call attempt. Participants are referenced by user id only and
// re-resolved through the registry whenever a message has to reach them.
type call struct {
	id         string
	callerID   string
	callerName string
	targetID   string
	targetName string
	status     CallStatus
	startTime  time.Time
	endTime    time.Time
	endedBy    string
	reason     string

	// connectedAt is set while the call holds a connected session.
	connectedAt time.Time

	ringTimer  *time.Timer
	evictTimer *time.Timer
}

// roleOf reports which side of the call userID is on.
func (c *call) roleOf(userID string) Role {
	switch userID {
	case c.callerID:
		return RoleCaller
	case c.targetID:
		return RoleCallee
	default:
		return RoleNone
	}
}

// peer returns the user id on the other side from role.
func (c *call) peer(role Role) string {
	if role == RoleCaller {
		return c.targetID
	}
	return c.callerID
}

// nameOf returns the display name recorded for userID on this call.
func (c *call) nameOf(userID string) string {
	switch c.roleOf(userID) {
	case RoleCaller:
		return c.callerName
	case RoleCallee:
		return c.targetName
	default:
		return userID
	}
}

func (c *call) info() CallInfo {
	return CallInfo{
		ID:         c.id,
		CallerID:   c.callerID,
		CallerName: c.callerName,
		TargetID:   c.targetID,
		TargetName: c.targetName,
		Status:     c.status,
		StartTime:  c.startTime,
		EndTime:    c.endTime,
		EndedBy:    c.endedBy,
		Reason:     c.reason,
	}
}

// transition moves the call along one edge of the state machine.
func (c *call) transition(to CallStatus) error {
	if !canTransition(c.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.status, to)
	}
	c.status = to
	return nil
}

func (c *call) stopTimers() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
	if c.evictTimer != nil {
		c.evictTimer.Stop()
		c.evictTimer = nil
	}
}

// callIndex holds every call until eviction, plus a per-user index of the
// calls that are still ringing or connected. Guarded by the Coordinator's
// mutex.
type callIndex struct {
	calls  map[string]*call
	active map[string]map[string]*call
}

func newCallIndex() *callIndex {
	return &callIndex{
		calls:  make(map[string]*call),
		active: make(map[string]map[string]*call),
	}
}

func (ci *callIndex) add(c *call) {
	ci.calls[c.id] = c
	ci.markActive(c.callerID, c)
	ci.markActive(c.targetID, c)
}

func (ci *callIndex) markActive(userID string, c *call) {
	set, ok := ci.active[userID]
	if !ok {
		set = make(map[string]*call)
		ci.active[userID] = set
	}
	set[c.id] = c
}

func (ci *callIndex) get(id string) (*call, bool) {
	c, ok := ci.calls[id]
	return c, ok
}

// deactivate drops c from the per-user active index once it is terminal.
func (ci *callIndex) deactivate(c *call) {
	for _, userID := range []string{c.callerID, c.targetID} {
		set, ok := ci.active[userID]
		if !ok {
			continue
		}
		delete(set, c.id)
		if len(set) == 0 {
			delete(ci.active, userID)
		}
	}
}

func (ci *callIndex) remove(id string) {
	if c, ok := ci.calls[id]; ok {
		ci.deactivate(c)
		delete(ci.calls, id)
	}
}

// activeFor returns userID's ringing or connected calls, oldest first.
func (ci *callIndex) activeFor(userID string) []*call {
	set := ci.active[userID]
	out := make([]*call, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].startTime.Equal(out[j].startTime) {
			return out[i].id < out[j].id
		}
		return out[i].startTime.Before(out[j].startTime)
	})
	return out
}

// busy reports whether userID placed a call that is still ringing or holds a
// connected call. Calls ringing towards userID do not count.
func (ci *callIndex) busy(userID string) bool {
	for _, c := range ci.active[userID] {
		if c.callerID == userID || c.status == StatusConnected {
			return true
		}
	}
	return false
}

func (ci *callIndex) countActive() int {
	n := 0
	for _, c := range ci.calls {
		if c.status.Active() {
			n++
		}
	}
	return n
}

func (ci *callIndex) len() int {
	return len(ci.calls)
}
