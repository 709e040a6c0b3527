package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultEvictionDelay is how long a terminal call stays in the index so
// late accept/reject/end requests resolve to a no-op instead of NotFound.
const DefaultEvictionDelay = 5 * time.Second

// Options configures a Coordinator. The zero value is usable.
type Options struct {
	// EvictionDelay is the grace period between a terminal status and the
	// call's removal from the index. Zero or negative selects
	// DefaultEvictionDelay.
	EvictionDelay time.Duration

	// RingTimeout ends calls still ringing after this long. Zero disables it.
	RingTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewID returns a fresh unique id. Defaults to uuid.NewString.
	NewID func() string

	// Logger receives the coordinator's logs. Defaults to the standard
	// logrus logger.
	Logger logrus.FieldLogger
}

// Coordinator owns presence, issue viewers and the call index. All state is
// guarded by mu; messages produced by an operation are delivered after mu is
// released but under sendMu, so deliveries keep mutation order.
type Coordinator struct {
	mu     sync.Mutex
	sendMu sync.Mutex

	out  Broadcaster
	opts Options
	log  logrus.FieldLogger

	reg     *registry
	viewers *viewerTracker
	calls   *callIndex
	closed  bool
}

// New returns a Coordinator that fans broadcasts out through out.
func New(out Broadcaster, opts Options) *Coordinator {
	if opts.EvictionDelay <= 0 {
		opts.EvictionDelay = DefaultEvictionDelay
	}
	if opts.RingTimeout < 0 {
		opts.RingTimeout = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Coordinator{
		out:     out,
		opts:    opts,
		log:     opts.Logger.WithField("component", "coordinator"),
		reg:     newRegistry(),
		viewers: newViewerTracker(),
		calls:   newCallIndex(),
	}
}

func (c *Coordinator) now() time.Time { return c.opts.Now() }
func (c *Coordinator) newID() string  { return c.opts.NewID() }

// lock acquires the state lock and returns the outbox for this operation.
func (c *Coordinator) lock() (*outbox, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	return &outbox{}, nil
}

// unlock hands off from the state lock to the delivery lock and flushes o.
func (c *Coordinator) unlock(o *outbox) {
	if len(o.items) == 0 {
		c.mu.Unlock()
		return
	}
	c.sendMu.Lock()
	c.mu.Unlock()
	defer c.sendMu.Unlock()
	o.flush(c.out, c.log)
}

// Close stops every pending timer. Operations after Close return ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, cl := range c.calls.calls {
		cl.stopTimers()
	}
	c.log.WithField("calls", c.calls.len()).Info("Coordinator closed")
}

// Register binds userID to ep and publishes the presence snapshot.
// A later registration for the same user wins; if ep was bound to a
// different user, that user is treated as disconnected: their calls end and
// they leave every issue they were viewing.
func (c *Coordinator) Register(userID, userName string, ep Endpoint) error {
	if userID == "" || ep == nil {
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}

	o, err := c.lock()
	if err != nil {
		return err
	}
	defer c.unlock(o)

	displaced := c.reg.register(userID, userName, ep, c.now())
	if displaced != "" {
		c.endCallsFor(o, displaced, ReasonDisconnected)
		for _, issueID := range c.viewers.removeUser(ep.ID(), displaced) {
			c.publishViewers(o, issueID)
		}
		c.reg.removeUser(displaced)
		c.log.WithFields(logrus.Fields{
			"endpoint":  ep.ID(),
			"user":      userID,
			"displaced": displaced,
		}).Info("Endpoint switched identity")
	}

	c.log.WithFields(logrus.Fields{
		"user":     userID,
		"endpoint": ep.ID(),
		"online":   c.reg.len(),
	}).Info("User active")

	c.publishPresence(o)
	return nil
}

// Lookup returns the presence registered for userID.
func (c *Coordinator) Lookup(userID string) (Presence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.reg.lookup(userID)
	if !ok {
		return Presence{}, ErrUserNotFound
	}
	return *p, nil
}

// UserFor returns the user id currently bound to ep.
func (c *Coordinator) UserFor(ep Endpoint) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.reg.endpointToUser(ep)
	if !ok {
		return "", ErrUserNotFound
	}
	return id, nil
}

// ActiveUsers returns the presence snapshot that users:active carries.
func (c *Coordinator) ActiveUsers() []PresenceView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.snapshot()
}

// ViewIssue adds userID to issueID's viewers and broadcasts the list.
// Viewing again is idempotent but still rebroadcasts.
func (c *Coordinator) ViewIssue(issueID, userID, userName string, ep Endpoint) error {
	if issueID == "" || userID == "" || ep == nil {
		return fmt.Errorf("%w: issueId and userId are required", ErrInvalidRequest)
	}

	o, err := c.lock()
	if err != nil {
		return err
	}
	defer c.unlock(o)

	if userName == "" {
		if p, ok := c.reg.lookup(userID); ok {
			userName = p.UserName
		}
	}
	c.viewers.view(issueID, Viewer{UserID: userID, UserName: userName, Endpoint: ep})
	c.publishViewers(o, issueID)
	return nil
}

// LeaveIssue removes userID from issueID's viewers. Leaving an issue the
// user is not viewing does nothing.
func (c *Coordinator) LeaveIssue(issueID, userID string) error {
	if issueID == "" || userID == "" {
		return fmt.Errorf("%w: issueId and userId are required", ErrInvalidRequest)
	}

	o, err := c.lock()
	if err != nil {
		return err
	}
	defer c.unlock(o)

	if c.viewers.leave(issueID, userID) {
		c.publishViewers(o, issueID)
	}
	return nil
}

// Viewers returns issueID's current viewers.
func (c *Coordinator) Viewers(issueID string) []ViewerView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewers.viewers(issueID)
}

// StartCall creates a ringing call from callerID to targetID and notifies
// the target. Both users must be registered. A caller that is only being
// rung may still place a call; one with an outgoing or connected call may not.
func (c *Coordinator) StartCall(callerID, callerName, targetID string) (CallInfo, error) {
	if callerID == "" || targetID == "" {
		return CallInfo{}, fmt.Errorf("%w: callerId and targetId are required", ErrInvalidRequest)
	}
	if callerID == targetID {
		return CallInfo{}, fmt.Errorf("%w: cannot call yourself", ErrInvalidRequest)
	}

	o, err := c.lock()
	if err != nil {
		return CallInfo{}, err
	}
	defer c.unlock(o)

	if _, ok := c.reg.lookup(callerID); !ok {
		return CallInfo{}, ErrCallerOffline
	}
	target, ok := c.reg.lookup(targetID)
	if !ok {
		return CallInfo{}, ErrTargetOffline
	}
	if c.calls.busy(callerID) {
		return CallInfo{}, ErrAlreadyInCall
	}

	cl := &call{
		id:         "call-" + c.newID(),
		callerID:   callerID,
		callerName: callerName,
		targetID:   targetID,
		targetName: target.UserName,
		status:     StatusRinging,
		startTime:  c.now(),
	}
	c.calls.add(cl)
	c.armRingTimer(cl)

	c.log.WithFields(logrus.Fields{
		"call":   cl.id,
		"caller": callerID,
		"target": targetID,
	}).Info("Call ringing")

	o.send(target.Endpoint, EventCallIncoming, CallIncomingPayload{
		CallID:     cl.id,
		CallerID:   callerID,
		CallerName: callerName,
	})
	c.publishActivity(o, "call", "audio call", callerID, callerName,
		"Started a call with "+target.UserName)

	return cl.info(), nil
}

// AcceptCall moves a ringing call to connected and tells the caller, who
// then starts media negotiation towards the target.
func (c *Coordinator) AcceptCall(callID, targetID string) (CallInfo, error) {
	o, err := c.lock()
	if err != nil {
		return CallInfo{}, err
	}
	defer c.unlock(o)

	cl, ok := c.calls.get(callID)
	if !ok {
		return CallInfo{}, ErrCallNotFound
	}
	if cl.status != StatusRinging {
		return cl.info(), fmt.Errorf("%w: call is %s", ErrInvalidTransition, cl.status)
	}
	caller, ok := c.reg.lookup(cl.callerID)
	if !ok {
		return cl.info(), ErrCallerOffline
	}

	if err := c.advance(cl, StatusConnected); err != nil {
		return cl.info(), err
	}

	o.send(caller.Endpoint, EventCallAccepted, CallAnswerPayload{
		CallID:   cl.id,
		TargetID: cl.targetID,
	})
	c.publishActivity(o, "call", "audio call", cl.targetID, cl.targetName,
		"Accepted a call from "+cl.callerName)

	return cl.info(), nil
}

// RejectCall declines a ringing call and tells the caller. Rejecting a call
// that already reached a terminal state is a no-op.
func (c *Coordinator) RejectCall(callID, targetID string) (CallInfo, error) {
	o, err := c.lock()
	if err != nil {
		return CallInfo{}, err
	}
	defer c.unlock(o)

	cl, ok := c.calls.get(callID)
	if !ok {
		return CallInfo{}, ErrCallNotFound
	}
	if cl.status.Terminal() {
		return cl.info(), nil
	}
	if err := c.advance(cl, StatusRejected); err != nil {
		return cl.info(), err
	}
	cl.endedBy = cl.targetID

	if caller, ok := c.reg.lookup(cl.callerID); ok {
		o.send(caller.Endpoint, EventCallRejected, CallAnswerPayload{
			CallID:   cl.id,
			TargetID: cl.targetID,
		})
	}
	return cl.info(), nil
}

// EndCall hangs up a ringing or connected call on behalf of userID and
// notifies both participants. Ending a terminal call is a no-op. userID must
// be one of the participants.
func (c *Coordinator) EndCall(callID, userID string) (CallInfo, error) {
	if userID == "" {
		return CallInfo{}, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}

	o, err := c.lock()
	if err != nil {
		return CallInfo{}, err
	}
	defer c.unlock(o)

	cl, ok := c.calls.get(callID)
	if !ok {
		return CallInfo{}, ErrCallNotFound
	}
	if cl.roleOf(userID) == RoleNone {
		return CallInfo{}, fmt.Errorf("%w: %s is not on call %s", ErrInvalidRequest, userID, callID)
	}
	if cl.status.Terminal() {
		return cl.info(), nil
	}
	if err := c.advance(cl, StatusEnded); err != nil {
		return cl.info(), err
	}
	cl.endedBy = userID

	payload := CallEndedPayload{CallID: cl.id, EndedBy: userID}
	for _, id := range []string{cl.callerID, cl.targetID} {
		if p, ok := c.reg.lookup(id); ok {
			o.send(p.Endpoint, EventCallEnded, payload)
		}
	}
	c.publishActivity(o, "call", "audio call", userID, cl.nameOf(userID), "Ended the call")

	return cl.info(), nil
}

// Call returns a copy of the call with id, if it has not been evicted.
func (c *Coordinator) Call(id string) (CallInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.calls.get(id)
	if !ok {
		return CallInfo{}, false
	}
	return cl.info(), true
}

// ActiveCalls returns userID's ringing or connected calls.
func (c *Coordinator) ActiveCalls(userID string) []CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := c.calls.activeFor(userID)
	out := make([]CallInfo, 0, len(calls))
	for _, cl := range calls {
		out = append(out, cl.info())
	}
	return out
}

// Stats is a point-in-time count of coordinator state.
type Stats struct {
	Users        int `json:"users"`
	Calls        int `json:"calls"`
	ActiveCalls  int `json:"activeCalls"`
	ViewedIssues int `json:"viewedIssues"`
}

// Stats returns current counts.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Users:        c.reg.len(),
		Calls:        c.calls.len(),
		ActiveCalls:  c.calls.countActive(),
		ViewedIssues: c.viewers.len(),
	}
}

// advance applies one state transition and acquires or releases the
// resources tied to the states involved. Every exit edge passes through here.
func (c *Coordinator) advance(cl *call, to CallStatus) error {
	from := cl.status
	if err := cl.transition(to); err != nil {
		return err
	}
	now := c.now()

	if from == StatusRinging && cl.ringTimer != nil {
		cl.ringTimer.Stop()
		cl.ringTimer = nil
	}
	if from == StatusConnected {
		c.log.WithFields(logrus.Fields{
			"call":     cl.id,
			"duration": now.Sub(cl.connectedAt).Round(time.Millisecond),
		}).Debug("Connected session released")
		cl.connectedAt = time.Time{}
	}
	if to == StatusConnected {
		cl.connectedAt = now
	}

	if to.Terminal() {
		cl.endTime = now
		c.calls.deactivate(cl)
		c.scheduleEviction(cl)
	}

	c.log.WithFields(logrus.Fields{
		"call": cl.id,
		"from": from,
		"to":   to,
	}).Info("Call state changed")
	return nil
}

// endCallsFor forces every active call involving userID to ended and tells
// the surviving participant why.
func (c *Coordinator) endCallsFor(o *outbox, userID, reason string) {
	for _, cl := range c.calls.activeFor(userID) {
		if err := c.advance(cl, StatusEnded); err != nil {
			c.log.WithFields(logrus.Fields{
				"call":  cl.id,
				"error": err,
			}).Error("Failed to end call")
			continue
		}
		cl.endedBy = userID
		cl.reason = reason

		survivor := cl.peer(cl.roleOf(userID))
		if p, ok := c.reg.lookup(survivor); ok {
			o.send(p.Endpoint, EventCallEnded, CallEndedPayload{
				CallID:  cl.id,
				EndedBy: userID,
				Reason:  reason,
			})
		}
	}
}

func (c *Coordinator) armRingTimer(cl *call) {
	if c.opts.RingTimeout <= 0 {
		return
	}
	id := cl.id
	cl.ringTimer = time.AfterFunc(c.opts.RingTimeout, func() {
		if err := c.expireRinging(id); err != nil && !errors.Is(err, ErrClosed) {
			c.log.WithFields(logrus.Fields{"call": id, "error": err}).Warn("Ring timeout not applied")
		}
	})
}

// expireRinging ends a call that is still ringing when its timer fires.
func (c *Coordinator) expireRinging(id string) error {
	o, err := c.lock()
	if err != nil {
		return err
	}
	defer c.unlock(o)

	cl, ok := c.calls.get(id)
	if !ok {
		return ErrCallNotFound
	}
	if cl.status != StatusRinging {
		return nil
	}
	cl.ringTimer = nil
	if err := c.advance(cl, StatusEnded); err != nil {
		return err
	}
	cl.endedBy = cl.callerID
	cl.reason = ReasonTimeout

	payload := CallEndedPayload{CallID: cl.id, EndedBy: cl.callerID, Reason: ReasonTimeout}
	for _, uid := range []string{cl.callerID, cl.targetID} {
		if p, ok := c.reg.lookup(uid); ok {
			o.send(p.Endpoint, EventCallEnded, payload)
		}
	}
	return nil
}

func (c *Coordinator) scheduleEviction(cl *call) {
	id := cl.id
	cl.evictTimer = time.AfterFunc(c.opts.EvictionDelay, func() {
		c.evict(id)
	})
}

func (c *Coordinator) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if cl, ok := c.calls.get(id); ok && cl.status.Terminal() {
		c.calls.remove(id)
		c.log.WithField("call", id).Debug("Call evicted")
	}
}
