package coordinator

import (
	"github.com/sirupsen/logrus"
)

type deliveryKind int

const (
	toEndpoint deliveryKind = iota
	toAll
	toOthers
)

type delivery struct {
	kind    deliveryKind
	ep      Endpoint
	event   string
	payload any
}

// outbox collects the messages produced by one operation while the state
// lock is held. They are flushed, in order, once the state is consistent.
type outbox struct {
	items []delivery
}

func (o *outbox) send(ep Endpoint, event string, payload any) {
	if ep == nil {
		return
	}
	o.items = append(o.items, delivery{kind: toEndpoint, ep: ep, event: event, payload: payload})
}

func (o *outbox) broadcast(event string, payload any) {
	o.items = append(o.items, delivery{kind: toAll, event: event, payload: payload})
}

func (o *outbox) broadcastExcept(except Endpoint, event string, payload any) {
	o.items = append(o.items, delivery{kind: toOthers, ep: except, event: event, payload: payload})
}

func (o *outbox) flush(b Broadcaster, log logrus.FieldLogger) {
	for _, d := range o.items {
		msg, err := Encode(d.event, d.payload)
		if err != nil {
			log.WithFields(logrus.Fields{
				"event": d.event,
				"error": err,
			}).Error("Failed to encode outbound event")
			continue
		}

		switch d.kind {
		case toEndpoint:
			if !d.ep.Send(msg) {
				log.WithFields(logrus.Fields{
					"event":    d.event,
					"endpoint": d.ep.ID(),
				}).Warn("Endpoint did not accept event")
			}
		case toAll:
			b.Broadcast(msg, nil)
		case toOthers:
			b.Broadcast(msg, d.ep)
		}
	}
	o.items = nil
}

// publishPresence queues the full active-user snapshot for every endpoint.
func (c *Coordinator) publishPresence(o *outbox) {
	o.broadcast(EventUsersActive, c.reg.snapshot())
}

// publishViewers queues issueID's current viewer list for every endpoint.
func (c *Coordinator) publishViewers(o *outbox, issueID string) {
	o.broadcast(EventIssueViewing, IssueViewingPayload{
		IssueID: issueID,
		Users:   c.viewers.viewers(issueID),
	})
}

// publishActivity queues an activity:new for every endpoint currently
// connected. There is no replay for endpoints that connect later.
func (c *Coordinator) publishActivity(o *outbox, issueID, issueTitle, userID, userName, details string) {
	o.broadcast(EventActivityNew, Activity{
		ID:         "activity-" + c.newID(),
		Type:       "update",
		IssueID:    issueID,
		IssueTitle: issueTitle,
		UserID:     userID,
		UserName:   userName,
		Timestamp:  c.now().UnixMilli(),
		Details:    details,
	})
}
