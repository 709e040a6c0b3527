package server

import (
	"encoding/json"
	"fmt"

	"github.com/Tyrowin/boardcall/internal/coordinator"
)

type eventHandler func(c *Client, data json.RawMessage) error

// handlers routes inbound events to coordinator operations. Events not
// listed here are logged and ignored.
var handlers = map[string]eventHandler{
	coordinator.EventUserActive:    handleUserActive,
	coordinator.EventIssueView:     handleIssueView,
	coordinator.EventIssueLeave:    handleIssueLeave,
	coordinator.EventIssueUpdate:   handleIssueUpdate,
	coordinator.EventIssuesReorder: handleIssuesReorder,
	coordinator.EventCallStart:     handleCallStart,
	coordinator.EventCallAccept:    handleCallAccept,
	coordinator.EventCallReject:    handleCallReject,
	coordinator.EventCallEnd:       handleCallEnd,
	coordinator.EventSignal:        handleSignal,
}

func (c *Client) dispatch(env coordinator.Envelope) error {
	handle, ok := handlers[env.Event]
	if !ok {
		c.log.WithField("event", env.Event).Info("Ignoring unknown event")
		return nil
	}
	return handle(c, env.Data)
}

func decode(event string, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s: missing data", coordinator.ErrInvalidRequest, event)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", coordinator.ErrInvalidRequest, event, err)
	}
	return nil
}

func handleUserActive(c *Client, data json.RawMessage) error {
	var p coordinator.UserActivePayload
	if err := decode(coordinator.EventUserActive, data, &p); err != nil {
		return err
	}
	return c.hub.coord.Register(p.UserID, p.UserName, c)
}

func handleIssueView(c *Client, data json.RawMessage) error {
	var p coordinator.IssueViewPayload
	if err := decode(coordinator.EventIssueView, data, &p); err != nil {
		return err
	}
	return c.hub.coord.ViewIssue(p.IssueID, p.UserID, p.UserName, c)
}

func handleIssueLeave(c *Client, data json.RawMessage) error {
	var p coordinator.IssueViewPayload
	if err := decode(coordinator.EventIssueLeave, data, &p); err != nil {
		return err
	}
	return c.hub.coord.LeaveIssue(p.IssueID, p.UserID)
}

func handleIssueUpdate(c *Client, data json.RawMessage) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s: missing data", coordinator.ErrInvalidRequest, coordinator.EventIssueUpdate)
	}
	return c.hub.coord.UpdateIssue(c, data)
}

func handleIssuesReorder(c *Client, data json.RawMessage) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s: missing data", coordinator.ErrInvalidRequest, coordinator.EventIssuesReorder)
	}
	return c.hub.coord.ReorderIssues(c, data)
}

func handleCallStart(c *Client, data json.RawMessage) error {
	var p coordinator.CallStartPayload
	if err := decode(coordinator.EventCallStart, data, &p); err != nil {
		return err
	}
	_, err := c.hub.coord.StartCall(p.CallerID, p.CallerName, p.TargetID)
	return err
}

func handleCallAccept(c *Client, data json.RawMessage) error {
	var p coordinator.CallAnswerPayload
	if err := decode(coordinator.EventCallAccept, data, &p); err != nil {
		return err
	}
	_, err := c.hub.coord.AcceptCall(p.CallID, p.TargetID)
	return err
}

func handleCallReject(c *Client, data json.RawMessage) error {
	var p coordinator.CallAnswerPayload
	if err := decode(coordinator.EventCallReject, data, &p); err != nil {
		return err
	}
	_, err := c.hub.coord.RejectCall(p.CallID, p.TargetID)
	return err
}

func handleCallEnd(c *Client, data json.RawMessage) error {
	var p coordinator.CallEndPayload
	if err := decode(coordinator.EventCallEnd, data, &p); err != nil {
		return err
	}
	_, err := c.hub.coord.EndCall(p.CallID, p.UserID)
	return err
}

func handleSignal(c *Client, data json.RawMessage) error {
	var p coordinator.SignalPayload
	if err := decode(coordinator.EventSignal, data, &p); err != nil {
		return err
	}
	return c.hub.coord.Relay(c, p.CallID, p.Signal, p.TargetID)
}
