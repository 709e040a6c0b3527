package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
)

// issueRef is the part of an issue the coordinator reads for the activity
// feed. The rest of the issue is forwarded untouched.
type issueRef struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Issue json.RawMessage `json:"issue"`
}

// parseIssueRef accepts either a bare issue or one wrapped as {"issue": ...}.
func parseIssueRef(data json.RawMessage) (issueRef, error) {
	var ref issueRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return ref, err
	}
	if ref.ID == "" && len(ref.Issue) > 0 {
		var inner issueRef
		if err := json.Unmarshal(ref.Issue, &inner); err != nil {
			return ref, err
		}
		return inner, nil
	}
	return ref, nil
}

// parseIssueList accepts either a bare array or one wrapped as
// {"issues": [...]}.
func parseIssueList(data json.RawMessage) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Issues []json.RawMessage `json:"issues"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Issues == nil {
		return nil, errors.New("missing issues")
	}
	return wrapped.Issues, nil
}

// UpdateIssue forwards an edited issue to every other client as
// issue:updated and records an activity.
func (c *Coordinator) UpdateIssue(from Endpoint, issue json.RawMessage) error {
	ref, err := parseIssueRef(issue)
	if err != nil {
		return fmt.Errorf("%w: issue: %v", ErrInvalidRequest, err)
	}
	if ref.ID == "" {
		return fmt.Errorf("%w: issue id is required", ErrInvalidRequest)
	}

	o, err := c.lock()
	if err != nil {
		return err
	}
	defer c.unlock(o)

	userID, userName := c.actor(from)
	o.broadcastExcept(from, EventIssueUpdated, issue)
	c.publishActivity(o, ref.ID, ref.Title, userID, userName, "")
	return nil
}

// ReorderIssues forwards a new issue ordering to every other client as
// issues:reordered and records an activity.
func (c *Coordinator) ReorderIssues(from Endpoint, issues json.RawMessage) error {
	if _, err := parseIssueList(issues); err != nil {
		return fmt.Errorf("%w: issues: %v", ErrInvalidRequest, err)
	}

	o, err := c.lock()
	if err != nil {
		return err
	}
	defer c.unlock(o)

	userID, userName := c.actor(from)
	o.broadcastExcept(from, EventIssuesReordered, issues)
	c.publishActivity(o, "multiple", "issues order", userID, userName, "Reordered issues")
	return nil
}

// actor resolves the identity registered on ep for activity records.
func (c *Coordinator) actor(ep Endpoint) (string, string) {
	if id, ok := c.reg.endpointToUser(ep); ok {
		if p, ok := c.reg.lookup(id); ok {
			return p.UserID, p.UserName
		}
	}
	return "unknown", "User"
}
