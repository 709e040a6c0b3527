package coordinator_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/boardcall/internal/coordinator"
)

func TestUpdateIssueForwardsToOthers(t *testing.T) {
	c, hub := newTestCoordinator(t, coordinator.Options{})
	alice, bob := registerPair(t, c, hub)

	issue := json.RawMessage(`{"id":"ISSUE-7","title":"Fix login","status":"in-progress","priority":"high"}`)
	require.NoError(t, c.UpdateIssue(alice, issue))

	assert.Zero(t, alice.count(t, coordinator.EventIssueUpdated))
	updated := bob.events(t, coordinator.EventIssueUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "in-progress", updated[0]["status"])

	for _, ep := range []*fakeEndpoint{alice, bob} {
		activity := ep.events(t, coordinator.EventActivityNew)
		require.Len(t, activity, 1)
		assert.Equal(t, "ISSUE-7", activity[0]["issueId"])
		assert.Equal(t, "Fix login", activity[0]["issueTitle"])
		assert.Equal(t, "alice", activity[0]["userId"])
		assert.Equal(t, "update", activity[0]["type"])
	}
}

func TestUpdateIssueAcceptsWrappedIssue(t *testing.T) {
	c, hub := newTestCoordinator(t, coordinator.Options{})
	alice, bob := registerPair(t, c, hub)

	require.NoError(t, c.UpdateIssue(alice, json.RawMessage(`{"issue":{"id":"ISSUE-3","title":"Docs"}}`)))

	activity := bob.events(t, coordinator.EventActivityNew)
	require.Len(t, activity, 1)
	assert.Equal(t, "ISSUE-3", activity[0]["issueId"])
}

func TestUpdateIssueRequiresID(t *testing.T) {
	c, hub := newTestCoordinator(t, coordinator.Options{})
	alice, bob := registerPair(t, c, hub)

	tests := []struct {
		name  string
		issue string
	}{
		{name: "no id", issue: `{"title":"Untitled"}`},
		{name: "not an object", issue: `"ISSUE-1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.UpdateIssue(alice, json.RawMessage(tt.issue))
			assert.ErrorIs(t, err, coordinator.ErrInvalidRequest)
		})
	}
	assert.Empty(t, bob.envelopes(t))
}

func TestReorderIssues(t *testing.T) {
	c, hub := newTestCoordinator(t, coordinator.Options{})
	alice, bob := registerPair(t, c, hub)

	require.NoError(t, c.ReorderIssues(bob, json.RawMessage(`[{"id":"B"},{"id":"A"}]`)))
	require.NoError(t, c.ReorderIssues(bob, json.RawMessage(`{"issues":[{"id":"A"},{"id":"B"}]}`)))

	assert.Equal(t, 2, alice.count(t, coordinator.EventIssuesReordered))
	assert.Zero(t, bob.count(t, coordinator.EventIssuesReordered))

	activity := alice.events(t, coordinator.EventActivityNew)
	require.Len(t, activity, 2)
	assert.Equal(t, "Reordered issues", activity[0]["details"])
	assert.Equal(t, "Bob", activity[0]["userName"])

	err := c.ReorderIssues(bob, json.RawMessage(`{"order":[]}`))
	assert.ErrorIs(t, err, coordinator.ErrInvalidRequest)
}

func TestBoardEventsFromUnregisteredEndpoint(t *testing.T) {
	c, hub := newTestCoordinator(t, coordinator.Options{})
	alice, _ := registerPair(t, c, hub)
	anon := hub.connect("sock-anon")

	require.NoError(t, c.UpdateIssue(anon, json.RawMessage(`{"id":"ISSUE-1"}`)))

	activity := alice.events(t, coordinator.EventActivityNew)
	require.Len(t, activity, 1)
	assert.Equal(t, "unknown", activity[0]["userId"])
	assert.Equal(t, "User", activity[0]["userName"])
}
