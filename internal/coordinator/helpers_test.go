package coordinator_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/boardcall/internal/coordinator"
)

// fakeEndpoint records every frame it is sent.
type fakeEndpoint struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	refuse bool
}

func newEndpoint(id string) *fakeEndpoint {
	return &fakeEndpoint{id: id}
}

func (e *fakeEndpoint) ID() string { return e.id }

func (e *fakeEndpoint) Send(message []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refuse {
		return false
	}
	e.frames = append(e.frames, append([]byte(nil), message...))
	return true
}

func (e *fakeEndpoint) envelopes(t *testing.T) []coordinator.Envelope {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]coordinator.Envelope, 0, len(e.frames))
	for _, f := range e.frames {
		var env coordinator.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env)
	}
	return out
}

// events returns the decoded payloads of every frame named event.
func (e *fakeEndpoint) events(t *testing.T, event string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, env := range e.envelopes(t) {
		if env.Event != event {
			continue
		}
		var payload map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		out = append(out, payload)
	}
	return out
}

// count returns how many frames named event were received.
func (e *fakeEndpoint) count(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, env := range e.envelopes(t) {
		if env.Event == event {
			n++
		}
	}
	return n
}

func (e *fakeEndpoint) reset() {
	e.mu.Lock()
	e.frames = nil
	e.mu.Unlock()
}

// fakeHub is a Broadcaster over a fixed set of connected endpoints.
type fakeHub struct {
	mu        sync.Mutex
	endpoints []*fakeEndpoint
}

func (h *fakeHub) connect(id string) *fakeEndpoint {
	ep := newEndpoint(id)
	h.mu.Lock()
	h.endpoints = append(h.endpoints, ep)
	h.mu.Unlock()
	return ep
}

func (h *fakeHub) drop(ep *fakeEndpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.endpoints {
		if e == ep {
			h.endpoints = append(h.endpoints[:i], h.endpoints[i+1:]...)
			return
		}
	}
}

func (h *fakeHub) Broadcast(message []byte, except coordinator.Endpoint) {
	h.mu.Lock()
	endpoints := append([]*fakeEndpoint(nil), h.endpoints...)
	h.mu.Unlock()
	for _, ep := range endpoints {
		if except != nil && ep.ID() == except.ID() {
			continue
		}
		ep.Send(message)
	}
}

func newTestCoordinator(t *testing.T, opts coordinator.Options) (*coordinator.Coordinator, *fakeHub) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	if opts.Logger == nil {
		opts.Logger = logger
	}
	if opts.EvictionDelay == 0 {
		opts.EvictionDelay = time.Minute
	}
	hub := &fakeHub{}
	c := coordinator.New(hub, opts)
	t.Cleanup(c.Close)
	return c, hub
}

// registerPair connects and registers alice and bob.
func registerPair(t *testing.T, c *coordinator.Coordinator, hub *fakeHub) (*fakeEndpoint, *fakeEndpoint) {
	t.Helper()
	alice := hub.connect("sock-alice")
	bob := hub.connect("sock-bob")
	require.NoError(t, c.Register("alice", "Alice", alice))
	require.NoError(t, c.Register("bob", "Bob", bob))
	alice.reset()
	bob.reset()
	return alice, bob
}
