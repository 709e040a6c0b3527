package coordinator

import (
	"sort"
	"time"
)

// registry maps user ids to their live presence, with a secondary index from
// endpoint id to user id. It is not safe for concurrent use; the
// Coordinator's mutex guards it.
type registry struct {
	users      map[string]*Presence
	byEndpoint map[string]string
}

func newRegistry() *registry {
	return &registry{
		users:      make(map[string]*Presence),
		byEndpoint: make(map[string]string),
	}
}

// register upserts the presence for userID. A later registration for the
// same user replaces the endpoint and orphans the previous one. It returns
// the user id previously bound to ep, if that was a different user.
func (r *registry) register(userID, name string, ep Endpoint, now time.Time) (displaced string) {
	if prev, ok := r.byEndpoint[ep.ID()]; ok && prev != userID {
		displaced = prev
	}

	if p, ok := r.users[userID]; ok && p.Endpoint != nil && p.Endpoint.ID() != ep.ID() {
		delete(r.byEndpoint, p.Endpoint.ID())
	}

	r.users[userID] = &Presence{
		UserID:     userID,
		UserName:   name,
		Endpoint:   ep,
		LastActive: now,
	}
	r.byEndpoint[ep.ID()] = userID
	return displaced
}

func (r *registry) lookup(userID string) (*Presence, bool) {
	p, ok := r.users[userID]
	return p, ok
}

func (r *registry) endpointToUser(ep Endpoint) (string, bool) {
	if ep == nil {
		return "", false
	}
	id, ok := r.byEndpoint[ep.ID()]
	return id, ok
}

// remove deletes the presence bound to ep.
func (r *registry) remove(ep Endpoint) (string, bool) {
	userID, ok := r.endpointToUser(ep)
	if !ok {
		return "", false
	}
	delete(r.byEndpoint, ep.ID())
	if p, ok := r.users[userID]; ok && p.Endpoint.ID() == ep.ID() {
		delete(r.users, userID)
	}
	return userID, true
}

// removeUser deletes userID's entry and its endpoint index.
func (r *registry) removeUser(userID string) {
	p, ok := r.users[userID]
	if !ok {
		return
	}
	delete(r.users, userID)
	if r.byEndpoint[p.Endpoint.ID()] == userID {
		delete(r.byEndpoint, p.Endpoint.ID())
	}
}

func (r *registry) len() int {
	return len(r.users)
}

// snapshot returns every presence ordered by user id.
func (r *registry) snapshot() []PresenceView {
	out := make([]PresenceView, 0, len(r.users))
	for _, p := range r.users {
		out = append(out, PresenceView{
			UserID:     p.UserID,
			UserName:   p.UserName,
			SocketID:   p.Endpoint.ID(),
			LastActive: unixMillis(p.LastActive),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
