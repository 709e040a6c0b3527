package coordinator

import "sort"

// viewerTracker maps issue ids to the users viewing them. byEndpoint is the
// reverse index used on disconnect. Guarded by the Coordinator's mutex.
type viewerTracker struct {
	issues     map[string]map[string]Viewer
	byEndpoint map[string]map[string]struct{}
}

func newViewerTracker() *viewerTracker {
	return &viewerTracker{
		issues:     make(map[string]map[string]Viewer),
		byEndpoint: make(map[string]map[string]struct{}),
	}
}

// view adds or refreshes userID in issueID's viewer set.
func (v *viewerTracker) view(issueID string, viewer Viewer) {
	set, ok := v.issues[issueID]
	if !ok {
		set = make(map[string]Viewer)
		v.issues[issueID] = set
	}

	if prev, ok := set[viewer.UserID]; ok && prev.Endpoint.ID() != viewer.Endpoint.ID() {
		v.unindex(prev.Endpoint.ID(), issueID)
	}
	set[viewer.UserID] = viewer

	epID := viewer.Endpoint.ID()
	issues, ok := v.byEndpoint[epID]
	if !ok {
		issues = make(map[string]struct{})
		v.byEndpoint[epID] = issues
	}
	issues[issueID] = struct{}{}
}

// leave removes userID from issueID and reports whether anything changed.
func (v *viewerTracker) leave(issueID, userID string) bool {
	set, ok := v.issues[issueID]
	if !ok {
		return false
	}
	viewer, ok := set[userID]
	if !ok {
		return false
	}
	delete(set, userID)
	v.unindex(viewer.Endpoint.ID(), issueID)
	if len(set) == 0 {
		delete(v.issues, issueID)
	}
	return true
}

// purge removes endpointID from every viewer set it appears in and returns
// the affected issue ids in sorted order.
func (v *viewerTracker) purge(endpointID string) []string {
	issues, ok := v.byEndpoint[endpointID]
	if !ok {
		return nil
	}
	delete(v.byEndpoint, endpointID)

	affected := make([]string, 0, len(issues))
	for issueID := range issues {
		set := v.issues[issueID]
		for userID, viewer := range set {
			if viewer.Endpoint.ID() == endpointID {
				delete(set, userID)
			}
		}
		if len(set) == 0 {
			delete(v.issues, issueID)
		}
		affected = append(affected, issueID)
	}
	sort.Strings(affected)
	return affected
}

// removeUser drops userID's entries that are bound to endpointID and
// returns the affected issue ids in sorted order. Other users viewing
// through the same endpoint are kept.
func (v *viewerTracker) removeUser(endpointID, userID string) []string {
	var affected []string
	for issueID := range v.byEndpoint[endpointID] {
		viewer, ok := v.issues[issueID][userID]
		if !ok || viewer.Endpoint.ID() != endpointID {
			continue
		}
		affected = append(affected, issueID)
	}
	for _, issueID := range affected {
		v.leave(issueID, userID)
	}
	sort.Strings(affected)
	return affected
}

func (v *viewerTracker) unindex(endpointID, issueID string) {
	issues, ok := v.byEndpoint[endpointID]
	if !ok {
		return
	}
	delete(issues, issueID)
	if len(issues) == 0 {
		delete(v.byEndpoint, endpointID)
	}
}

// viewers returns issueID's viewer list ordered by user id. The result is
// empty, never nil, when nobody views the issue.
func (v *viewerTracker) viewers(issueID string) []ViewerView {
	set := v.issues[issueID]
	out := make([]ViewerView, 0, len(set))
	for _, viewer := range set {
		out = append(out, ViewerView{
			UserID:   viewer.UserID,
			UserName: viewer.UserName,
			SocketID: viewer.Endpoint.ID(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (v *viewerTracker) len() int {
	return len(v.issues)
}
