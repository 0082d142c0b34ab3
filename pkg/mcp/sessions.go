package mcp

import (
	"sort"
	"sync"
)

// WatchRegistry maps workflow IDs to the MCP sessions that read them.
// Populated when a session calls a tool with a stored workflow_id.
type WatchRegistry struct {
	mu       sync.RWMutex
	watchers map[string]map[string]struct{} // workflowID → sessionIDs
}

// NewWatchRegistry creates a new empty WatchRegistry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{watchers: make(map[string]map[string]struct{})}
}

// Watch records that sessionID reads workflowID.
func (r *WatchRegistry) Watch(workflowID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[workflowID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[workflowID] = set
	}
	set[sessionID] = struct{}{}
}

// Watchers returns the sessions watching workflowID, sorted.
func (r *WatchRegistry) Watchers(workflowID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.watchers[workflowID]))
	for sid := range r.watchers[workflowID] {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

// Remove drops the session from every workflow.
// Called when a session disconnects.
func (r *WatchRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for wf, set := range r.watchers {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.watchers, wf)
		}
	}
}
