package core

import (
	"sort"
	"sync"
)

// listenKey scopes a listened user to one bot. A private message reaches
// only the conversations of the bot it arrived on.
type listenKey struct {
	botID  string
	userID string
}

// ListenerRegistry records which conversations listen to a user's private
// messages. A private message from a listened user is dispatched again in
// each listening conversation of the same bot.
type ListenerRegistry struct {
	mu        sync.RWMutex
	listeners map[listenKey]map[string]struct{} // (bot, user) -> conversation set
}

// NewListenerRegistry creates an empty registry
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{listeners: make(map[listenKey]map[string]struct{})}
}

// Add subscribes conversationID of botID to userID's private messages
func (r *ListenerRegistry) Add(botID, userID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := listenKey{botID, userID}
	set, ok := r.listeners[key]
	if !ok {
		set = make(map[string]struct{})
		r.listeners[key] = set
	}
	set[conversationID] = struct{}{}
}

// Remove unsubscribes conversationID of botID from userID
func (r *ListenerRegistry) Remove(botID, userID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := listenKey{botID, userID}
	set, ok := r.listeners[key]
	if !ok {
		return
	}
	delete(set, conversationID)
	if len(set) == 0 {
		delete(r.listeners, key)
	}
}

// RemoveAll unsubscribes conversationID of botID from every user
func (r *ListenerRegistry) RemoveAll(botID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, set := range r.listeners {
		if key.botID != botID {
			continue
		}
		delete(set, conversationID)
		if len(set) == 0 {
			delete(r.listeners, key)
		}
	}
}

// Listeners returns the conversations of botID listening to userID, sorted
func (r *ListenerRegistry) Listeners(botID, userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.listeners[listenKey{botID, userID}]
	out := make([]string, 0, len(set))
	for conv := range set {
		out = append(out, conv)
	}
	sort.Strings(out)
	return out
}

// Listening returns the users conversationID of botID listens to, sorted
func (r *ListenerRegistry) Listening(botID, conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for key, set := range r.listeners {
		if key.botID != botID {
			continue
		}
		if _, ok := set[conversationID]; ok {
			out = append(out, key.userID)
		}
	}
	sort.Strings(out)
	return out
}
