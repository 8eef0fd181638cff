package core

import (
	"context"

	"github.com/keepmind9/statebot/internal/message"
	"github.com/keepmind9/statebot/internal/storage"
)

// DispatchContext is passed to every handler and hook. It replaces any
// ambient "current message" state: everything a handler may need about the
// event that triggered it is a field here.
//
// Timer actions get a DispatchContext from Engine.WithSession; its Event
// and Trigger are zero.
type DispatchContext struct {
	Engine  *Engine
	Session *Session
	Event   message.Event
	Plugin  *Plugin
	Trigger *Trigger

	// Command is the matched command text, without the prefix
	Command string
	// Groups are the regexp submatches of Command
	Groups []string
	// Arg is the message with the prefix and command removed
	Arg message.Message
	// Args is Arg split on the argument separator
	Args []string
	// Tokens is Args with non-text segments kept as segments
	Tokens []message.Segment

	Payload    any
	CacheValue any

	ctx context.Context
}

// Context returns the context of the dispatch
func (dc *DispatchContext) Context() context.Context {
	if dc.ctx == nil {
		return context.Background()
	}
	return dc.ctx
}

// Send delivers msg to the conversation. Failures are logged, not returned.
func (dc *DispatchContext) Send(msg message.Message) {
	_ = dc.Engine.send(dc.Context(), dc.Session.BotID, dc.Session.ConversationID, msg)
}

// SendText delivers a plain text message to the conversation
func (dc *DispatchContext) SendText(text string) {
	dc.Send(message.FromText(text))
}

// SendBatch delivers msgs as one or more batches of at most
// constants.BatchChunkSize items
func (dc *DispatchContext) SendBatch(msgs []message.Message) {
	_ = dc.Engine.sendBatch(dc.Context(), dc.Session.BotID, dc.Session.ConversationID, msgs)
}

// State returns the session's current state
func (dc *DispatchContext) State() StateID {
	return dc.Session.State()
}

// StateName returns the dotted path of the current state
func (dc *DispatchContext) StateName() string {
	return dc.Engine.tree.String(dc.Session.State())
}

// Goto transitions the session to target
func (dc *DispatchContext) Goto(target StateID) error {
	return dc.Engine.sessions.Goto(dc, target)
}

// GotoState transitions to keys below the plugin state. The state must
// already exist.
func (dc *DispatchContext) GotoState(keys ...string) error {
	target, err := dc.Engine.tree.Resolve(dc.Plugin.Root(), keys...)
	if err != nil {
		return err
	}
	return dc.Goto(target)
}

// Enter transitions to a child of the current state
func (dc *DispatchContext) Enter(keys ...string) error {
	return dc.Engine.sessions.Enter(dc, keys...)
}

// Back transitions to the parent state
func (dc *DispatchContext) Back() error {
	return dc.Engine.sessions.Back(dc)
}

// Cache returns the plugin's in-memory cache for this conversation
func (dc *DispatchContext) Cache() map[string]any {
	return dc.Session.pluginCache(dc.Plugin.Name())
}

// Storage returns an accessor for name, isolated to this conversation
func (dc *DispatchContext) Storage(name string) *storage.Accessor {
	return storage.NewAccessor(dc.Engine.store,
		storage.ConversationKey(dc.Session.BotID, dc.Session.ConversationID, dc.Plugin.Name(), name))
}

// SharedStorage returns an accessor for name, shared by all conversations
func (dc *DispatchContext) SharedStorage(name string) *storage.Accessor {
	return storage.NewAccessor(dc.Engine.store, storage.PluginKey(dc.Plugin.Name(), name))
}

// AddListener makes this conversation receive userID's private messages
func (dc *DispatchContext) AddListener(userID string) {
	dc.Engine.listeners.Add(dc.Session.BotID, userID, dc.Session.ConversationID)
}

// RemoveListener stops listening to userID. An empty userID stops
// listening to everyone.
func (dc *DispatchContext) RemoveListener(userID string) {
	if userID == "" {
		dc.Engine.listeners.RemoveAll(dc.Session.BotID, dc.Session.ConversationID)
		return
	}
	dc.Engine.listeners.Remove(dc.Session.BotID, userID, dc.Session.ConversationID)
}

// Help returns the plugin's help for the current state
func (dc *DispatchContext) Help() string {
	return dc.Engine.Help(dc.Plugin.Name(), dc.Session.State())
}
