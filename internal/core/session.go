package core

import (
	"sync"
	"sync/atomic"

	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/sirupsen/logrus"
)

// Session is the routing state of one conversation on one bot.
//
// Every dispatch, timer action and listener relay touching a session holds
// its lock for the whole operation, so handlers of one conversation never
// run concurrently. The cache and the reentrancy counter rely on that lock.
type Session struct {
	BotID          string
	ConversationID string
	Kind           message.Kind

	mu          sync.Mutex
	current     atomic.Int64
	cache       map[string]map[string]any // plugin -> key -> value
	transitions int
	moves       int // incremented by every state change

	disabledMu sync.RWMutex
	disabled   map[string]bool
}

func newSession(botID, conversationID string, kind message.Kind) *Session {
	s := &Session{
		BotID:          botID,
		ConversationID: conversationID,
		Kind:           kind,
		cache:          make(map[string]map[string]any),
		disabled:       make(map[string]bool),
	}
	s.current.Store(int64(RootState))
	return s
}

// State returns the current state. Safe to call without holding the lock.
func (s *Session) State() StateID {
	return StateID(s.current.Load())
}

func (s *Session) setState(id StateID) {
	s.moves++
	s.current.Store(int64(id))
}

// Lock acquires the per-session serialization lock
func (s *Session) Lock() {
	s.mu.Lock()
}

// Unlock releases the per-session serialization lock
func (s *Session) Unlock() {
	s.mu.Unlock()
}

// PluginEnabled reports whether plugin may run in this conversation
func (s *Session) PluginEnabled(plugin string) bool {
	s.disabledMu.RLock()
	defer s.disabledMu.RUnlock()
	return !s.disabled[plugin]
}

func (s *Session) setPluginEnabled(plugin string, enabled bool) {
	s.disabledMu.Lock()
	defer s.disabledMu.Unlock()
	if enabled {
		delete(s.disabled, plugin)
	} else {
		s.disabled[plugin] = true
	}
}

// cacheValue returns the cache entry for plugin/key, creating it with
// factory when missing. Caller holds the session lock.
func (s *Session) cacheValue(plugin, key string, factory func() any) any {
	pc, ok := s.cache[plugin]
	if !ok {
		pc = make(map[string]any)
		s.cache[plugin] = pc
	}
	v, ok := pc[key]
	if !ok && factory != nil {
		v = factory()
		pc[key] = v
	}
	return v
}

// pluginCache returns the plugin's cache namespace. Caller holds the lock.
func (s *Session) pluginCache(plugin string) map[string]any {
	pc, ok := s.cache[plugin]
	if !ok {
		pc = make(map[string]any)
		s.cache[plugin] = pc
	}
	return pc
}

type sessionKey struct {
	botID          string
	conversationID string
}

// SessionManager owns every session and performs state transitions
type SessionManager struct {
	tree     *StateTree
	mu       sync.RWMutex
	sessions map[sessionKey]*Session
}

// NewSessionManager creates a manager transitioning over tree
func NewSessionManager(tree *StateTree) *SessionManager {
	return &SessionManager{
		tree:     tree,
		sessions: make(map[sessionKey]*Session),
	}
}

// GetOrCreate returns the session for the conversation, creating it at the
// root state. Sessions live for the lifetime of the process.
func (m *SessionManager) GetOrCreate(botID, conversationID string, kind message.Kind) *Session {
	key := sessionKey{botID, conversationID}

	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s = newSession(botID, conversationID, kind)
	m.sessions[key] = s
	logger.WithFields(logrus.Fields{
		"bot":          botID,
		"conversation": conversationID,
		"kind":         kind,
	}).Debug("session-created")
	return s
}

// Get returns an existing session
func (m *SessionManager) Get(botID, conversationID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionKey{botID, conversationID}]
	return s, ok
}

// Len returns the number of sessions
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Goto moves the session of dc to target. Exit hooks run from the current
// state up to (not including) the common ancestor, then enter hooks run
// from below the common ancestor down to target. Going to the current
// state does nothing.
//
// The state is set to target once, after every hook has run, so hooks see
// the state the transition started from. A transition started by a hook
// takes precedence over the one that ran the hook.
func (m *SessionManager) Goto(dc *DispatchContext, target StateID) error {
	s := dc.Session
	m.warnReentrant(s, "goto")

	cur := s.State()
	moves := s.moves
	lca := m.tree.CommonAncestor(cur, target)

	for id := cur; id != lca; {
		m.runHooks(dc, id, m.tree.exitHooks(id), "exit")
		id, _ = m.tree.Parent(id)
	}

	// collect lca(exclusive) -> target
	var down []StateID
	for id := target; id != lca; {
		down = append(down, id)
		id, _ = m.tree.Parent(id)
	}
	for i := len(down) - 1; i >= 0; i-- {
		m.runHooks(dc, down[i], m.tree.enterHooks(down[i]), "enter")
	}
	if s.moves != moves {
		return nil
	}
	s.setState(target)

	logger.ForConversation(s.BotID, s.ConversationID).WithFields(logrus.Fields{
		"from": m.tree.String(cur),
		"to":   m.tree.String(target),
	}).Debug("state-transition")
	return nil
}

// Back moves the session of dc to the parent state, running the exit hooks
// of the state being left. At the root it does nothing.
func (m *SessionManager) Back(dc *DispatchContext) error {
	m.warnReentrant(dc.Session, "back")
	m.back(dc)
	return nil
}

func (m *SessionManager) back(dc *DispatchContext) {
	s := dc.Session
	cur := s.State()
	parent, ok := m.tree.Parent(cur)
	if !ok {
		return
	}
	m.runHooks(dc, cur, m.tree.exitHooks(cur), "exit")
	s.setState(parent)
}

// Enter moves the session of dc to a child of its current state
func (m *SessionManager) Enter(dc *DispatchContext, keys ...string) error {
	target, err := m.tree.Resolve(dc.Session.State(), keys...)
	if err != nil {
		return err
	}
	return m.Goto(dc, target)
}

func (m *SessionManager) warnReentrant(s *Session, op string) {
	if s.transitions > 0 {
		logger.ForConversation(s.BotID, s.ConversationID).WithFields(logrus.Fields{
			"op":    op,
			"state": m.tree.String(s.State()),
			"error": ErrReentrantTransition,
		}).Warn("reentrant-state-transition")
	}
}

// runHooks invokes hooks with the reentrancy counter raised. A failing or
// panicking hook is logged and the transition continues.
func (m *SessionManager) runHooks(dc *DispatchContext, id StateID, hooks []Hook, kind string) {
	s := dc.Session
	for _, h := range hooks {
		s.transitions++
		func() {
			defer func() {
				s.transitions--
				if r := recover(); r != nil {
					logger.ForConversation(s.BotID, s.ConversationID).WithFields(logrus.Fields{
						"state": m.tree.String(id),
						"hook":  kind,
						"panic": r,
					}).Error("state-hook-panic-recovered")
				}
			}()
			if err := h(dc); err != nil {
				logger.ForConversation(s.BotID, s.ConversationID).WithFields(logrus.Fields{
					"state": m.tree.String(id),
					"hook":  kind,
					"error": err,
				}).Error("state-hook-failed")
			}
		}()
	}
}
