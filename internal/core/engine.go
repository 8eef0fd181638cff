package core

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/keepmind9/statebot/internal/bot"
	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/keepmind9/statebot/internal/storage"
	"github.com/keepmind9/statebot/pkg/constants"
	"github.com/sirupsen/logrus"
)

// Transport is the outbound side of a bot as the engine uses it
type Transport interface {
	SendMessage(ctx context.Context, conversationID string, msg message.Message) error
	SendBatch(ctx context.Context, conversationID string, msgs []message.Message) error
}

// Engine is the routing engine. It owns the state tree, the trigger
// registry, the sessions, the listeners and the timers, and routes events
// from every registered bot.
type Engine struct {
	config    *Config
	tree      *StateTree
	registry  *TriggerRegistry
	sessions  *SessionManager
	listeners *ListenerRegistry
	timers    *TimerScheduler
	store     storage.Store

	pluginMu sync.RWMutex
	plugins  map[string]*Plugin
	order    []string

	botMu     sync.RWMutex
	bots      map[string]bot.BotAdapter // Bot id -> adapter
	connected map[string]bool

	hookServer *http.Server
	inflight   sync.WaitGroup
	ctx        context.Context    // Context for cancellation
	cancel     context.CancelFunc // Cancel function for graceful shutdown
	timerOnce  sync.Once
	stopOnce   sync.Once
}

// NewEngine creates a new Engine instance. A nil store keeps plugin data
// in memory.
func NewEngine(config *Config, store storage.Store) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	applyDefaults(config)
	if store == nil {
		store = storage.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	tree := NewStateTree(config.Command.StateSeparator)

	e := &Engine{
		config:    config,
		tree:      tree,
		registry:  NewTriggerRegistry(),
		sessions:  NewSessionManager(tree),
		listeners: NewListenerRegistry(),
		store:     store,
		plugins:   make(map[string]*Plugin),
		bots:      make(map[string]bot.BotAdapter),
		connected: make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
	e.timers = newTimerScheduler(e)
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() *Config {
	return e.config
}

// Tree returns the state tree
func (e *Engine) Tree() *StateTree {
	return e.tree
}

// Registry returns the trigger registry
func (e *Engine) Registry() *TriggerRegistry {
	return e.registry
}

// Sessions returns the session manager
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// Listeners returns the private listener registry
func (e *Engine) Listeners() *ListenerRegistry {
	return e.listeners
}

// Timers returns the timer scheduler
func (e *Engine) Timers() *TimerScheduler {
	return e.timers
}

// Store returns the storage backend
func (e *Engine) Store() storage.Store {
	return e.store
}

// NewPlugin creates a plugin whose states live below root.<name>. The
// plugin is not routed to until passed to Register.
func (e *Engine) NewPlugin(name string) *Plugin {
	return &Plugin{
		engine: e,
		name:   name,
		root:   e.tree.Join(RootState, name),
	}
}

// Register adds the plugin's triggers, timers and state hooks. A name already taken
// yields ErrRegistrationConflict and the plugin is ignored; registering
// after Start yields ErrTreeFrozen.
func (e *Engine) Register(p *Plugin) error {
	if e.tree.Frozen() {
		return fmt.Errorf("register %s: %w", p.name, ErrTreeFrozen)
	}
	for _, t := range p.timers {
		if err := t.validate(); err != nil {
			return err
		}
	}

	e.pluginMu.Lock()
	if _, exists := e.plugins[p.name]; exists {
		e.pluginMu.Unlock()
		logger.WithField("plugin", p.name).Warn("duplicate-plugin-ignored")
		return fmt.Errorf("%w: %s", ErrRegistrationConflict, p.name)
	}
	if err := p.installHooks(); err != nil {
		e.pluginMu.Unlock()
		return err
	}
	e.plugins[p.name] = p
	e.order = append(e.order, p.name)
	e.pluginMu.Unlock()

	e.registry.add(p.triggers...)
	e.timers.add(p.timers...)

	logger.WithFields(logrus.Fields{
		"plugin":   p.name,
		"triggers": len(p.triggers),
		"timers":   len(p.timers),
	}).Info("plugin-registered")
	return nil
}

// Plugin returns a registered plugin or nil
func (e *Engine) Plugin(name string) *Plugin {
	e.pluginMu.RLock()
	defer e.pluginMu.RUnlock()
	return e.plugins[name]
}

// Plugins returns the registered plugins in registration order
func (e *Engine) Plugins() []*Plugin {
	e.pluginMu.RLock()
	defer e.pluginMu.RUnlock()
	out := make([]*Plugin, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.plugins[name])
	}
	return out
}

// RegisterBot registers a bot adapter under id
func (e *Engine) RegisterBot(id string, adapter bot.BotAdapter) {
	e.botMu.Lock()
	defer e.botMu.Unlock()
	e.bots[id] = adapter
}

// BotIDs returns the ids of registered bots, sorted
func (e *Engine) BotIDs() []string {
	e.botMu.RLock()
	defer e.botMu.RUnlock()
	out := make([]string, 0, len(e.bots))
	for id := range e.bots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BotConnected marks a bot as connected. The first connection starts the
// timers.
func (e *Engine) BotConnected(id string) {
	e.botMu.Lock()
	e.connected[id] = true
	e.botMu.Unlock()

	logger.WithField("bot", id).Info("bot-connected")
	e.timerOnce.Do(func() {
		e.timers.Start(e.ctx)
	})
}

// BotDisconnected removes a bot from the connected set. Handlers already
// running are not interrupted.
func (e *Engine) BotDisconnected(id string) {
	e.botMu.Lock()
	delete(e.connected, id)
	e.botMu.Unlock()
	logger.WithField("bot", id).Info("bot-disconnected")
}

// IsConnected reports whether the bot is connected
func (e *Engine) IsConnected(id string) bool {
	e.botMu.RLock()
	defer e.botMu.RUnlock()
	return e.connected[id]
}

// ConnectedBots returns the ids of connected bots, sorted
func (e *Engine) ConnectedBots() []string {
	e.botMu.RLock()
	defer e.botMu.RUnlock()
	out := make([]string, 0, len(e.connected))
	for id := range e.connected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) transport(id string) (Transport, error) {
	e.botMu.RLock()
	defer e.botMu.RUnlock()
	b, ok := e.bots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBot, id)
	}
	return b, nil
}

// Start freezes the state tree, starts the hook server and connects every
// registered bot. Bots connect in the background; timers start with the
// first successful connection.
func (e *Engine) Start() error {
	logger.Info("starting-statebot-engine")
	e.tree.Freeze()

	// plugins disabled in configuration start disabled everywhere
	for _, p := range e.Plugins() {
		if !e.config.IsPluginEnabled(p.name) {
			logger.WithField("plugin", p.name).Info("plugin-disabled-by-config")
		}
	}

	if e.config.HookServer.Enabled {
		e.startHookServer()
	}

	e.botMu.RLock()
	bots := make(map[string]bot.BotAdapter, len(e.bots))
	for id, b := range e.bots {
		bots[id] = b
	}
	e.botMu.RUnlock()

	for id, adapter := range bots {
		logger.WithField("bot", id).Info("starting-bot")
		go func(botID string, ba bot.BotAdapter) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(logrus.Fields{
						"bot":   botID,
						"panic": r,
					}).Error("bot-start-panic-recovered")
				}
			}()
			err := ba.Start(func(ev message.Event) {
				ev.BotID = botID
				e.Submit(ev)
			})
			if err != nil {
				logger.WithFields(logrus.Fields{
					"bot":   botID,
					"error": err,
				}).Error("failed-to-start-bot")
				return
			}
			e.BotConnected(botID)
		}(id, adapter)
	}
	return nil
}

// Run starts the engine and blocks until ctx is done, then stops it
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	logger.Info("engine-running")
	<-ctx.Done()
	logger.Info("engine-shutting-down")
	return e.Stop()
}

// SetPluginEnabled switches a plugin on or off for one conversation
func (e *Engine) SetPluginEnabled(botID, conversationID, plugin string, enabled bool) error {
	if e.Plugin(plugin) == nil {
		return fmt.Errorf("unknown plugin %s", plugin)
	}
	s := e.sessions.GetOrCreate(botID, conversationID, message.KindGroup)
	s.setPluginEnabled(plugin, enabled)
	logger.ForConversation(botID, conversationID).WithFields(logrus.Fields{
		"plugin":  plugin,
		"enabled": enabled,
	}).Info("plugin-switched")
	return nil
}

// WithSession runs fn against a conversation outside of any inbound
// event, as timers do. It fails with ErrBotOffline when the bot is not
// connected and with ErrPluginDisabled when the plugin is switched off for
// the conversation. fn runs under the session lock; it must not dispatch
// into the same conversation.
func (e *Engine) WithSession(ctx context.Context, botID, conversationID, plugin string, fn func(dc *DispatchContext) error) (err error) {
	if _, err := e.transport(botID); err != nil {
		return err
	}
	if !e.IsConnected(botID) {
		return fmt.Errorf("%w: %s", ErrBotOffline, botID)
	}
	p := e.Plugin(plugin)
	if p == nil {
		return fmt.Errorf("unknown plugin %s", plugin)
	}

	s := e.sessions.GetOrCreate(botID, conversationID, message.KindGroup)
	s.Lock()
	defer s.Unlock()

	if !e.pluginAllowed(s, plugin) {
		return fmt.Errorf("%w: %s in %s", ErrPluginDisabled, plugin, conversationID)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ForConversation(botID, conversationID).WithFields(logrus.Fields{
				"plugin": plugin,
				"panic":  r,
			}).Error("session-action-panic-recovered")
			err = fmt.Errorf("session action panicked: %v", r)
		}
	}()
	return fn(&DispatchContext{
		Engine:  e,
		Session: s,
		Plugin:  p,
		ctx:     ctx,
	})
}

// pluginAllowed combines the global switch with the per-conversation one
func (e *Engine) pluginAllowed(s *Session, plugin string) bool {
	return e.config.IsPluginEnabled(plugin) && s.PluginEnabled(plugin)
}

// SendTo delivers msg to a conversation. Used outside of dispatch.
func (e *Engine) SendTo(ctx context.Context, botID, conversationID string, msg message.Message) error {
	if !e.IsConnected(botID) {
		return fmt.Errorf("%w: %s", ErrBotOffline, botID)
	}
	return e.send(ctx, botID, conversationID, msg)
}

// SendBatchTo delivers msgs to a conversation in chunks
func (e *Engine) SendBatchTo(ctx context.Context, botID, conversationID string, msgs []message.Message) error {
	if !e.IsConnected(botID) {
		return fmt.Errorf("%w: %s", ErrBotOffline, botID)
	}
	return e.sendBatch(ctx, botID, conversationID, msgs)
}

// send delivers one message. Failures are logged and counted; the error is
// returned for callers that care.
func (e *Engine) send(ctx context.Context, botID, conversationID string, msg message.Message) error {
	t, err := e.transport(botID)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"bot":   botID,
			"error": err,
		}).Error("failed-to-send-message")
		return err
	}
	if err := t.SendMessage(ctx, conversationID, msg); err != nil {
		sendFailures.WithLabelValues(botID).Inc()
		logger.WithFields(logrus.Fields{
			"bot":          botID,
			"conversation": conversationID,
			"error":        err,
		}).Error("failed-to-send-message")
		return fmt.Errorf("%w: %v", ErrTransportSend, err)
	}
	logger.WithFields(logrus.Fields{
		"bot":          botID,
		"conversation": conversationID,
		"segments":     len(msg),
	}).Debug("message-sent")
	return nil
}

// sendBatch splits msgs into chunks of constants.BatchChunkSize. Every
// chunk is attempted even when an earlier one fails.
func (e *Engine) sendBatch(ctx context.Context, botID, conversationID string, msgs []message.Message) error {
	t, err := e.transport(botID)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"bot":   botID,
			"error": err,
		}).Error("failed-to-send-batch")
		return err
	}
	var firstErr error
	for start := 0; start < len(msgs); start += constants.BatchChunkSize {
		end := min(start+constants.BatchChunkSize, len(msgs))
		if err := t.SendBatch(ctx, conversationID, msgs[start:end]); err != nil {
			sendFailures.WithLabelValues(botID).Inc()
			logger.WithFields(logrus.Fields{
				"bot":          botID,
				"conversation": conversationID,
				"chunk_start":  start,
				"chunk_size":   end - start,
				"error":        err,
			}).Error("failed-to-send-batch")
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %v", ErrTransportSend, err)
			}
		}
	}
	return firstErr
}

// Intro returns the plugin's introduction followed by the help of its
// triggers attached to the root state
func (e *Engine) Intro(plugin string) string {
	p := e.Plugin(plugin)
	if p == nil {
		return ""
	}
	lines := []string{p.intro}
	if p.intro == "" {
		lines[0] = "no introduction"
	}
	for _, t := range e.registry.At(RootState) {
		if t.Plugin == plugin {
			lines = append(lines, e.helpLine(t))
		}
	}
	return strings.Join(lines, "\n")
}

// Help returns the help of the plugin's triggers reachable from state,
// grouped by the state they are attached to. Commands already listed for
// a closer state are skipped. With nothing reachable it falls back to
// Intro.
func (e *Engine) Help(plugin string, state StateID) string {
	if e.Plugin(plugin) == nil {
		return ""
	}
	seen := make(map[string]bool)
	var lines []string
	for _, b := range e.registry.cascade(e.tree, state, nil) {
		header := false
		for _, t := range b.triggers {
			if t.Plugin != plugin {
				continue
			}
			cmds := t.CommandStrings()
			dup := false
			for _, c := range cmds {
				if seen[c] {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			if !header {
				lines = append(lines, "["+e.stateLabel(b.state)+"]")
				header = true
			}
			for _, c := range cmds {
				seen[c] = true
			}
			lines = append(lines, e.helpLine(t))
		}
	}
	if len(lines) == 0 {
		return e.Intro(plugin)
	}
	return strings.Join(lines, "\n")
}

// stateLabel drops the root segment from a state path
func (e *Engine) stateLabel(id StateID) string {
	if id == RootState {
		return constants.RootStateKey
	}
	return strings.Join(e.tree.Path(id)[1:], e.config.Command.StateSeparator)
}

func (e *Engine) helpLine(t *Trigger) string {
	var b strings.Builder
	if t.IsText() {
		b.WriteString("<text>")
	} else {
		for i, c := range t.CommandStrings() {
			if i > 0 {
				b.WriteString("/")
			}
			b.WriteString(e.config.Command.Prefix + c)
		}
	}
	for _, in := range t.Inputs {
		if in.Kind != InputPayload {
			continue
		}
		if usage := payloadUsage(in.New); usage != "" {
			b.WriteString(" " + usage)
		}
	}
	if t.Help != "" {
		b.WriteString(" " + t.Help)
	}
	return b.String()
}

// Dump snapshots the state tree with the triggers attached to each state
func (e *Engine) Dump() StateDump {
	dump := e.tree.Dump()
	for i := range dump.States {
		for _, t := range e.registry.At(dump.States[i].ID) {
			dump.States[i].Triggers = append(dump.States[i].Triggers, t.info())
		}
	}
	return dump
}

// Stop gracefully stops the engine: timers end, the hook server shuts
// down, bots stop and in-flight dispatches are awaited up to
// constants.ShutdownTimeout.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		logger.Info("stopping-statebot-engine")

		// Cancel context to stop timers
		if e.cancel != nil {
			e.cancel()
		}

		// Stop hook server with graceful shutdown
		if e.hookServer != nil {
			logger.Info("stopping-hook-server")
			ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := e.hookServer.Shutdown(ctx); err != nil {
				logger.Errorf("failed-to-gracefully-stop-hook-server: %v", err)
				// Force close if graceful shutdown fails
				e.hookServer.Close()
			} else {
				logger.Info("hook-server-stopped-gracefully")
			}
		}

		// Stop all bots
		e.botMu.RLock()
		bots := make(map[string]bot.BotAdapter, len(e.bots))
		for id, b := range e.bots {
			bots[id] = b
		}
		e.botMu.RUnlock()
		for id, adapter := range bots {
			logger.WithField("bot", id).Info("stopping-bot")
			if err := adapter.Stop(); err != nil {
				logger.WithFields(logrus.Fields{
					"bot":   id,
					"error": err,
				}).Error("failed-to-stop-bot")
			}
			e.BotDisconnected(id)
		}

		e.timers.Wait()

		done := make(chan struct{})
		go func() {
			e.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(constants.ShutdownTimeout):
			logger.Warn("in-flight-dispatches-still-running")
		}

		if err := e.store.Close(); err != nil {
			logger.WithField("error", err).Error("failed-to-close-storage")
		}
		logger.Info("engine-stopped")
	})
	return nil
}
