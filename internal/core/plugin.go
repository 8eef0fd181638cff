package core

import (
	"fmt"
	"time"
)

// Plugin is a named unit of registration. It owns a subtree of states
// below root.<name>, a list of triggers and a list of timers.
//
// Plugins are created with Engine.NewPlugin, populated with the builder
// and then handed to Engine.Register.
type Plugin struct {
	engine   *Engine
	name     string
	root     StateID
	intro    string
	triggers []*Trigger
	timers   []*Timer
	hooks    []pluginHook
}

// pluginHook is an enter or exit hook waiting for Register
type pluginHook struct {
	state StateID
	exit  bool
	hook  Hook
}

// Name returns the plugin's unique name
func (p *Plugin) Name() string {
	return p.name
}

// Root returns the plugin state root.<name>
func (p *Plugin) Root() StateID {
	return p.root
}

// State resolves keys below the plugin state. With no keys it is Root.
func (p *Plugin) State(keys ...string) StateID {
	return p.engine.tree.Join(p.root, keys...)
}

// Intro sets the text shown in the plugin list
func (p *Plugin) Intro(text string) *Plugin {
	p.intro = text
	return p
}

// Triggers returns the triggers built so far
func (p *Plugin) Triggers() []*Trigger {
	return append([]*Trigger(nil), p.triggers...)
}

// Timers returns the timers declared so far
func (p *Plugin) Timers() []*Timer {
	return append([]*Timer(nil), p.timers...)
}

// OnEnter declares a hook run when a session enters state. It is
// attached to the tree by Register.
func (p *Plugin) OnEnter(state StateID, hook Hook) error {
	return p.addHook(state, false, hook)
}

// OnExit declares a hook run when a session leaves state. It is attached
// to the tree by Register.
func (p *Plugin) OnExit(state StateID, hook Hook) error {
	return p.addHook(state, true, hook)
}

func (p *Plugin) addHook(state StateID, exit bool, hook Hook) error {
	if p.engine.tree.Frozen() {
		return ErrTreeFrozen
	}
	p.hooks = append(p.hooks, pluginHook{state: state, exit: exit, hook: hook})
	return nil
}

// installHooks attaches the declared hooks to the tree
func (p *Plugin) installHooks() error {
	for _, h := range p.hooks {
		attach := p.engine.tree.OnEnter
		if h.exit {
			attach = p.engine.tree.OnExit
		}
		if err := attach(h.state, h.hook); err != nil {
			return fmt.Errorf("plugin %s: %w", p.name, err)
		}
	}
	return nil
}

// On starts a trigger definition for states. With no states the trigger
// is attached to the plugin state.
func (p *Plugin) On(states ...StateID) *TriggerBuilder {
	if len(states) == 0 {
		states = []StateID{p.root}
	}
	return &TriggerBuilder{
		plugin: p,
		states: states,
		block:  true,
	}
}

// OnIdle starts a trigger definition attached to the root state
func (p *Plugin) OnIdle() *TriggerBuilder {
	return p.On(RootState)
}

// SetStartCommands registers cmds at the root state; they move the session
// into the plugin state and announce it.
func (p *Plugin) SetStartCommands(cmds ...string) []*Trigger {
	return p.OnIdle().
		Command(cmds...).
		Help("open the plugin").
		Handle(func(dc *DispatchContext) error {
			if err := dc.Goto(p.root); err != nil {
				return err
			}
			dc.SendText(fmt.Sprintf("opened [%s]", p.name))
			return nil
		})
}

// SetCloseCommands registers cmds on the plugin state at every depth; they
// return the session to the root state.
func (p *Plugin) SetCloseCommands(cmds ...string) []*Trigger {
	return p.On().
		Command(cmds...).
		AllDepths().
		Help("close the plugin").
		Handle(func(dc *DispatchContext) error {
			if err := dc.Goto(RootState); err != nil {
				return err
			}
			dc.SendText(fmt.Sprintf("closed [%s]", p.name))
			return nil
		})
}

// Every declares a timer firing every interval after the first aligned
// instant
func (p *Plugin) Every(name string, interval time.Duration, align Alignment, fn TimerFunc) *Timer {
	t := &Timer{
		Plugin:   p.name,
		Name:     name,
		Interval: interval,
		Align:    align,
		Handler:  fn,
	}
	p.timers = append(p.timers, t)
	return t
}

// Daily declares a timer firing every day at h:m:s local time
func (p *Plugin) Daily(name string, h, m, s int, fn TimerFunc) *Timer {
	return p.Every(name, 24*time.Hour, Alignment{Kind: AlignDaily, Hour: h, Minute: m, Second: s}, fn)
}

// Hourly declares a timer firing every hour at m:s
func (p *Plugin) Hourly(name string, m, s int, fn TimerFunc) *Timer {
	return p.Every(name, time.Hour, Alignment{Kind: AlignHourly, Minute: m, Second: s}, fn)
}

// Minutely declares a timer firing every minute at second s
func (p *Plugin) Minutely(name string, s int, fn TimerFunc) *Timer {
	return p.Every(name, time.Minute, Alignment{Kind: AlignMinute, Second: s}, fn)
}

// TriggerBuilder assembles trigger records. Options apply in call order
// and Handle emits one Trigger per state.
type TriggerBuilder struct {
	plugin   *Plugin
	states   []StateID
	commands []Pattern
	depth    Depth
	block    bool
	inputs   []Input
	help     string
	err      error
}

// Command adds literal command alternatives
func (b *TriggerBuilder) Command(cmds ...string) *TriggerBuilder {
	for _, c := range cmds {
		if c == "" {
			continue
		}
		b.commands = append(b.commands, Literal(c))
	}
	return b
}

// Regex adds regular-expression command alternatives
func (b *TriggerBuilder) Regex(exprs ...string) *TriggerBuilder {
	for _, expr := range exprs {
		p, err := Regexp(expr)
		if err != nil {
			b.err = err
			continue
		}
		b.commands = append(b.commands, p)
	}
	return b
}

// Text clears any commands so the trigger matches bare text
func (b *TriggerBuilder) Text() *TriggerBuilder {
	b.commands = nil
	return b
}

// Depth sets how many levels below its state the trigger still fires
func (b *TriggerBuilder) Depth(n int) *TriggerBuilder {
	if n < 0 {
		n = 0
	}
	b.depth = Depth(n)
	return b
}

// AllDepths lets the trigger fire from any descendant state
func (b *TriggerBuilder) AllDepths() *TriggerBuilder {
	b.depth = DepthUnbounded
	return b
}

// NonBlocking lets lower-priority triggers run after this one
func (b *TriggerBuilder) NonBlocking() *TriggerBuilder {
	b.block = false
	return b
}

// Payload decodes the arguments into the struct returned by factory. The
// decoded value is available as DispatchContext.Payload.
func (b *TriggerBuilder) Payload(factory func() any) *TriggerBuilder {
	b.inputs = append(b.inputs, Input{Kind: InputPayload, New: factory})
	return b
}

// Cache supplies the conversation cache entry key, created by factory on
// first use. The value is available as DispatchContext.CacheValue.
func (b *TriggerBuilder) Cache(key string, factory func() any) *TriggerBuilder {
	b.inputs = append(b.inputs, Input{Kind: InputCache, Key: key, New: factory})
	return b
}

// Help sets the help line
func (b *TriggerBuilder) Help(text string) *TriggerBuilder {
	b.help = text
	return b
}

// Handle finishes the definition. It panics on an invalid regexp, matching
// regexp.MustCompile, since definitions are static.
func (b *TriggerBuilder) Handle(h Handler) []*Trigger {
	if b.err != nil {
		panic(b.err)
	}
	if h == nil {
		panic(fmt.Sprintf("plugin %s: nil handler", b.plugin.name))
	}
	out := make([]*Trigger, 0, len(b.states))
	for _, s := range b.states {
		t := &Trigger{
			ID:       -1,
			Plugin:   b.plugin.name,
			State:    s,
			Commands: append([]Pattern(nil), b.commands...),
			Depth:    b.depth,
			Block:    b.block,
			Inputs:   append([]Input(nil), b.inputs...),
			Handler:  h,
			Help:     b.help,
		}
		out = append(out, t)
	}
	b.plugin.triggers = append(b.plugin.triggers, out...)
	return out
}
