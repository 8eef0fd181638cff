package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Depth limits how far below its registered state a trigger still fires
type Depth int

// DepthUnbounded makes a trigger fire from any descendant state
const DepthUnbounded Depth = -1

// Eligible reports whether a trigger registered distance levels above the
// current state may fire
func (d Depth) Eligible(distance int) bool {
	return d == DepthUnbounded || distance <= int(d)
}

// String renders the depth ("all" when unbounded)
func (d Depth) String() string {
	if d == DepthUnbounded {
		return "all"
	}
	return fmt.Sprintf("%d", int(d))
}

// Pattern is one command alternative: a literal or an anchored regexp
type Pattern struct {
	literal string
	re      *regexp.Regexp
}

// Literal returns a pattern matching s as a plain prefix
func Literal(s string) Pattern {
	return Pattern{literal: s}
}

// Regexp compiles expr anchored at the start of the command surface
func Regexp(expr string) (Pattern, error) {
	re, err := regexp.Compile(`^(?:` + expr + `)`)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid command pattern %q: %w", expr, err)
	}
	return Pattern{literal: expr, re: re}, nil
}

// MustRegexp is Regexp that panics on a bad expression
func MustRegexp(expr string) Pattern {
	p, err := Regexp(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// IsRegexp reports whether the pattern is a regular expression
func (p Pattern) IsRegexp() bool {
	return p.re != nil
}

// String returns the literal or the source expression
func (p Pattern) String() string {
	return p.literal
}

// Match tests the pattern against the start of surface. It returns the
// matched text and, for regexps, the submatches.
func (p Pattern) Match(surface string) (string, []string, bool) {
	if p.re == nil {
		if p.literal == "" || !strings.HasPrefix(surface, p.literal) {
			return "", nil, false
		}
		return p.literal, nil, true
	}
	m := p.re.FindStringSubmatch(surface)
	if m == nil {
		return "", nil, false
	}
	return m[0], m[1:], true
}

// InputKind enumerates what the engine resolves before calling a handler
type InputKind int

const (
	// InputPayload decodes the arguments into a typed struct
	InputPayload InputKind = iota
	// InputCache supplies a per-conversation value created on first use
	InputCache
)

// Input is one value resolved for a handler before it runs
type Input struct {
	Kind InputKind
	Key  string
	New  func() any
}

// Handler is the body of a trigger
type Handler func(dc *DispatchContext) error

// Trigger binds a handler to a state with matching rules.
// A trigger with no Commands is a bare-text trigger.
type Trigger struct {
	ID       int
	Plugin   string
	State    StateID
	Commands []Pattern
	Depth    Depth
	Block    bool
	Inputs   []Input
	Handler  Handler
	Help     string
}

// IsText reports whether the trigger matches any message without a command
func (t *Trigger) IsText() bool {
	return len(t.Commands) == 0
}

// match returns the first command alternative that matches surface
func (t *Trigger) match(surface string) (string, []string, bool) {
	for _, p := range t.Commands {
		if cmd, groups, ok := p.Match(surface); ok {
			return cmd, groups, true
		}
	}
	return "", nil, false
}

// CommandStrings lists the command alternatives as written
func (t *Trigger) CommandStrings() []string {
	out := make([]string, len(t.Commands))
	for i, p := range t.Commands {
		out[i] = p.String()
	}
	return out
}

// TriggerInfo describes a trigger in a StateDump
type TriggerInfo struct {
	ID       int      `json:"id"`
	Plugin   string   `json:"plugin"`
	Commands []string `json:"commands,omitempty"`
	Depth    string   `json:"depth"`
	Block    bool     `json:"block"`
	Help     string   `json:"help,omitempty"`
}

func (t *Trigger) info() TriggerInfo {
	return TriggerInfo{
		ID:       t.ID,
		Plugin:   t.Plugin,
		Commands: t.CommandStrings(),
		Depth:    t.Depth.String(),
		Block:    t.Block,
		Help:     t.Help,
	}
}

// TriggerRegistry indexes triggers by the state they are attached to.
// Registration order within a state is preserved.
type TriggerRegistry struct {
	mu      sync.RWMutex
	byState map[StateID][]*Trigger
	all     []*Trigger
}

// NewTriggerRegistry creates an empty registry
func NewTriggerRegistry() *TriggerRegistry {
	return &TriggerRegistry{byState: make(map[StateID][]*Trigger)}
}

func (r *TriggerRegistry) add(triggers ...*Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range triggers {
		t.ID = len(r.all)
		r.all = append(r.all, t)
		r.byState[t.State] = append(r.byState[t.State], t)
	}
}

// At returns the triggers attached to state in registration order
func (r *TriggerRegistry) At(state StateID) []*Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byState[state]
}

// All returns every trigger in registration order
func (r *TriggerRegistry) All() []*Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Trigger(nil), r.all...)
}

// Len returns the number of registered triggers
func (r *TriggerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// bucket is one level of the cascade
type bucket struct {
	state    StateID
	distance int
	triggers []*Trigger
}

// cascade collects the eligible triggers from current up to the root,
// closest first. Buckets with nothing eligible are dropped. skip filters
// out triggers (e.g. of disabled plugins).
func (r *TriggerRegistry) cascade(tree *StateTree, current StateID, skip func(*Trigger) bool) []bucket {
	var out []bucket
	distance := 0
	for id, ok := current, true; ok; id, ok = tree.Parent(id) {
		var eligible []*Trigger
		for _, t := range r.At(id) {
			if !t.Depth.Eligible(distance) {
				continue
			}
			if skip != nil && skip(t) {
				continue
			}
			eligible = append(eligible, t)
		}
		if len(eligible) > 0 {
			out = append(out, bucket{state: id, distance: distance, triggers: eligible})
		}
		distance++
	}
	return out
}

// commandMatch is a trigger whose command matched the surface
type commandMatch struct {
	trigger *Trigger
	command string
	groups  []string
}

// matchCommands returns the command triggers of a bucket that match surface,
// longest match first. Equal lengths keep registration order.
func (b bucket) matchCommands(surface string) []commandMatch {
	var matches []commandMatch
	for _, t := range b.triggers {
		if t.IsText() {
			continue
		}
		if cmd, groups, ok := t.match(surface); ok {
			matches = append(matches, commandMatch{trigger: t, command: cmd, groups: groups})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return len(matches[i].command) > len(matches[j].command)
	})
	return matches
}

// textTriggers returns the bare-text triggers of a bucket in order
func (b bucket) textTriggers() []*Trigger {
	var out []*Trigger
	for _, t := range b.triggers {
		if t.IsText() {
			out = append(out, t)
		}
	}
	return out
}
