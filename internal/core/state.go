package core

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/keepmind9/statebot/pkg/constants"
)

// StateID addresses a node in the StateTree arena
type StateID int

// RootState is the id of the root node
const RootState StateID = 0

// NoState marks an absent parent
const NoState StateID = -1

// Hook runs when a session enters or leaves a state
type Hook func(dc *DispatchContext) error

type stateNode struct {
	key      string
	parent   StateID
	depth    int
	children map[string]StateID
	order    []StateID
	enter    []Hook
	exit     []Hook
}

// StateTree is the process-wide hierarchy of named states.
//
// Nodes live in a slice and refer to each other by index. The tree is
// populated during plugin registration and frozen when the engine starts;
// after that it is read-only and reads skip the lock.
type StateTree struct {
	mu        sync.RWMutex
	separator string
	nodes     []*stateNode
	frozen    atomic.Bool
}

// NewStateTree creates a tree holding only the root node. Keys passed to
// Join are split on separator.
func NewStateTree(separator string) *StateTree {
	if separator == "" {
		separator = constants.DefaultStateSeparator
	}
	return &StateTree{
		separator: separator,
		nodes: []*stateNode{{
			key:      constants.RootStateKey,
			parent:   NoState,
			children: make(map[string]StateID),
		}},
	}
}

func (t *StateTree) rlock() func() {
	if t.frozen.Load() {
		return func() {}
	}
	t.mu.RLock()
	return t.mu.RUnlock
}

func (t *StateTree) node(id StateID) *stateNode {
	if id < 0 || int(id) >= len(t.nodes) {
		panic(fmt.Sprintf("state id %d out of range", id))
	}
	return t.nodes[id]
}

func (t *StateTree) splitKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, part := range strings.Split(k, t.separator) {
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Resolve returns the node reached by walking keys below from, creating
// missing nodes. On a frozen tree a missing node yields ErrTreeFrozen.
func (t *StateTree) Resolve(from StateID, keys ...string) (StateID, error) {
	parts := t.splitKeys(keys)

	// fast path: everything already exists
	unlock := t.rlock()
	cur, missing := t.walk(from, parts)
	unlock()
	if !missing {
		return cur, nil
	}
	if t.frozen.Load() {
		return NoState, t.frozenError(from, parts)
	}

	t.mu.Lock()
	cur = from
	for _, k := range parts {
		n := t.node(cur)
		child, ok := n.children[k]
		if !ok {
			// Freeze may have won the lock after the fast path
			if t.frozen.Load() {
				t.mu.Unlock()
				return NoState, t.frozenError(from, parts)
			}
			child = StateID(len(t.nodes))
			t.nodes = append(t.nodes, &stateNode{
				key:      k,
				parent:   cur,
				depth:    n.depth + 1,
				children: make(map[string]StateID),
			})
			n.children[k] = child
			n.order = append(n.order, child)
		}
		cur = child
	}
	t.mu.Unlock()
	return cur, nil
}

func (t *StateTree) frozenError(from StateID, parts []string) error {
	return fmt.Errorf("%w: cannot create %s below %s", ErrTreeFrozen, strings.Join(parts, t.separator), t.String(from))
}

func (t *StateTree) walk(from StateID, parts []string) (StateID, bool) {
	cur := from
	for _, k := range parts {
		child, ok := t.node(cur).children[k]
		if !ok {
			return cur, true
		}
		cur = child
	}
	return cur, false
}

// Join is Resolve for registration code: it panics when the path is
// missing from a frozen tree.
func (t *StateTree) Join(from StateID, keys ...string) StateID {
	id, err := t.Resolve(from, keys...)
	if err != nil {
		panic(err)
	}
	return id
}

// Lookup finds an existing node by its full dotted path ("root.a.b").
// The leading root segment is optional.
func (t *StateTree) Lookup(path string) (StateID, bool) {
	parts := t.splitKeys([]string{path})
	if len(parts) > 0 && parts[0] == constants.RootStateKey {
		parts = parts[1:]
	}
	unlock := t.rlock()
	defer unlock()
	id, missing := t.walk(RootState, parts)
	return id, !missing
}

// Len returns the number of nodes
func (t *StateTree) Len() int {
	unlock := t.rlock()
	defer unlock()
	return len(t.nodes)
}

// Key returns the node's own segment
func (t *StateTree) Key(id StateID) string {
	unlock := t.rlock()
	defer unlock()
	return t.node(id).key
}

// Depth returns the number of edges between id and the root
func (t *StateTree) Depth(id StateID) int {
	unlock := t.rlock()
	defer unlock()
	return t.node(id).depth
}

// Parent returns the parent of id; false for the root
func (t *StateTree) Parent(id StateID) (StateID, bool) {
	unlock := t.rlock()
	defer unlock()
	p := t.node(id).parent
	return p, p != NoState
}

// Children returns the children of id in creation order
func (t *StateTree) Children(id StateID) []StateID {
	unlock := t.rlock()
	defer unlock()
	return append([]StateID(nil), t.node(id).order...)
}

// Path returns the keys from the root down to id, root included
func (t *StateTree) Path(id StateID) []string {
	unlock := t.rlock()
	defer unlock()
	n := t.node(id)
	path := make([]string, n.depth+1)
	for cur := id; cur != NoState; cur = t.nodes[cur].parent {
		node := t.nodes[cur]
		path[node.depth] = node.key
	}
	return path
}

// String renders the path joined with the separator (root.travel.earth)
func (t *StateTree) String(id StateID) string {
	return strings.Join(t.Path(id), t.separator)
}

// IsDescendantOf reports whether b's path is a prefix of a's path.
// Every node is a descendant of itself.
func (t *StateTree) IsDescendantOf(a, b StateID) bool {
	_, ok := t.Distance(a, b)
	return ok
}

// Distance returns how many levels a climbs to reach its ancestor b
func (t *StateTree) Distance(a, b StateID) (int, bool) {
	unlock := t.rlock()
	defer unlock()
	na, nb := t.node(a), t.node(b)
	if nb.depth > na.depth {
		return 0, false
	}
	cur := a
	for t.nodes[cur].depth > nb.depth {
		cur = t.nodes[cur].parent
	}
	if cur != b {
		return 0, false
	}
	return na.depth - nb.depth, true
}

// CommonAncestor returns the deepest node whose path prefixes both a and b
func (t *StateTree) CommonAncestor(a, b StateID) StateID {
	unlock := t.rlock()
	defer unlock()
	for t.nodes[a].depth > t.nodes[b].depth {
		a = t.nodes[a].parent
	}
	for t.nodes[b].depth > t.nodes[a].depth {
		b = t.nodes[b].parent
	}
	for a != b {
		a = t.nodes[a].parent
		b = t.nodes[b].parent
	}
	return a
}

// OnEnter appends a hook run when a session enters id
func (t *StateTree) OnEnter(id StateID, hook Hook) error {
	return t.addHook(id, hook, true)
}

// OnExit appends a hook run when a session leaves id
func (t *StateTree) OnExit(id StateID, hook Hook) error {
	return t.addHook(id, hook, false)
}

func (t *StateTree) addHook(id StateID, hook Hook, enter bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen.Load() {
		return ErrTreeFrozen
	}
	n := t.node(id)
	if enter {
		n.enter = append(n.enter, hook)
	} else {
		n.exit = append(n.exit, hook)
	}
	return nil
}

func (t *StateTree) enterHooks(id StateID) []Hook {
	unlock := t.rlock()
	defer unlock()
	return append([]Hook(nil), t.node(id).enter...)
}

func (t *StateTree) exitHooks(id StateID) []Hook {
	unlock := t.rlock()
	defer unlock()
	return append([]Hook(nil), t.node(id).exit...)
}

// Freeze makes the tree read-only
func (t *StateTree) Freeze() {
	t.mu.Lock()
	t.frozen.Store(true)
	t.mu.Unlock()
}

// Frozen reports whether Freeze was called
func (t *StateTree) Frozen() bool {
	return t.frozen.Load()
}

// StateDump is a JSON friendly snapshot of the tree
type StateDump struct {
	Separator string      `json:"separator"`
	States    []StateInfo `json:"states"`
}

// StateInfo describes one node in a StateDump
type StateInfo struct {
	ID         StateID       `json:"id"`
	Path       string        `json:"path"`
	Parent     StateID       `json:"parent"`
	EnterHooks int           `json:"enter_hooks,omitempty"`
	ExitHooks  int           `json:"exit_hooks,omitempty"`
	Triggers   []TriggerInfo `json:"triggers,omitempty"`
}

// Dump snapshots every node in creation order. Trigger descriptors are
// filled in by Engine.Dump.
func (t *StateTree) Dump() StateDump {
	unlock := t.rlock()
	n := len(t.nodes)
	unlock()

	dump := StateDump{Separator: t.separator, States: make([]StateInfo, 0, n)}
	for i := 0; i < n; i++ {
		id := StateID(i)
		parent, _ := t.Parent(id)
		dump.States = append(dump.States, StateInfo{
			ID:         id,
			Path:       t.String(id),
			Parent:     parent,
			EnterHooks: len(t.enterHooks(id)),
			ExitHooks:  len(t.exitHooks(id)),
		})
	}
	return dump
}
