// Package storage persists plugin data for the router.
//
// Values are JSON-compatible records addressed by a Key. A key is either
// shared by every conversation (PluginKey) or isolated to one conversation of
// one bot (ConversationKey). Backends: memory, file, redis, sqlite, badger.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned by Get when the key holds no value
var ErrNotFound = errors.New("storage: key not found")

const maxSegmentLength = 128

// Key addresses one stored value
type Key struct {
	BotID          string
	ConversationID string
	Plugin         string
	Name           string
}

// PluginKey addresses a value shared across all conversations
func PluginKey(plugin, name string) Key {
	return Key{Plugin: plugin, Name: name}
}

// ConversationKey addresses a value isolated to one conversation
func ConversationKey(botID, conversationID, plugin, name string) Key {
	return Key{BotID: botID, ConversationID: conversationID, Plugin: plugin, Name: name}
}

// Shared reports whether the key is plugin-wide
func (k Key) Shared() bool {
	return k.BotID == "" && k.ConversationID == ""
}

func (k Key) raw() []string {
	if k.Shared() {
		return []string{"plugins", k.Plugin, k.Name}
	}
	return []string{"conversations", k.BotID, k.ConversationID, k.Plugin, k.Name}
}

// Segments returns the ordered path segments of the key. Each segment is
// path-escaped, so platform ids such as "cid6Kx+0Fb/w==" never contain a
// separator.
func (k Key) Segments() []string {
	segs := k.raw()
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return segs
}

// String renders the key as a slash separated path
func (k Key) String() string {
	return strings.Join(k.Segments(), "/")
}

// Validate rejects keys with missing parts, over-long segments and the
// "." and ".." segments that escaping leaves intact.
func (k Key) Validate() error {
	if k.Plugin == "" || k.Name == "" {
		return fmt.Errorf("invalid storage key %q: plugin and name are required", k.String())
	}
	if (k.BotID == "") != (k.ConversationID == "") {
		return fmt.Errorf("invalid storage key %q: bot and conversation must be set together", k.String())
	}
	for _, seg := range k.raw() {
		if len(seg) > maxSegmentLength {
			return fmt.Errorf("invalid storage key %q: segment too long", k.String())
		}
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid storage key %q: bad segment %q", k.String(), seg)
		}
	}
	return nil
}

// Store is the storage collaborator consumed by the core
type Store interface {
	// Get decodes the value stored at key into out; ErrNotFound if absent
	Get(ctx context.Context, key Key, out any) error
	// Set stores value at key, replacing any previous value
	Set(ctx context.Context, key Key, value any) error
	// Delete removes the key; deleting a missing key is not an error
	Delete(ctx context.Context, key Key) error
	// Close releases backend resources
	Close() error
}

func encode(key Key, value any) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return data, nil
}

func decode(key Key, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Accessor binds a store to one key
type Accessor struct {
	store Store
	key   Key
}

// NewAccessor returns an accessor for key
func NewAccessor(store Store, key Key) *Accessor {
	return &Accessor{store: store, key: key}
}

// Key returns the bound key
func (a *Accessor) Key() Key {
	return a.key
}

// Load decodes the value into out. It reports false without error when the
// key is absent, leaving out untouched.
func (a *Accessor) Load(ctx context.Context, out any) (bool, error) {
	err := a.store.Get(ctx, a.key, out)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Save stores value at the bound key
func (a *Accessor) Save(ctx context.Context, value any) error {
	return a.store.Set(ctx, a.key, value)
}

// Delete removes the bound key
func (a *Accessor) Delete(ctx context.Context) error {
	return a.store.Delete(ctx, a.key)
}
