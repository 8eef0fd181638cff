package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type balance struct {
	Coins   int      `json:"coins"`
	LastDay string   `json:"last_day"`
	Tags    []string `json:"tags,omitempty"`
}

// runStoreContract exercises the behaviour every backend must share
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	shared := PluginKey("checkin", "config")
	conv := ConversationKey("tg", "100", "checkin", "balance")
	other := ConversationKey("tg", "200", "checkin", "balance")

	t.Run("missing key", func(t *testing.T) {
		var out balance
		err := s.Get(ctx, conv, &out)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		in := balance{Coins: 10, LastDay: "2026-10-19", Tags: []string{"a"}}
		require.NoError(t, s.Set(ctx, conv, in))

		var out balance
		require.NoError(t, s.Get(ctx, conv, &out))
		assert.Equal(t, in, out)
	})

	t.Run("conversation isolation", func(t *testing.T) {
		var out balance
		assert.ErrorIs(t, s.Get(ctx, other, &out), ErrNotFound)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, conv, balance{Coins: 20}))
		var out balance
		require.NoError(t, s.Get(ctx, conv, &out))
		assert.Equal(t, 20, out.Coins)
	})

	t.Run("shared key", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, shared, map[string]int{"reward": 5}))
		var out map[string]int
		require.NoError(t, s.Get(ctx, shared, &out))
		assert.Equal(t, 5, out["reward"])
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, conv))
		var out balance
		assert.ErrorIs(t, s.Get(ctx, conv, &out), ErrNotFound)
		// deleting twice is fine
		assert.NoError(t, s.Delete(ctx, conv))
	})

	t.Run("invalid key rejected", func(t *testing.T) {
		bad := ConversationKey("tg", "..", "checkin", "balance")
		assert.Error(t, s.Set(ctx, bad, 1))
		assert.Error(t, s.Get(ctx, bad, new(int)))
	})

	t.Run("platform ids with separators", func(t *testing.T) {
		ding := ConversationKey("dingtalk", "cidPzIG0Ek+0FbANvFgT1Yq/w==", "checkin", "user-$:LWCP_v1:$abc")
		near := ConversationKey("dingtalk", "cidPzIG0Ek+0FbANvFgT1Yq", "checkin", "user-$:LWCP_v1:$abc")
		require.NoError(t, s.Set(ctx, ding, balance{Coins: 7}))

		var out balance
		require.NoError(t, s.Get(ctx, ding, &out))
		assert.Equal(t, 7, out.Coins)
		assert.ErrorIs(t, s.Get(ctx, near, &out), ErrNotFound)

		traversal := ConversationKey("tg", "../etc", "checkin", "balance")
		require.NoError(t, s.Set(ctx, traversal, 1))
		require.NoError(t, s.Delete(ctx, traversal))
		require.NoError(t, s.Delete(ctx, ding))
	})
}

// TestMemoryStore tests the in-memory backend
func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

// TestFileStore tests the file backend
func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	runStoreContract(t, s)

	require.NoError(t, s.Set(context.Background(), PluginKey("echo", "count"), 3))
	_, err = os.Stat(filepath.Join(dir, "plugins", "echo", "count.json"))
	assert.NoError(t, err)

	key := ConversationKey("dingtalk", "cid+0F/w==", "checkin", "user-1")
	require.NoError(t, s.Set(context.Background(), key, 1))
	_, err = os.Stat(filepath.Join(dir, "conversations", "dingtalk", "cid+0F%2Fw==", "checkin", "user-1.json"))
	assert.NoError(t, err)
}

// TestKeySegments tests that segments are escaped and never split
func TestKeySegments(t *testing.T) {
	key := ConversationKey("dingtalk", "cidPzIG0Ek+0FbANvFgT1Yq/w==", "checkin", "user 1")
	assert.Equal(t, []string{"conversations", "dingtalk", "cidPzIG0Ek+0FbANvFgT1Yq%2Fw==", "checkin", "user%201"}, key.Segments())
	assert.Equal(t, "conversations/dingtalk/cidPzIG0Ek+0FbANvFgT1Yq%2Fw==/checkin/user%201", key.String())
}

// TestRedisStore tests the redis backend against miniredis
func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0, WithRedisPrefix("test:"))
	defer s.Close()

	runStoreContract(t, s)

	require.NoError(t, s.Set(context.Background(), PluginKey("echo", "count"), 3))
	assert.True(t, mr.Exists("test:plugins/echo/count"))
}

// TestRedisStoreTTL tests that writes carry the configured expiration
func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0, WithRedisTTL(time.Minute))
	defer s.Close()

	require.NoError(t, s.Set(context.Background(), PluginKey("echo", "count"), 3))
	assert.Greater(t, mr.TTL("statebot:plugins/echo/count").Seconds(), 0.0)
}

// TestSQLiteStore tests the sqlite backend
func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()
	runStoreContract(t, s)
}

// TestBadgerStore tests the badger backend in memory
func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore("")
	require.NoError(t, err)
	defer s.Close()
	runStoreContract(t, s)
}

// TestKeyValidate tests key validation rules
func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"shared", PluginKey("echo", "count"), false},
		{"conversation", ConversationKey("tg", "-100123", "echo", "count"), false},
		{"missing name", PluginKey("echo", ""), true},
		{"missing plugin", Key{Name: "x"}, true},
		{"half conversation", Key{BotID: "tg", Plugin: "echo", Name: "x"}, true},
		{"traversal", ConversationKey("tg", "..", "echo", "x"), true},
		{"dot", PluginKey("echo", "."), true},
		{"too long", PluginKey("echo", strings.Repeat("x", maxSegmentLength+1)), true},
		{"slash", PluginKey("echo", "a/b"), false},
		{"dingtalk conversation", ConversationKey("dingtalk", "cidPzIG0Ek+0FbANvFgT1Yq/w==", "checkin", "user-1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestAccessor tests the key-bound helper
func TestAccessor(t *testing.T) {
	ctx := context.Background()
	a := NewAccessor(NewMemoryStore(), ConversationKey("tg", "1", "checkin", "balance"))

	var b balance
	found, err := a.Load(ctx, &b)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, a.Save(ctx, balance{Coins: 1}))
	found, err = a.Load(ctx, &b)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, b.Coins)

	require.NoError(t, a.Delete(ctx))
	found, err = a.Load(ctx, &b)
	require.NoError(t, err)
	assert.False(t, found)
}

// TestOpen tests backend selection
func TestOpen(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(Config{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(Config{Backend: "redis"})
	assert.Error(t, err)

	_, err = Open(Config{Backend: "sqlite"})
	assert.Error(t, err)

	_, err = Open(Config{Backend: "nope"})
	assert.Error(t, err)
}
