package plugins

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keepmind9/statebot/internal/core"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/stretchr/testify/require"
)

const testBot = "bot"

// chatBot records the text of every message sent through it
type chatBot struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (c *chatBot) Start(handler func(message.Event)) error {
	return nil
}

func (c *chatBot) SendMessage(ctx context.Context, conversationID string, msg message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[conversationID] = append(c.sent[conversationID], msg.String())
	return nil
}

func (c *chatBot) SendBatch(ctx context.Context, conversationID string, msgs []message.Message) error {
	for _, m := range msgs {
		if err := c.SendMessage(ctx, conversationID, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *chatBot) Stop() error {
	return nil
}

// take returns and clears what was sent to conversationID
func (c *chatBot) take(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent[conversationID]
	delete(c.sent, conversationID)
	return out
}

// chat drives an engine with every bundled plugin registered
type chat struct {
	t      *testing.T
	engine *core.Engine
	bot    *chatBot
}

func newChat(t *testing.T, cfg *core.Config) *chat {
	t.Helper()
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	e := core.NewEngine(cfg, nil)
	require.NoError(t, RegisterAll(e))

	b := &chatBot{sent: make(map[string][]string)}
	e.RegisterBot(testBot, b)
	e.BotConnected(testBot)
	t.Cleanup(func() {
		_ = e.Stop()
	})
	return &chat{t: t, engine: e, bot: b}
}

// say sends text from user in a group conversation and returns the replies
func (c *chat) say(conv, user, text string) []string {
	c.t.Helper()
	c.engine.HandleEvent(context.Background(), message.Event{
		ID:             "ev",
		BotID:          testBot,
		ConversationID: conv,
		Kind:           message.KindGroup,
		SenderID:       user,
		Message:        message.FromText(text),
		Time:           time.Now(),
	})
	return c.bot.take(conv)
}

// whisper sends text from user in their private conversation
func (c *chat) whisper(user, text string) {
	c.t.Helper()
	c.engine.HandleEvent(context.Background(), message.Event{
		ID:             "ev",
		BotID:          testBot,
		ConversationID: "dm-" + user,
		Kind:           message.KindPrivate,
		SenderID:       user,
		Message:        message.FromText(text),
		Time:           time.Now(),
	})
}

// expect asserts the replies to each line in order
func (c *chat) expect(conv, user string, script ...[2]string) {
	c.t.Helper()
	for _, step := range script {
		got := c.say(conv, user, step[0])
		if step[1] == "" {
			require.Empty(c.t, got, "reply to %q", step[0])
			continue
		}
		require.Equal(c.t, []string{step[1]}, got, "reply to %q", step[0])
	}
}
