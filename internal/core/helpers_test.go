package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keepmind9/statebot/internal/message"
	"github.com/stretchr/testify/require"
)

const testBot = "bot"

// fakeBot is a bot adapter recording everything sent through it
type fakeBot struct {
	mu       sync.Mutex
	handler  func(message.Event)
	sent     map[string][]message.Message
	batches  map[string][][]message.Message
	sendErr  error
	startErr error
	stopped  bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		sent:    make(map[string][]message.Message),
		batches: make(map[string][][]message.Message),
	}
}

func (f *fakeBot) Start(handler func(message.Event)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return f.startErr
}

func (f *fakeBot) SendMessage(ctx context.Context, conversationID string, msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent[conversationID] = append(f.sent[conversationID], msg)
	return nil
}

func (f *fakeBot) SendBatch(ctx context.Context, conversationID string, msgs []message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.batches[conversationID] = append(f.batches[conversationID], msgs)
	return nil
}

func (f *fakeBot) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

// texts returns the text of every message sent to conversationID
func (f *fakeBot) texts(conversationID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent[conversationID]))
	for _, m := range f.sent[conversationID] {
		out = append(out, m.String())
	}
	return out
}

func (f *fakeBot) batchSizes(conversationID string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, b := range f.batches[conversationID] {
		out = append(out, len(b))
	}
	return out
}

// deliver pushes an event through the handler given to Start
func (f *fakeBot) deliver(ev message.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

var errFakeSend = errors.New("fake send failure")

// newTestEngine returns an engine with one connected fake bot
func newTestEngine(t *testing.T) (*Engine, *fakeBot) {
	t.Helper()
	e := NewEngine(DefaultConfig(), nil)
	fb := newFakeBot()
	e.RegisterBot(testBot, fb)
	e.BotConnected(testBot)
	t.Cleanup(func() {
		_ = e.Stop()
	})
	return e, fb
}

func groupEvent(conv, text string) message.Event {
	return message.Event{
		ID:             "ev-" + conv,
		BotID:          testBot,
		ConversationID: conv,
		Kind:           message.KindGroup,
		SenderID:       "alice",
		Message:        message.FromText(text),
		Time:           time.Now(),
	}
}

func privateEvent(user, text string) message.Event {
	return message.Event{
		ID:             "ev-" + user,
		BotID:          testBot,
		ConversationID: "dm-" + user,
		Kind:           message.KindPrivate,
		SenderID:       user,
		Message:        message.FromText(text),
		Time:           time.Now(),
	}
}

// recorder collects handler names in call order
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) handler(name string) Handler {
	return func(dc *DispatchContext) error {
		r.add(name)
		return nil
	}
}

func (r *recorder) hook(name string) Hook {
	return func(dc *DispatchContext) error {
		r.add(name)
		return nil
	}
}

// sessionAt forces the session of conv into state
func sessionAt(t *testing.T, e *Engine, conv string, state StateID) *Session {
	t.Helper()
	s := e.sessions.GetOrCreate(testBot, conv, message.KindGroup)
	s.setState(state)
	require.Equal(t, state, s.State())
	return s
}
