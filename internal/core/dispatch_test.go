package core

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/keepmind9/statebot/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatchText(e *Engine, conv, text string) {
	e.HandleEvent(context.Background(), groupEvent(conv, text))
}

// TestDispatch_CommandArguments tests "#hi there" at root against a depth 0
// trigger
func TestDispatch_CommandArguments(t *testing.T) {
	e, _ := newTestEngine(t)
	var got *DispatchContext
	p := e.NewPlugin("greet")
	p.OnIdle().Command("hi").Handle(func(dc *DispatchContext) error {
		got = dc
		return nil
	})
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#hi there")

	require.NotNil(t, got)
	assert.Equal(t, "hi", got.Command)
	assert.Equal(t, []string{"there"}, got.Args)
	assert.Equal(t, "there", got.Arg.String())
	assert.Equal(t, "g1", got.Event.ConversationID)
	assert.Equal(t, "greet", got.Plugin.Name())
}

// TestDispatch_DepthEligibility tests that a trigger one level up fires only
// when its depth allows it
func TestDispatch_DepthEligibility(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := &recorder{}
	p := e.NewPlugin("travel")
	earth := p.State("earth")
	p.On().Command("hi").Depth(1).Handle(rec.handler("depth1"))
	p.On().Command("bye").Handle(rec.handler("depth0"))
	require.NoError(t, e.Register(p))

	sessionAt(t, e, "g1", earth)
	dispatchText(e, "g1", "#hi")
	dispatchText(e, "g1", "#bye")

	assert.Equal(t, []string{"depth1"}, rec.list())
}

// TestDispatch_LongestMatch tests that "#move x" runs "move" and not "m"
func TestDispatch_LongestMatch(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := &recorder{}
	var args []string
	p := e.NewPlugin("walk")
	p.OnIdle().Command("m").Handle(rec.handler("m"))
	p.OnIdle().Command("move").Handle(func(dc *DispatchContext) error {
		rec.add("move")
		args = dc.Args
		return nil
	})
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#move x")

	assert.Equal(t, []string{"move"}, rec.list())
	assert.Equal(t, []string{"x"}, args)
}

// TestDispatch_ShorterMatchRunsWhenLongerDoesNotBlock tests that both matches
// run when the longest one is non-blocking
func TestDispatch_ShorterMatchRunsWhenLongerDoesNotBlock(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := &recorder{}
	p := e.NewPlugin("walk")
	p.OnIdle().Command("m").Handle(rec.handler("m"))
	p.OnIdle().Command("move").NonBlocking().Handle(rec.handler("move"))
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#move")

	assert.Equal(t, []string{"move", "m"}, rec.list())
}

// TestDispatch_CascadeBlocking tests that a blocking trigger stops the
// cascade and a non-blocking one lets farther states run
func TestDispatch_CascadeBlocking(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := &recorder{}
	p := e.NewPlugin("travel")
	earth := p.State("earth")
	p.On(earth).Command("look").NonBlocking().Handle(rec.handler("earth"))
	p.On().Command("look").Depth(1).Handle(rec.handler("travel"))
	p.OnIdle().Command("look").AllDepths().Handle(rec.handler("root"))
	require.NoError(t, e.Register(p))

	sessionAt(t, e, "g1", earth)
	dispatchText(e, "g1", "#look")

	assert.Equal(t, []string{"earth", "travel"}, rec.list())
}

// TestDispatch_TextFallback tests that bare-text triggers run only when no
// command handler ran
func TestDispatch_TextFallback(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := &recorder{}
	p := e.NewPlugin("echo")
	p.OnIdle().Command("hi").Handle(rec.handler("hi"))
	p.OnIdle().Text().NonBlocking().Handle(rec.handler("text1"))
	p.OnIdle().Text().Handle(rec.handler("text2"))
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#hi")
	assert.Equal(t, []string{"hi"}, rec.list())

	rec.calls = nil
	dispatchText(e, "g1", "#unknown")
	assert.Equal(t, []string{"text1", "text2"}, rec.list())

	rec.calls = nil
	dispatchText(e, "g1", "just chatting")
	assert.Equal(t, []string{"text1", "text2"}, rec.list())
}

// TestDispatch_TextReceivesWholeMessage tests the argument of a text trigger
func TestDispatch_TextReceivesWholeMessage(t *testing.T) {
	e, _ := newTestEngine(t)
	var got *DispatchContext
	p := e.NewPlugin("echo")
	p.OnIdle().Text().Handle(func(dc *DispatchContext) error {
		got = dc
		return nil
	})
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "hello big world")

	require.NotNil(t, got)
	assert.Equal(t, "", got.Command)
	assert.Equal(t, "hello big world", got.Arg.String())
	assert.Equal(t, []string{"hello", "big", "world"}, got.Args)
}

// TestDispatch_NonTextSegments tests that non-text segments stay opaque tokens
func TestDispatch_NonTextSegments(t *testing.T) {
	e, _ := newTestEngine(t)
	var got *DispatchContext
	p := e.NewPlugin("pic")
	p.OnIdle().Command("say").Handle(func(dc *DispatchContext) error {
		got = dc
		return nil
	})
	require.NoError(t, e.Register(p))

	ev := groupEvent("g1", "")
	ev.Message = message.Message{message.Text("#say cheese "), message.Image("http://x/1.png"), message.Text(" now")}
	e.HandleEvent(context.Background(), ev)

	require.NotNil(t, got)
	require.Len(t, got.Tokens, 3)
	assert.Equal(t, "cheese", got.Tokens[0].Text())
	assert.Equal(t, message.TypeImage, got.Tokens[1].Type)
	assert.Equal(t, "now", got.Tokens[2].Text())
	assert.Equal(t, []string{"cheese", "[image]", "now"}, got.Args)
}

// TestDispatch_RegexGroups tests regexp submatches
func TestDispatch_RegexGroups(t *testing.T) {
	e, _ := newTestEngine(t)
	var got *DispatchContext
	p := e.NewPlugin("dice")
	p.OnIdle().Regex(`roll(\d+)d(\d+)`).Handle(func(dc *DispatchContext) error {
		got = dc
		return nil
	})
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#roll2d6 loud")

	require.NotNil(t, got)
	assert.Equal(t, "roll2d6", got.Command)
	assert.Equal(t, []string{"2", "6"}, got.Groups)
	assert.Equal(t, []string{"loud"}, got.Args)
}

type countPayload struct {
	Count int
	Label string `arg:"optional"`
}

// TestDispatch_ValidationFailure tests that rejected arguments produce a
// diagnostic, skip the handler and let the cascade continue
func TestDispatch_ValidationFailure(t *testing.T) {
	e, fb := newTestEngine(t)
	rec := &recorder{}
	var payload *countPayload
	p := e.NewPlugin("counter")
	p.OnIdle().Command("add").
		Payload(func() any { return &countPayload{} }).
		Handle(func(dc *DispatchContext) error {
			payload = dc.Payload.(*countPayload)
			rec.add("add")
			return nil
		})
	p.OnIdle().Text().Handle(rec.handler("text"))
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#add abc")
	assert.Nil(t, payload)
	assert.Equal(t, []string{"text"}, rec.list())
	texts := fb.texts("g1")
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "invalid arguments")
	assert.Contains(t, texts[0], "usage: #add <count> [label]")

	rec.calls = nil
	dispatchText(e, "g1", "#add 3 apples")
	require.NotNil(t, payload)
	assert.Equal(t, 3, payload.Count)
	assert.Equal(t, "apples", payload.Label)
	assert.Equal(t, []string{"add"}, rec.list())
}

// TestDispatch_PanicIsolation tests that a panicking handler does not stop
// the dispatch nor block
func TestDispatch_PanicIsolation(t *testing.T) {
	e, _ := newTestEngine(t)
	logs := captureLogs(t)
	rec := &recorder{}
	p := e.NewPlugin("fragile")
	p.OnIdle().Command("go").Handle(func(*DispatchContext) error { panic("kaboom") })
	p.OnIdle().Command("g").Handle(rec.handler("g"))
	require.NoError(t, e.Register(p))

	assert.NotPanics(t, func() { dispatchText(e, "g1", "#go") })
	assert.Equal(t, []string{"g"}, rec.list())
	assert.True(t, hasEntry(logs, "trigger-panic-recovered"))
}

// TestDispatch_HandlerError tests that a failing handler counts as not run
func TestDispatch_HandlerError(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := &recorder{}
	p := e.NewPlugin("fragile")
	p.OnIdle().Command("go").Handle(func(*DispatchContext) error { return errors.New("nope") })
	p.OnIdle().Text().Handle(rec.handler("text"))
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#go")
	assert.Equal(t, []string{"text"}, rec.list())
}

// TestDispatch_DisabledPlugin tests the global and per-conversation switches
func TestDispatch_DisabledPlugin(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := &recorder{}
	on := e.NewPlugin("on")
	on.OnIdle().Command("x").Handle(rec.handler("on"))
	off := e.NewPlugin("off")
	off.OnIdle().Command("y").Handle(rec.handler("off"))
	require.NoError(t, e.Register(on))
	require.NoError(t, e.Register(off))
	e.config.Plugins = map[string]PluginConfig{"off": {Disabled: true}}

	dispatchText(e, "g1", "#y")
	assert.Empty(t, rec.list())

	require.NoError(t, e.SetPluginEnabled(testBot, "g1", "on", false))
	dispatchText(e, "g1", "#x")
	dispatchText(e, "g2", "#x")
	assert.Equal(t, []string{"on"}, rec.list())

	assert.Error(t, e.SetPluginEnabled(testBot, "g1", "missing", false))
}

// TestDispatch_StaleEvent tests the exclude_older_than filter
func TestDispatch_StaleEvent(t *testing.T) {
	e, _ := newTestEngine(t)
	e.config.Dispatch.ExcludeOlderThan = time.Minute
	rec := &recorder{}
	p := e.NewPlugin("echo")
	p.OnIdle().Text().Handle(rec.handler("text"))
	require.NoError(t, e.Register(p))

	old := groupEvent("g1", "late")
	old.Time = time.Now().Add(-time.Hour)
	e.HandleEvent(context.Background(), old)
	assert.Empty(t, rec.list())

	undated := groupEvent("g1", "undated")
	undated.Time = time.Time{}
	e.HandleEvent(context.Background(), undated)
	assert.Equal(t, []string{"text"}, rec.list())
}

// TestDispatch_Transition tests that a handler's transition is visible to
// the next event of the conversation only
func TestDispatch_Transition(t *testing.T) {
	e, fb := newTestEngine(t)
	p := e.NewPlugin("travel")
	earth := p.State("earth")
	p.SetStartCommands("travel")
	p.SetCloseCommands("exit")
	p.On().Command("earth").Handle(func(dc *DispatchContext) error {
		return dc.GotoState("earth")
	})
	p.On(earth).Command("where").Handle(func(dc *DispatchContext) error {
		dc.SendText(dc.StateName())
		return nil
	})
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#travel")
	dispatchText(e, "g1", "#earth")
	dispatchText(e, "g1", "#where")
	dispatchText(e, "g2", "#where")

	s, ok := e.sessions.Get(testBot, "g1")
	require.True(t, ok)
	assert.Equal(t, earth, s.State())
	assert.Equal(t, []string{"opened [travel]", "root.travel.earth"}, fb.texts("g1"))
	assert.Empty(t, fb.texts("g2"))

	dispatchText(e, "g1", "#exit")
	assert.Equal(t, RootState, s.State())
	assert.Equal(t, "closed [travel]", fb.texts("g1")[2])
}

// TestDispatch_CacheInput tests the conversation cache input
func TestDispatch_CacheInput(t *testing.T) {
	e, fb := newTestEngine(t)
	p := e.NewPlugin("shop")
	p.OnIdle().Command("buy").
		Cache("bought", func() any { return new(int) }).
		Handle(func(dc *DispatchContext) error {
			n := dc.CacheValue.(*int)
			*n++
			dc.SendText(strconv.Itoa(*n))
			return nil
		})
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#buy")
	dispatchText(e, "g1", "#buy")
	dispatchText(e, "g2", "#buy")

	assert.Equal(t, []string{"1", "2"}, fb.texts("g1"))
	assert.Equal(t, []string{"1"}, fb.texts("g2"))
}

// TestDispatch_CustomPrefix tests a configured command prefix
func TestDispatch_CustomPrefix(t *testing.T) {
	e, _ := newTestEngine(t)
	e.config.Command.Prefix = "/"
	rec := &recorder{}
	p := e.NewPlugin("greet")
	p.OnIdle().Command("hi").Handle(rec.handler("hi"))
	require.NoError(t, e.Register(p))

	dispatchText(e, "g1", "#hi")
	dispatchText(e, "g1", "/hi")
	assert.Equal(t, []string{"hi"}, rec.list())
}

// TestDispatch_PrivateRelay tests that a private message is dispatched once
// in every listening conversation, concurrently
func TestDispatch_PrivateRelay(t *testing.T) {
	e, _ := newTestEngine(t)

	var mu sync.Mutex
	seen := make(map[string]string)
	released := 0
	var arrived sync.WaitGroup
	arrived.Add(2)
	release := make(chan struct{})

	p := e.NewPlugin("relay")
	p.OnIdle().Text().Handle(func(dc *DispatchContext) error {
		mu.Lock()
		seen[dc.Session.ConversationID] = dc.Event.SenderID
		mu.Unlock()
		arrived.Done()
		select {
		case <-release:
			mu.Lock()
			released++
			mu.Unlock()
		case <-time.After(2 * time.Second):
		}
		return nil
	})
	require.NoError(t, e.Register(p))

	e.listeners.Add(testBot, "bob", "g1")
	e.listeners.Add(testBot, "bob", "g2")

	// both handlers must be in flight at once for release to happen
	go func() {
		arrived.Wait()
		close(release)
	}()
	e.HandleEvent(context.Background(), privateEvent("bob", "psst"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, released)
	assert.Equal(t, map[string]string{"g1": "bob", "g2": "bob"}, seen)
	_, ok := e.sessions.Get(testBot, "dm-bob")
	assert.False(t, ok)
}

// TestDispatch_PrivateSelf tests that private events can also be dispatched
// in their own conversation
func TestDispatch_PrivateSelf(t *testing.T) {
	e, _ := newTestEngine(t)
	e.config.Dispatch.PrivateSelf = true
	rec := &recorder{}
	p := e.NewPlugin("relay")
	p.OnIdle().Text().Handle(func(dc *DispatchContext) error {
		rec.add(dc.Session.ConversationID)
		return nil
	})
	require.NoError(t, e.Register(p))
	e.listeners.Add(testBot, "bob", "g1")

	e.HandleEvent(context.Background(), privateEvent("bob", "psst"))

	assert.ElementsMatch(t, []string{"g1", "dm-bob"}, rec.list())
}

// TestDispatch_RelayStaysOnBot tests that a private message is relayed
// only to listening conversations of the bot that received it
func TestDispatch_RelayStaysOnBot(t *testing.T) {
	e, fb := newTestEngine(t)
	other := newFakeBot()
	e.RegisterBot("botB", other)
	e.BotConnected("botB")

	p := e.NewPlugin("relay")
	p.OnIdle().Text().Handle(func(dc *DispatchContext) error {
		dc.SendText("relayed:" + dc.Session.BotID + "/" + dc.Session.ConversationID)
		return nil
	})
	require.NoError(t, e.Register(p))
	e.listeners.Add(testBot, "bob", "g1")

	ev := privateEvent("bob", "psst")
	ev.BotID = "botB"
	e.HandleEvent(context.Background(), ev)
	assert.Empty(t, fb.texts("g1"))
	assert.Empty(t, other.texts("g1"))
	_, ok := e.sessions.Get("botB", "g1")
	assert.False(t, ok)

	e.HandleEvent(context.Background(), privateEvent("bob", "psst"))
	assert.Equal(t, []string{"relayed:bot/g1"}, fb.texts("g1"))
	assert.Empty(t, other.texts("g1"))
}

// TestCommandArgument tests how the argument message is built
func TestCommandArgument(t *testing.T) {
	rest := message.Message{message.Image("x")}

	arg := commandArgument("hi there", "hi", " ", nil)
	assert.Equal(t, "there", arg.String())

	arg = commandArgument("hi  there", "hi", " ", nil)
	assert.Equal(t, " there", arg.String())

	arg = commandArgument("hithere", "hi", " ", nil)
	assert.Equal(t, "there", arg.String())

	arg = commandArgument("hi", "hi", " ", rest)
	require.Len(t, arg, 1)
	assert.Equal(t, message.TypeImage, arg[0].Type)
}

// TestEngine_Submit tests events delivered by a started bot
func TestEngine_Submit(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	fb := newFakeBot()
	e.RegisterBot(testBot, fb)
	p := e.NewPlugin("echo")
	p.OnIdle().Text().Handle(func(dc *DispatchContext) error {
		dc.Send(dc.Arg)
		return nil
	})
	require.NoError(t, e.Register(p))

	require.NoError(t, e.Start())
	require.Eventually(t, func() bool { return e.IsConnected(testBot) }, time.Second, 10*time.Millisecond)
	assert.True(t, e.tree.Frozen())

	ev := groupEvent("g1", "ping")
	ev.BotID = ""
	fb.deliver(ev)
	require.Eventually(t, func() bool { return len(fb.texts("g1")) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "ping", fb.texts("g1")[0])

	require.NoError(t, e.Stop())
	assert.True(t, fb.stopped)
	assert.False(t, e.IsConnected(testBot))
}
