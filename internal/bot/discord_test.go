package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockDiscordSession is a mock implementation of DiscordSessionInterface for testing
type MockDiscordSession struct {
	shouldFailOnOpen bool
	shouldFailOnSend bool
	openCalled       bool
	closed           bool
	sentMessages     []SentMessage
	handler          interface{}
}

type SentMessage struct {
	Channel string
	Message string
}

func (m *MockDiscordSession) AddHandler(handler interface{}) func() {
	m.handler = handler
	return func() {}
}

func (m *MockDiscordSession) Open() error {
	m.openCalled = true
	if m.shouldFailOnOpen {
		return errors.New("failed to open discord connection")
	}
	return nil
}

func (m *MockDiscordSession) Close() error {
	m.closed = true
	return nil
}

func (m *MockDiscordSession) ChannelMessageSend(channel, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.shouldFailOnSend {
		return nil, errors.New("failed to send message")
	}
	m.sentMessages = append(m.sentMessages, SentMessage{
		Channel: channel,
		Message: content,
	})
	return &discordgo.Message{ID: "msg-id"}, nil
}

// SimulateMessage calls the registered handler as the gateway would
func (m *MockDiscordSession) SimulateMessage(msg *discordgo.MessageCreate) {
	handlerFunc, ok := m.handler.(func(*discordgo.Session, *discordgo.MessageCreate))
	if !ok {
		return
	}
	handlerFunc(&discordgo.Session{}, msg)
}

func discordMessage(guild, channel, content string, author *discordgo.User) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "m-1",
			GuildID:   guild,
			ChannelID: channel,
			Content:   content,
			Author:    author,
		},
	}
}

// TestDiscordBot_Start tests that Start registers a handler and decodes messages
func TestDiscordBot_Start(t *testing.T) {
	mock := &MockDiscordSession{}
	bot := NewDiscordBot("test-token", "123456789")
	bot.session = mock

	var got []message.Event
	require.NoError(t, bot.Start(func(ev message.Event) {
		got = append(got, ev)
	}))
	assert.True(t, mock.openCalled)

	user := &discordgo.User{ID: "user-123", Username: "testuser"}
	mock.SimulateMessage(discordMessage("guild", "123456789", "#hi <@!42> there", user))

	require.Len(t, got, 1)
	ev := got[0]
	assert.Equal(t, "123456789", ev.ConversationID)
	assert.Equal(t, "user-123", ev.SenderID)
	assert.Equal(t, "testuser", ev.SenderName)
	assert.Equal(t, message.KindGroup, ev.Kind)
	assert.Equal(t, message.Message{
		message.Text("#hi "),
		message.Mention("42"),
		message.Text(" there"),
	}, ev.Message)

	require.NoError(t, bot.Stop())
	assert.True(t, mock.closed)
}

// TestDiscordBot_Start_OpenError tests that a failed gateway connection is reported
func TestDiscordBot_Start_OpenError(t *testing.T) {
	bot := NewDiscordBot("test-token", "")
	bot.session = &MockDiscordSession{shouldFailOnOpen: true}

	err := bot.Start(func(message.Event) {})
	assert.ErrorContains(t, err, "failed to open discord connection")
}

// TestDiscordBot_HandleMessage_Filters tests bot authors and channel filtering
func TestDiscordBot_HandleMessage_Filters(t *testing.T) {
	mock := &MockDiscordSession{}
	bot := NewDiscordBot("test-token", "allowed")
	bot.session = mock

	var got []message.Event
	require.NoError(t, bot.Start(func(ev message.Event) {
		got = append(got, ev)
	}))

	human := &discordgo.User{ID: "u1", Username: "human"}
	mock.SimulateMessage(discordMessage("guild", "allowed", "#hi", &discordgo.User{ID: "b", Bot: true}))
	mock.SimulateMessage(discordMessage("guild", "other", "#hi", human))
	mock.SimulateMessage(discordMessage("guild", "allowed", "", human))
	mock.SimulateMessage(discordMessage("", "dm-channel", "#hi", human))
	mock.SimulateMessage(&discordgo.MessageCreate{})

	require.Len(t, got, 1)
	assert.Equal(t, "dm-channel", got[0].ConversationID)
	assert.True(t, got[0].IsPrivate())
}

// TestDiscordEvent_Attachments tests attachment segments
func TestDiscordEvent_Attachments(t *testing.T) {
	m := discordMessage("guild", "c", "look", &discordgo.User{ID: "u"})
	m.Attachments = []*discordgo.MessageAttachment{
		{URL: "https://cdn/x.png", ContentType: "image/png"},
		nil,
		{URL: "https://cdn/x.zip", ContentType: "application/zip"},
	}

	ev := discordEvent(m)
	assert.Equal(t, message.Message{
		message.Text("look"),
		message.Image("https://cdn/x.png"),
		message.Media("file", "https://cdn/x.zip"),
	}, ev.Message)
}

// TestDiscordBot_SendMessage tests rendering and channel fallback
func TestDiscordBot_SendMessage(t *testing.T) {
	mock := &MockDiscordSession{}
	bot := NewDiscordBot("test-token", "default")
	bot.session = mock
	ctx := context.Background()

	require.NoError(t, bot.SendMessage(ctx, "c1", message.Message{message.Mention("42"), message.Text(" welcome")}))
	require.NoError(t, bot.SendMessage(ctx, "", message.FromText("fallback")))
	require.NoError(t, bot.SendMessage(ctx, "c1", message.FromText("   ")))

	assert.Equal(t, []SentMessage{
		{Channel: "c1", Message: "<@42> welcome"},
		{Channel: "default", Message: "fallback"},
	}, mock.sentMessages)
}

// TestDiscordBot_SendMessage_Truncates tests the platform length limit
func TestDiscordBot_SendMessage_Truncates(t *testing.T) {
	mock := &MockDiscordSession{}
	bot := NewDiscordBot("test-token", "c")
	bot.session = mock

	require.NoError(t, bot.SendMessage(context.Background(), "c", message.FromText(strings.Repeat("x", 2500))))
	require.Len(t, mock.sentMessages, 1)
	assert.Len(t, mock.sentMessages[0].Message, 2000)
	assert.True(t, strings.HasSuffix(mock.sentMessages[0].Message, "..."))
}

// TestDiscordBot_SendMessage_Errors tests missing session, channel and send failures
func TestDiscordBot_SendMessage_Errors(t *testing.T) {
	ctx := context.Background()

	err := NewDiscordBot("test-token", "c").SendMessage(ctx, "c", message.FromText("hi"))
	assert.ErrorContains(t, err, "not initialized")

	bot := NewDiscordBot("test-token", "")
	bot.session = &MockDiscordSession{}
	assert.ErrorContains(t, bot.SendMessage(ctx, "", message.FromText("hi")), "channel ID is required")

	bot.session = &MockDiscordSession{shouldFailOnSend: true}
	assert.ErrorContains(t, bot.SendMessage(ctx, "c", message.FromText("hi")), "failed to send message")
}

// TestDiscordBot_SendBatch tests digest chunking
func TestDiscordBot_SendBatch(t *testing.T) {
	mock := &MockDiscordSession{}
	bot := NewDiscordBot("test-token", "c")
	bot.session = mock

	batch := []message.Message{
		message.FromText(strings.Repeat("a", 1500)),
		message.FromText(strings.Repeat("b", 1500)),
	}
	require.NoError(t, bot.SendBatch(context.Background(), "c", batch))
	require.Len(t, mock.sentMessages, 2)
	assert.Equal(t, strings.Repeat("b", 1500), mock.sentMessages[1].Message)
}

// TestDiscordBot_Stop_NilSession tests stopping a bot that never started
func TestDiscordBot_Stop_NilSession(t *testing.T) {
	bot := NewDiscordBot("test-token", "")
	assert.NoError(t, bot.Stop())
}
