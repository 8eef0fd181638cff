package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/keepmind9/statebot/pkg/constants"
	"github.com/sirupsen/logrus"
)

// DiscordSessionInterface defines the interface we need from discordgo.Session
// This allows us to mock it in tests without depending on concrete types
type DiscordSessionInterface interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// discordMention matches <@id> and <@!id> in message content
var discordMention = regexp.MustCompile(`<@!?(\d+)>`)

// DiscordBot implements BotAdapter interface for Discord
type DiscordBot struct {
	eventSink
	mu        sync.RWMutex
	token     string
	channelID string
	session   DiscordSessionInterface
}

// NewDiscordBot creates a new Discord bot instance. A non-empty channelID
// restricts guild messages to that channel; direct messages always pass.
func NewDiscordBot(token, channelID string) *DiscordBot {
	return &DiscordBot{
		token:     token,
		channelID: channelID,
	}
}

// Start establishes connection to Discord and begins listening for messages
func (d *DiscordBot) Start(handler func(message.Event)) error {
	d.SetMessageHandler(handler)

	logger.WithFields(logrus.Fields{
		"token":   maskSecret(d.token),
		"channel": d.channelID,
	}).Info("starting-discord-bot")

	d.mu.Lock()
	if d.session == nil {
		session, err := discordgo.New("Bot " + d.token)
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("failed to create discord session: %w", err)
		}
		d.session = session
	}
	session := d.session
	d.mu.Unlock()

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(m)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}
	return nil
}

// handleMessage decodes a Discord message and passes it to the handler
func (d *DiscordBot) handleMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if d.channelID != "" && m.GuildID != "" && m.ChannelID != d.channelID {
		return
	}

	ev := discordEvent(m)
	logger.WithFields(logrus.Fields{
		"platform": "discord",
		"user_id":  ev.SenderID,
		"username": ev.SenderName,
		"channel":  ev.ConversationID,
		"kind":     ev.Kind,
		"segments": len(ev.Message),
	}).Debug("received-discord-message")

	d.emit(ev)
}

// discordEvent converts a Discord message. Messages outside a guild are
// direct messages.
func discordEvent(m *discordgo.MessageCreate) message.Event {
	ev := message.Event{
		ID:             m.ID,
		ConversationID: m.ChannelID,
		Kind:           message.KindGroup,
		SenderID:       m.Author.ID,
		SenderName:     m.Author.Username,
		Message:        parseDiscordContent(m.Content),
		Time:           m.Timestamp,
	}
	if m.GuildID == "" {
		ev.Kind = message.KindPrivate
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		if strings.HasPrefix(a.ContentType, "image/") {
			ev.Message = append(ev.Message, message.Image(a.URL))
		} else {
			ev.Message = append(ev.Message, message.Media("file", a.URL))
		}
	}
	return ev
}

// parseDiscordContent splits content into text and mention segments
func parseDiscordContent(content string) message.Message {
	var msg message.Message
	last := 0
	for _, loc := range discordMention.FindAllStringSubmatchIndex(content, -1) {
		if loc[0] > last {
			msg = append(msg, message.Text(content[last:loc[0]]))
		}
		msg = append(msg, message.Mention(content[loc[2]:loc[3]]))
		last = loc[1]
	}
	if last < len(content) {
		msg = append(msg, message.Text(content[last:]))
	}
	return msg
}

func discordMentionText(userID string) string {
	return "<@" + userID + ">"
}

func (d *DiscordBot) target(channel string) (DiscordSessionInterface, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, "", fmt.Errorf("discord session not initialized")
	}
	if channel == "" {
		channel = d.channelID
	}
	if channel == "" {
		return nil, "", fmt.Errorf("channel ID is required for Discord")
	}
	return d.session, channel, nil
}

// SendMessage sends a message to a Discord channel
func (d *DiscordBot) SendMessage(ctx context.Context, channel string, msg message.Message) error {
	session, channel, err := d.target(channel)
	if err != nil {
		return err
	}
	text := truncate("discord", renderText(msg, discordMentionText), constants.MaxDiscordMessageLength)
	return d.send(session, channel, text)
}

// SendBatch sends msgs as digest messages
func (d *DiscordBot) SendBatch(ctx context.Context, channel string, msgs []message.Message) error {
	session, channel, err := d.target(channel)
	if err != nil {
		return err
	}
	for _, chunk := range digest("discord", msgs, constants.MaxDiscordMessageLength, discordMentionText) {
		if err := d.send(session, channel, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiscordBot) send(session DiscordSessionInterface, channel, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if _, err := session.ChannelMessageSend(channel, text); err != nil {
		logger.WithFields(logrus.Fields{
			"channel": channel,
			"error":   err,
		}).Error("failed-to-send-message-to-discord")
		return fmt.Errorf("failed to send message to channel %s: %w", channel, err)
	}
	logger.WithField("channel", channel).Debug("message-sent-to-discord")
	return nil
}

// Stop closes the Discord connection and cleans up resources
func (d *DiscordBot) Stop() error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.mu.Unlock()

	if session == nil {
		return nil
	}

	if err := session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}
