package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/keepmind9/statebot/pkg/constants"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	"github.com/sirupsen/logrus"
)

// dingtalkReplier posts text to a session webhook
type dingtalkReplier interface {
	SimpleReplyText(ctx context.Context, sessionWebhook string, content []byte) error
}

// dingtalkWebhook is the reply endpoint DingTalk hands out with each callback
type dingtalkWebhook struct {
	url     string
	expires time.Time
}

// DingTalkBot implements BotAdapter interface for DingTalk using stream mode.
// DingTalk has no chat send API for robots without extra scopes, so replies
// go to the session webhook of the latest callback in each conversation.
type DingTalkBot struct {
	eventSink
	mu           sync.RWMutex
	clientID     string
	clientSecret string
	streamClient *client.StreamClient
	replier      dingtalkReplier
	webhooks     map[string]dingtalkWebhook
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewDingTalkBot creates a new DingTalk bot instance
func NewDingTalkBot(clientID, clientSecret string) *DingTalkBot {
	return &DingTalkBot{
		clientID:     clientID,
		clientSecret: clientSecret,
		replier:      chatbot.NewChatbotReplier(),
		webhooks:     make(map[string]dingtalkWebhook),
	}
}

// Start establishes WebSocket long connection to DingTalk and begins listening for messages
func (d *DingTalkBot) Start(handler func(message.Event)) error {
	d.SetMessageHandler(handler)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	logger.WithFields(logrus.Fields{
		"client_id": maskSecret(d.clientID),
	}).Info("starting-dingtalk-bot-with-websocket-long-connection")

	credential := client.NewAppCredentialConfig(d.clientID, d.clientSecret)

	d.mu.Lock()
	d.streamClient = client.NewStreamClient(client.WithAppCredential(credential))
	streamClient := d.streamClient
	d.mu.Unlock()

	streamClient.RegisterChatBotCallbackRouter(d.handleMessageReceive)

	go func() {
		if err := streamClient.Start(d.ctx); err != nil {
			logger.WithFields(logrus.Fields{
				"client_id": maskSecret(d.clientID),
				"error":     err,
			}).Error("dingtalk-websocket-connection-failed")
		}
	}()

	time.Sleep(constants.DefaultConnectionTimeout)

	logger.Info("dingtalk-websocket-long-connection-started")
	return nil
}

// handleMessageReceive handles incoming message events from DingTalk
func (d *DingTalkBot) handleMessageReceive(ctx context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	if data == nil {
		return []byte(""), nil
	}

	if data.SessionWebhook != "" {
		d.rememberWebhook(data.ConversationId, data.SessionWebhook, data.SessionWebhookExpiredTime)
	}

	ev := dingtalkEvent(data)
	logger.WithFields(logrus.Fields{
		"platform":        "dingtalk",
		"conversation_id": ev.ConversationID,
		"kind":            ev.Kind,
		"sender_id":       ev.SenderID,
		"sender_nick":     ev.SenderName,
		"msg_id":          ev.ID,
		"msg_type":        data.Msgtype,
	}).Debug("received-dingtalk-message-event-parsed")

	d.emit(ev)

	// Empty response means no error
	return []byte(""), nil
}

// dingtalkEvent converts a robot callback. Conversation type "1" is a
// one-to-one chat.
func dingtalkEvent(data *chatbot.BotCallbackDataModel) message.Event {
	ev := message.Event{
		ID:             data.MsgId,
		ConversationID: data.ConversationId,
		Kind:           message.KindGroup,
		SenderID:       data.SenderStaffId,
		SenderName:     data.SenderNick,
		Time:           time.Now(),
	}
	if ev.SenderID == "" {
		ev.SenderID = data.SenderId
	}
	if data.ConversationType == "1" {
		ev.Kind = message.KindPrivate
	}
	if data.CreateAt > 0 {
		ev.Time = time.UnixMilli(data.CreateAt)
	}
	switch data.Msgtype {
	case "text":
		// group messages that @ the robot start with a space
		if text := strings.TrimSpace(data.Text.Content); text != "" {
			ev.Message = message.Message{message.Text(text)}
		}
	case "":
	default:
		ev.Message = message.Message{message.Media(data.Msgtype, "")}
	}
	return ev
}

func (d *DingTalkBot) rememberWebhook(conversationID, url string, expiresMillis int64) {
	hook := dingtalkWebhook{url: url}
	if expiresMillis > 0 {
		hook.expires = time.UnixMilli(expiresMillis)
	}
	d.mu.Lock()
	d.webhooks[conversationID] = hook
	d.mu.Unlock()
}

// webhook returns the reply endpoint for a conversation
func (d *DingTalkBot) webhook(conversationID string) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("conversation ID is required for DingTalk")
	}
	d.mu.RLock()
	hook, ok := d.webhooks[conversationID]
	d.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no session webhook for conversation %s", conversationID)
	}
	if !hook.expires.IsZero() && time.Now().After(hook.expires) {
		return "", fmt.Errorf("session webhook for conversation %s expired", conversationID)
	}
	return hook.url, nil
}

// SendMessage sends a message to a DingTalk conversation
func (d *DingTalkBot) SendMessage(ctx context.Context, conversationID string, msg message.Message) error {
	url, err := d.webhook(conversationID)
	if err != nil {
		return err
	}
	text := truncate("dingtalk", renderText(msg, nil), constants.MaxDingTalkMessageLength)
	return d.reply(ctx, conversationID, url, text)
}

// SendBatch sends msgs as digest messages
func (d *DingTalkBot) SendBatch(ctx context.Context, conversationID string, msgs []message.Message) error {
	url, err := d.webhook(conversationID)
	if err != nil {
		return err
	}
	for _, chunk := range digest("dingtalk", msgs, constants.MaxDingTalkMessageLength, nil) {
		if err := d.reply(ctx, conversationID, url, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *DingTalkBot) reply(ctx context.Context, conversationID, url, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := d.replier.SimpleReplyText(ctx, url, []byte(text)); err != nil {
		logger.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"error":           err,
		}).Error("failed-to-send-message-to-dingtalk")
		return fmt.Errorf("failed to send message to conversation %s: %w", conversationID, err)
	}
	logger.WithField("conversation_id", conversationID).Debug("message-sent-to-dingtalk")
	return nil
}

// Stop closes the DingTalk WebSocket connection and cleans up resources
func (d *DingTalkBot) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}

	d.mu.Lock()
	streamClient := d.streamClient
	d.streamClient = nil
	d.mu.Unlock()

	if streamClient != nil {
		streamClient.Close()
		logger.Info("dingtalk-websocket-connection-stopped")
	}

	logger.Info("dingtalk-bot-stopped")
	return nil
}
