package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/keepmind9/statebot/pkg/constants"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/sirupsen/logrus"
)

// feishuMessenger is the message API of the Lark client
type feishuMessenger interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// FeishuBot implements BotAdapter interface for Feishu (Lark) using WebSocket long connection
type FeishuBot struct {
	eventSink
	mu                sync.RWMutex
	appID             string
	appSecret         string
	encryptKey        string // Optional, for encrypted events
	verificationToken string // Optional, for event verification
	wsClient          *ws.Client
	messenger         feishuMessenger
	ctx               context.Context
	cancel            context.CancelFunc
}

// NewFeishuBot creates a new Feishu bot instance
func NewFeishuBot(appID, appSecret string) *FeishuBot {
	return &FeishuBot{
		appID:     appID,
		appSecret: appSecret,
	}
}

// WithEventSecurity sets the optional encryption key and verification token
func (f *FeishuBot) WithEventSecurity(encryptKey, verificationToken string) *FeishuBot {
	f.encryptKey = encryptKey
	f.verificationToken = verificationToken
	return f
}

// Start establishes WebSocket long connection to Feishu and begins listening for messages
func (f *FeishuBot) Start(handler func(message.Event)) error {
	f.SetMessageHandler(handler)
	f.ctx, f.cancel = context.WithCancel(context.Background())

	logger.WithFields(logrus.Fields{
		"app_id": maskSecret(f.appID),
	}).Info("starting-feishu-bot-with-websocket-long-connection")

	f.mu.Lock()
	if f.messenger == nil {
		f.messenger = lark.NewClient(f.appID, f.appSecret).Im.Message
	}
	f.mu.Unlock()

	eventDispatcher := dispatcher.NewEventDispatcher(f.verificationToken, f.encryptKey)
	eventDispatcher.OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
		return f.handleMessageReceive(ctx, event)
	})

	f.wsClient = ws.NewClient(f.appID, f.appSecret,
		ws.WithEventHandler(eventDispatcher),
		ws.WithLogLevel(larkcore.LogLevelInfo),
		ws.WithAutoReconnect(true),
	)

	// Start long connection (this blocks)
	go func() {
		if err := f.wsClient.Start(f.ctx); err != nil {
			logger.WithFields(logrus.Fields{
				"app_id": maskSecret(f.appID),
				"error":  err,
			}).Error("feishu-websocket-connection-failed")
		}
	}()

	// Give connection time to establish
	time.Sleep(constants.DefaultConnectionTimeout)

	logger.Info("feishu-websocket-long-connection-started")
	return nil
}

// handleMessageReceive handles incoming message events from Feishu
func (f *FeishuBot) handleMessageReceive(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	ev, ok := feishuEvent(event)
	if !ok {
		return nil
	}

	logger.WithFields(logrus.Fields{
		"platform":   "feishu",
		"user_id":    ev.SenderID,
		"chat_id":    ev.ConversationID,
		"kind":       ev.Kind,
		"message_id": ev.ID,
		"segments":   len(ev.Message),
	}).Debug("received-feishu-message-event-parsed")

	f.emit(ev)
	return nil
}

// feishuEvent converts a message receive event. Chats of type "p2p" are
// private.
func feishuEvent(event *larkim.P2MessageReceiveV1) (message.Event, bool) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return message.Event{}, false
	}
	m := event.Event.Message

	ev := message.Event{
		ID:             deref(m.MessageId),
		ConversationID: deref(m.ChatId),
		Kind:           message.KindGroup,
		Time:           time.Now(),
	}
	if deref(m.ChatType) == "p2p" {
		ev.Kind = message.KindPrivate
	}
	if ms, err := strconv.ParseInt(deref(m.CreateTime), 10, 64); err == nil {
		ev.Time = time.UnixMilli(ms)
	}
	if s := event.Event.Sender; s != nil && s.SenderId != nil {
		ev.SenderID = deref(s.SenderId.OpenId)
		if ev.SenderID == "" {
			ev.SenderID = deref(s.SenderId.UserId)
		}
	}

	mentions := make(map[string]string, len(m.Mentions))
	for _, mention := range m.Mentions {
		if mention == nil || mention.Key == nil || mention.Id == nil {
			continue
		}
		mentions[*mention.Key] = deref(mention.Id.OpenId)
	}

	content := deref(m.Content)
	switch deref(m.MessageType) {
	case "text":
		ev.Message = splitFeishuMentions(extractTextContent(content), mentions)
	case "image":
		var body struct {
			ImageKey string `json:"image_key"`
		}
		if err := json.Unmarshal([]byte(content), &body); err == nil && body.ImageKey != "" {
			ev.Message = message.Message{message.Image(body.ImageKey)}
		}
	default:
		ev.Message = message.Message{message.Media(deref(m.MessageType), "")}
	}
	return ev, len(ev.Message) > 0
}

// splitFeishuMentions replaces mention placeholders (@_user_1) with
// mention segments
func splitFeishuMentions(text string, mentions map[string]string) message.Message {
	if text == "" {
		return nil
	}
	msg := message.Message{message.Text(text)}
	for key, openID := range mentions {
		var out message.Message
		for _, seg := range msg {
			if !seg.IsText() || !strings.Contains(seg.Text(), key) {
				out = append(out, seg)
				continue
			}
			parts := strings.Split(seg.Text(), key)
			for i, p := range parts {
				if i > 0 {
					out = append(out, message.Mention(openID))
				}
				if p != "" {
					out = append(out, message.Text(p))
				}
			}
		}
		msg = out
	}
	return msg
}

// extractTextContent extracts actual text from Feishu message content
// Feishu text message format: {"text":"actual message"}
func extractTextContent(content string) string {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &body); err != nil {
		return content
	}
	return body.Text
}

func feishuMentionText(openID string) string {
	return `<at user_id="` + openID + `"></at>`
}

func (f *FeishuBot) client(chatID string) (feishuMessenger, error) {
	if chatID == "" {
		return nil, fmt.Errorf("chat ID is required for Feishu")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.messenger == nil {
		return nil, fmt.Errorf("feishu client not initialized")
	}
	return f.messenger, nil
}

// SendMessage sends a message to a Feishu chat. Image segments holding an
// image key are sent as image messages after the text.
func (f *FeishuBot) SendMessage(ctx context.Context, chatID string, msg message.Message) error {
	messenger, err := f.client(chatID)
	if err != nil {
		return err
	}

	var images []string
	text := make(message.Message, 0, len(msg))
	for _, seg := range msg {
		if key := seg.Data["url"]; seg.Type == message.TypeImage && strings.HasPrefix(key, "img_") {
			images = append(images, key)
			continue
		}
		text = append(text, seg)
	}

	if body := renderText(text, feishuMentionText); strings.TrimSpace(body) != "" {
		body = truncate("feishu", body, constants.MaxFeishuMessageLength)
		if err := f.create(ctx, messenger, chatID, larkim.MsgTypeText, map[string]string{"text": body}); err != nil {
			return err
		}
	}
	for _, key := range images {
		if err := f.create(ctx, messenger, chatID, larkim.MsgTypeImage, map[string]string{"image_key": key}); err != nil {
			return err
		}
	}
	return nil
}

// SendBatch sends msgs as digest messages
func (f *FeishuBot) SendBatch(ctx context.Context, chatID string, msgs []message.Message) error {
	messenger, err := f.client(chatID)
	if err != nil {
		return err
	}
	for _, chunk := range digest("feishu", msgs, constants.MaxFeishuMessageLength, feishuMentionText) {
		if err := f.create(ctx, messenger, chatID, larkim.MsgTypeText, map[string]string{"text": chunk}); err != nil {
			return err
		}
	}
	return nil
}

func (f *FeishuBot) create(ctx context.Context, messenger feishuMessenger, chatID, msgType string, content map[string]string) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode feishu content: %w", err)
	}

	body := larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(chatID).
		MsgType(msgType).
		Content(string(data)).
		Build()

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(body).
		Build()

	resp, err := messenger.Create(ctx, req)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"chat_id": chatID,
			"error":   err,
		}).Error("failed-to-send-message-to-feishu")
		return fmt.Errorf("failed to send message to chat %s: %w", chatID, err)
	}

	if !resp.Success() {
		logger.WithFields(logrus.Fields{
			"chat_id": chatID,
			"code":    resp.Code,
			"msg":     resp.Msg,
		}).Error("failed-to-send-message-to-feishu-api-error")
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	logger.WithField("chat_id", chatID).Debug("message-sent-to-feishu")
	return nil
}

// Stop closes the Feishu WebSocket connection and cleans up resources
func (f *FeishuBot) Stop() error {
	if f.cancel != nil {
		f.cancel()
	}

	if f.wsClient != nil {
		// ws.Client has no Stop method; the connection ends with the context
		logger.Info("feishu-websocket-connection-stopped")
	}

	logger.Info("feishu-bot-stopped")
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
