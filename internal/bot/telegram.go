package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/keepmind9/statebot/pkg/constants"
	"github.com/sirupsen/logrus"
)

// telegramAPI is the part of tgbotapi.BotAPI used after Start, so tests
// can substitute it
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// TelegramBot implements BotAdapter interface for Telegram using long polling
type TelegramBot struct {
	eventSink
	mu     sync.RWMutex
	token  string
	api    telegramAPI
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(token string) *TelegramBot {
	return &TelegramBot{
		token: token,
	}
}

// Start establishes long polling connection to Telegram and begins listening for messages
func (t *TelegramBot) Start(handler func(message.Event)) error {
	t.SetMessageHandler(handler)
	t.ctx, t.cancel = context.WithCancel(context.Background())

	logger.WithFields(logrus.Fields{
		"token": maskSecret(t.token),
	}).Info("starting-telegram-bot-with-long-polling")

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error": err,
		}).Error("failed-to-initialize-telegram-bot")
		return fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	t.mu.Lock()
	t.api = bot
	t.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"bot_username": bot.Self.UserName,
		"bot_id":       bot.Self.ID,
	}).Info("telegram-bot-initialized-successfully")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(constants.DefaultPollTimeout.Seconds())
	updates := bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-t.ctx.Done():
				logger.Info("telegram-long-polling-stopped")
				return
			case update, ok := <-updates:
				if !ok {
					logger.Info("telegram-updates-channel-closed")
					return
				}
				if update.Message != nil {
					t.handleMessage(update.Message)
				}
			}
		}
	}()

	logger.Info("telegram-long-polling-connection-started")
	return nil
}

// handleMessage decodes a Telegram message and passes it to the handler
func (t *TelegramBot) handleMessage(msg *tgbotapi.Message) {
	ev, ok := telegramEvent(msg)
	if !ok {
		return
	}

	logger.WithFields(logrus.Fields{
		"platform":   "telegram",
		"user_id":    ev.SenderID,
		"username":   ev.SenderName,
		"chat_id":    ev.ConversationID,
		"kind":       ev.Kind,
		"message_id": ev.ID,
		"segments":   len(ev.Message),
	}).Debug("received-telegram-message-parsed")

	t.emit(ev)
}

// telegramEvent converts a Telegram message. Captions come first so a
// photo captioned with a command is routed as that command.
func telegramEvent(msg *tgbotapi.Message) (message.Event, bool) {
	if msg == nil || msg.Chat == nil {
		return message.Event{}, false
	}

	ev := message.Event{
		ID:             strconv.Itoa(msg.MessageID),
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		Kind:           message.KindGroup,
		Time:           msg.Time(),
	}
	if msg.Chat.IsPrivate() {
		ev.Kind = message.KindPrivate
	}
	if msg.From != nil {
		ev.SenderID = strconv.FormatInt(msg.From.ID, 10)
		ev.SenderName = msg.From.UserName
		if ev.SenderName == "" {
			ev.SenderName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
	}

	if msg.Text != "" {
		ev.Message = append(ev.Message, message.Text(msg.Text))
	}
	if msg.Caption != "" {
		ev.Message = append(ev.Message, message.Text(msg.Caption))
	}
	if n := len(msg.Photo); n > 0 {
		// the last size is the largest
		ev.Message = append(ev.Message, message.Image(msg.Photo[n-1].FileID))
	}
	if msg.Sticker != nil {
		ev.Message = append(ev.Message, message.Media("sticker", msg.Sticker.FileID))
	}
	if msg.Document != nil {
		ev.Message = append(ev.Message, message.Media("file", msg.Document.FileID))
	}
	return ev, len(ev.Message) > 0
}

func (t *TelegramBot) client() (telegramAPI, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.api == nil {
		return nil, fmt.Errorf("telegram bot not initialized")
	}
	return t.api, nil
}

func parseChatID(chatID string) (int64, error) {
	if chatID == "" {
		return 0, fmt.Errorf("chat ID is required for Telegram")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID format: %w", err)
	}
	return id, nil
}

// SendMessage sends a message to a Telegram chat. Images are sent as
// photos after the text.
func (t *TelegramBot) SendMessage(ctx context.Context, chatID string, msg message.Message) error {
	api, err := t.client()
	if err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	var photos []string
	text := make(message.Message, 0, len(msg))
	for _, seg := range msg {
		if seg.Type == message.TypeImage && seg.Data["url"] != "" {
			photos = append(photos, seg.Data["url"])
			continue
		}
		text = append(text, seg)
	}

	if body := renderText(text, nil); strings.TrimSpace(body) != "" {
		if err := t.send(api, chatID, tgbotapi.NewMessage(id, truncate("telegram", body, constants.MaxTelegramMessageLength))); err != nil {
			return err
		}
	}
	for _, p := range photos {
		if err := t.send(api, chatID, tgbotapi.NewPhoto(id, telegramFile(p))); err != nil {
			return err
		}
	}
	return nil
}

// SendBatch sends msgs as digest messages
func (t *TelegramBot) SendBatch(ctx context.Context, chatID string, msgs []message.Message) error {
	api, err := t.client()
	if err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	for _, chunk := range digest("telegram", msgs, constants.MaxTelegramMessageLength, nil) {
		if err := t.send(api, chatID, tgbotapi.NewMessage(id, chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (t *TelegramBot) send(api telegramAPI, chatID string, c tgbotapi.Chattable) error {
	if _, err := api.Send(c); err != nil {
		logger.WithFields(logrus.Fields{
			"chat_id": chatID,
			"error":   err,
		}).Error("failed-to-send-message-to-telegram")
		return fmt.Errorf("failed to send message to chat %s: %w", chatID, err)
	}
	logger.WithField("chat_id", chatID).Debug("message-sent-to-telegram")
	return nil
}

// telegramFile treats http(s) references as URLs and anything else as a
// Telegram file id
func telegramFile(ref string) tgbotapi.RequestFileData {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tgbotapi.FileURL(ref)
	}
	return tgbotapi.FileID(ref)
}

// Stop closes the Telegram long polling connection and cleans up resources
func (t *TelegramBot) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	api := t.api
	t.api = nil
	t.mu.Unlock()

	if api != nil {
		api.StopReceivingUpdates()
		logger.Info("telegram-long-polling-stopped")
	}

	logger.Info("telegram-bot-stopped")
	return nil
}
