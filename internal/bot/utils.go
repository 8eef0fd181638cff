package bot

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/message"
	"github.com/keepmind9/statebot/pkg/constants"
	"github.com/sirupsen/logrus"
)

// digestSeparator separates batch items rendered into one text message
const digestSeparator = "\n\n"

// maskSecret masks sensitive information for logging
func maskSecret(s string) string {
	if len(s) <= constants.MinSecretLengthForMasking {
		return "***"
	}
	return s[:constants.SecretMaskPrefixLength] + "***" + s[len(s)-constants.SecretMaskSuffixLength:]
}

// eventSink holds the handler given to Start
type eventSink struct {
	handlerMu sync.RWMutex
	handler   func(message.Event)
}

// SetMessageHandler sets the event handler in a thread-safe manner
func (s *eventSink) SetMessageHandler(handler func(message.Event)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handler = handler
}

// GetMessageHandler gets the event handler in a thread-safe manner
func (s *eventSink) GetMessageHandler() func(message.Event) {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()
	return s.handler
}

// emit passes ev to the handler. It reports false when no handler is set
// or the message is empty.
func (s *eventSink) emit(ev message.Event) bool {
	handler := s.GetMessageHandler()
	if handler == nil || len(ev.Message) == 0 {
		return false
	}
	handler(ev)
	return true
}

// renderText renders msg as plain text. mention formats a mention segment
// for the platform; nil keeps the generic "@id" form.
func renderText(msg message.Message, mention func(userID string) string) string {
	var sb strings.Builder
	for _, seg := range msg {
		switch {
		case seg.Type == message.TypeMention && mention != nil:
			sb.WriteString(mention(seg.Data["user_id"]))
		case seg.Type == message.TypeImage && seg.Data["url"] != "":
			sb.WriteString(seg.Data["url"])
		default:
			sb.WriteString(seg.String())
		}
	}
	return sb.String()
}

// truncate shortens text to at most max bytes without splitting a rune
func truncate(platform, text string, max int) string {
	if len(text) <= max {
		return text
	}
	logger.WithFields(logrus.Fields{
		"platform":        platform,
		"original_length": len(text),
		"max_length":      max,
	}).Info("truncating-message-for-platform-limit")

	const marker = "..."
	cut := max - len(marker)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + marker
}

// digest renders msgs as text chunks of at most max bytes, for platforms
// without forward packages. Items are never split across chunks; an item
// longer than max is truncated.
func digest(platform string, msgs []message.Message, max int, mention func(string) string) []string {
	var chunks []string
	var cur strings.Builder
	for _, m := range msgs {
		item := truncate(platform, renderText(m, mention), max)
		if item == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(digestSeparator)+len(item) > max {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(digestSeparator)
		}
		cur.WriteString(item)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
