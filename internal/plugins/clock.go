package plugins

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/keepmind9/statebot/internal/core"
	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/storage"
	"github.com/sirupsen/logrus"
)

// subscriber is a conversation receiving the hourly chime
type subscriber struct {
	Bot          string `json:"bot"`
	Conversation string `json:"conversation"`
}

// clock keeps the subscriber list in shared plugin storage
type clock struct {
	mu    sync.Mutex
	store storage.Store
}

func (c *clock) accessor() *storage.Accessor {
	return storage.NewAccessor(c.store, storage.PluginKey("clock", "subscribers"))
}

func (c *clock) subscribers(ctx context.Context) ([]subscriber, error) {
	var subs []subscriber
	if _, err := c.accessor().Load(ctx, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// update applies fn to the subscriber list and saves the result
func (c *clock) update(ctx context.Context, fn func([]subscriber) []subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs, err := c.subscribers(ctx)
	if err != nil {
		return err
	}
	return c.accessor().Save(ctx, fn(subs))
}

// chime announces the hour in every subscribed conversation. Offline bots
// and conversations that switched the plugin off are skipped.
func (c *clock) chime(ctx context.Context, e *core.Engine) error {
	subs, err := c.subscribers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load clock subscribers: %w", err)
	}
	text := fmt.Sprintf("it is %s", now().Format("15:04"))
	for _, sub := range subs {
		err := e.WithSession(ctx, sub.Bot, sub.Conversation, "clock", func(dc *core.DispatchContext) error {
			dc.SendText(text)
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, core.ErrBotOffline), errors.Is(err, core.ErrPluginDisabled):
			logger.ForConversation(sub.Bot, sub.Conversation).WithField("reason", err).Debug("clock-chime-skipped")
		default:
			logger.ForConversation(sub.Bot, sub.Conversation).WithField("error", err).Warn("clock-chime-failed")
		}
	}
	return nil
}

// NewClock builds the clock plugin: conversations subscribe with
// #clock on and hear the time at the top of every hour.
func NewClock(e *core.Engine) *core.Plugin {
	c := &clock{store: e.Store()}
	p := e.NewPlugin("clock").Intro("hourly chime")

	p.OnIdle().
		Command("clock").
		Help("on|off subscribe to the hourly chime").
		Handle(func(dc *core.DispatchContext) error {
			self := subscriber{Bot: dc.Session.BotID, Conversation: dc.Session.ConversationID}
			mode := ""
			if len(dc.Args) > 0 {
				mode = dc.Args[0]
			}

			var update func([]subscriber) []subscriber
			var reply string
			switch mode {
			case "on":
				update = func(subs []subscriber) []subscriber {
					if slices.Contains(subs, self) {
						return subs
					}
					return append(subs, self)
				}
				reply = "clock on"
			case "off":
				update = func(subs []subscriber) []subscriber {
					return slices.DeleteFunc(subs, func(s subscriber) bool { return s == self })
				}
				reply = "clock off"
			default:
				subs, err := c.subscribers(dc.Context())
				if err != nil {
					return err
				}
				if slices.Contains(subs, self) {
					dc.SendText("clock is on")
				} else {
					dc.SendText("clock is off")
				}
				return nil
			}

			if err := c.update(dc.Context(), update); err != nil {
				return fmt.Errorf("failed to update clock subscribers: %w", err)
			}
			logger.ForConversation(self.Bot, self.Conversation).WithFields(logrus.Fields{
				"mode": mode,
			}).Info("clock-subscription-changed")
			dc.SendText(reply)
			return nil
		})

	p.Hourly("chime", 0, 0, c.chime)
	return p
}
