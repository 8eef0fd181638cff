package plugins

import (
	"strings"

	"github.com/keepmind9/statebot/internal/core"
)

// listenPayload is the argument of #listen
type listenPayload struct {
	User string `mapstructure:"user"`
}

// NewRelay builds the relay plugin. A conversation listening to a user
// receives that user's private messages as if they were sent there.
func NewRelay(e *core.Engine) *core.Plugin {
	p := e.NewPlugin("relay").Intro("play here from a private chat")

	p.OnIdle().
		Command("listen").
		Payload(func() any { return &listenPayload{} }).
		Help("route the user's private messages here").
		Handle(func(dc *core.DispatchContext) error {
			user := dc.Payload.(*listenPayload).User
			dc.AddListener(user)
			dc.SendText("listening to " + user)
			return nil
		})

	p.OnIdle().
		Command("unlisten").
		Help("[user] stop listening, to everyone without a user").
		Handle(func(dc *core.DispatchContext) error {
			user := ""
			if len(dc.Args) > 0 {
				user = dc.Args[0]
			}
			dc.RemoveListener(user)
			if user == "" {
				dc.SendText("stopped listening")
			} else {
				dc.SendText("stopped listening to " + user)
			}
			return nil
		})

	p.OnIdle().
		Command("listeners").
		Help("show who is listened to").
		Handle(func(dc *core.DispatchContext) error {
			users := dc.Engine.Listeners().Listening(dc.Session.BotID, dc.Session.ConversationID)
			if len(users) == 0 {
				dc.SendText("listening to nobody")
				return nil
			}
			dc.SendText("listening to " + strings.Join(users, ", "))
			return nil
		})

	return p
}
