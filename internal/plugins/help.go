package plugins

import (
	"errors"
	"fmt"
	"strings"

	"github.com/keepmind9/statebot/internal/core"
)

// NewHelp builds the help plugin. #help works from every state: at the
// root it lists the plugins, inside a plugin it shows the commands
// reachable from the current state.
func NewHelp(e *core.Engine) *core.Plugin {
	p := e.NewPlugin("help").Intro("shows what you can do")

	p.OnIdle().
		Command("help").
		AllDepths().
		Help("[plugin] list plugins or show a plugin's commands").
		Handle(func(dc *core.DispatchContext) error {
			state := dc.State()
			current := owningPlugin(dc.Engine, state)

			name := current
			if len(dc.Args) > 0 {
				name = dc.Args[0]
			}
			if name == "" {
				dc.SendText(pluginList(dc))
				return nil
			}
			if dc.Engine.Plugin(name) == nil {
				dc.SendText("unknown plugin " + name)
				return nil
			}
			if name == current {
				dc.SendText(dc.Engine.Help(name, state))
				return nil
			}
			dc.SendText(dc.Engine.Intro(name))
			return nil
		})

	p.OnIdle().
		Command("switch").
		Payload(func() any { return &switchPayload{} }).
		Help("turn a plugin on or off here").
		Handle(func(dc *core.DispatchContext) error {
			sw := dc.Payload.(*switchPayload)
			if dc.Engine.Plugin(sw.Plugin) == nil {
				dc.SendText("unknown plugin " + sw.Plugin)
				return nil
			}
			err := dc.Engine.SetPluginEnabled(dc.Session.BotID, dc.Session.ConversationID, sw.Plugin, sw.Mode == "on")
			if err != nil {
				return err
			}
			dc.SendText(fmt.Sprintf("%s is %s here", sw.Plugin, sw.Mode))
			return nil
		})

	return p
}

// switchPayload is the argument of #switch
type switchPayload struct {
	Plugin string `mapstructure:"plugin"`
	Mode   string `mapstructure:"mode"`
}

// Validate accepts on or off and keeps help itself switched on
func (s *switchPayload) Validate() error {
	if s.Mode != "on" && s.Mode != "off" {
		return errors.New("mode must be on or off")
	}
	if s.Plugin == "help" {
		return errors.New("help cannot be switched")
	}
	return nil
}

// owningPlugin returns the plugin whose subtree holds state, or "" at the
// root
func owningPlugin(e *core.Engine, state core.StateID) string {
	path := e.Tree().Path(state)
	if len(path) < 2 {
		return ""
	}
	return path[1]
}

// pluginList renders one line per plugin enabled in the conversation
func pluginList(dc *core.DispatchContext) string {
	cfg := dc.Engine.Config()
	lines := []string{"plugins:"}
	for _, p := range dc.Engine.Plugins() {
		if !cfg.IsPluginEnabled(p.Name()) || !dc.Session.PluginEnabled(p.Name()) {
			continue
		}
		intro, _, _ := strings.Cut(dc.Engine.Intro(p.Name()), "\n")
		lines = append(lines, p.Name()+" - "+intro)
	}
	lines = append(lines, cfg.Command.Prefix+"help <plugin> for details")
	return strings.Join(lines, "\n")
}
