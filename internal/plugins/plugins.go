// Package plugins contains the plugins bundled with statebot.
//
// Each plugin is built by a Factory against an engine and registered with
// RegisterAll. Plugins only use the public core API, so they double as
// examples for third-party plugins.
package plugins

import (
	"fmt"

	"github.com/keepmind9/statebot/internal/core"
	"github.com/keepmind9/statebot/internal/logger"
)

// Factory builds a plugin on e. It must not register it.
type Factory func(e *core.Engine) *core.Plugin

type entry struct {
	name    string
	factory Factory
}

// bundled lists the plugins in registration order. help comes last so the
// plugin list it prints is complete.
var bundled = []entry{
	{"echo", NewEcho},
	{"travel", NewTravel},
	{"checkin", NewCheckin},
	{"clock", NewClock},
	{"relay", NewRelay},
	{"help", NewHelp},
}

// Names returns the bundled plugin names in registration order
func Names() []string {
	names := make([]string, 0, len(bundled))
	for _, b := range bundled {
		names = append(names, b.name)
	}
	return names
}

// RegisterAll builds and registers every bundled plugin. Plugins disabled
// in the configuration are still registered; the engine skips them at
// dispatch time.
func RegisterAll(e *core.Engine) error {
	for _, b := range bundled {
		if err := e.Register(b.factory(e)); err != nil {
			return fmt.Errorf("failed to register plugin %s: %w", b.name, err)
		}
	}
	logger.WithField("plugins", len(bundled)).Info("bundled-plugins-registered")
	return nil
}
