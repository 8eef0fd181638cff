package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRegistrationConflict is returned when a plugin name is taken
	ErrRegistrationConflict = errors.New("plugin already registered")
	// ErrArgumentValidation marks arguments that do not fit a payload
	ErrArgumentValidation = errors.New("argument validation failed")
	// ErrTransportSend wraps a failure reported by a transport
	ErrTransportSend = errors.New("transport send failed")
	// ErrReentrantTransition is logged when a hook starts a transition
	ErrReentrantTransition = errors.New("state transition started from an enter/exit hook")
	// ErrTreeFrozen is returned when the state tree is modified after start
	ErrTreeFrozen = errors.New("state tree is frozen")
	// ErrBotOffline is returned when the target bot is not connected
	ErrBotOffline = errors.New("bot is offline")
	// ErrPluginDisabled is returned when the plugin is disabled for the conversation
	ErrPluginDisabled = errors.New("plugin is disabled")
	// ErrUnknownBot is returned for a bot id that was never registered
	ErrUnknownBot = errors.New("unknown bot")
)

// ValidationError carries the user-visible reason arguments were rejected
type ValidationError struct {
	Plugin  string
	Command string
	Usage   string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrArgumentValidation, e.Plugin, e.Command, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause
func (e *ValidationError) Unwrap() []error {
	return []error{ErrArgumentValidation, e.Err}
}

// Message is the diagnostic sent back to the conversation
func (e *ValidationError) Message() string {
	msg := fmt.Sprintf("invalid arguments: %v", e.Err)
	if e.Usage != "" {
		msg += "\nusage: " + e.Command + " " + e.Usage
	}
	return msg
}
