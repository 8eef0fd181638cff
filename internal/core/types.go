package core

import (
	"time"

	"github.com/keepmind9/statebot/internal/storage"
)

// Config represents the complete statebot configuration structure
type Config struct {
	Command    CommandConfig           `yaml:"command" envPrefix:"COMMAND_"`
	Dispatch   DispatchConfig          `yaml:"dispatch" envPrefix:"DISPATCH_"`
	HookServer HookServerConfig        `yaml:"hook_server" envPrefix:"HOOK_"`
	Storage    storage.Config          `yaml:"storage" envPrefix:"STORAGE_"`
	Bots       map[string]BotConfig    `yaml:"bots"`
	Plugins    map[string]PluginConfig `yaml:"plugins"`
	Logging    LoggingConfig           `yaml:"logging" envPrefix:"LOG_"`
}

// CommandConfig represents command syntax
type CommandConfig struct {
	Prefix         string `yaml:"prefix" env:"PREFIX"`                   // Marks a command (default: "#")
	Separator      string `yaml:"separator" env:"SEPARATOR"`             // Splits arguments (default: " ")
	StateSeparator string `yaml:"state_separator" env:"STATE_SEPARATOR"` // Splits state paths (default: ".")
}

// DispatchConfig represents dispatch behaviour
type DispatchConfig struct {
	// ExcludeOlderThan drops events older than this (0 disables)
	ExcludeOlderThan time.Duration `yaml:"exclude_older_than" env:"EXCLUDE_OLDER_THAN"`
	// PrivateSelf also dispatches a private event in its own conversation
	// after relaying it to listeners
	PrivateSelf bool `yaml:"private_self" env:"PRIVATE_SELF"`
}

// HookServerConfig represents HTTP hook server configuration
type HookServerConfig struct {
	Enabled   bool `yaml:"enabled" env:"ENABLED"`
	Port      int  `yaml:"port" env:"PORT"`
	RateLimit int  `yaml:"rate_limit" env:"RATE_LIMIT"` // Injected events per client per minute
}

// BotConfig represents bot configuration
type BotConfig struct {
	Type              string `yaml:"type"` // telegram/discord/feishu/dingtalk (default: map key)
	Enabled           bool   `yaml:"enabled"`
	AppID             string `yaml:"app_id"`
	AppSecret         string `yaml:"app_secret"`
	Token             string `yaml:"token"`
	ChannelID         string `yaml:"channel_id"`         // Discord: restrict to one channel (optional)
	EncryptKey        string `yaml:"encrypt_key"`        // Feishu: event encryption key (optional)
	VerificationToken string `yaml:"verification_token"` // Feishu: verification token (optional)
}

// PluginConfig represents per-plugin configuration
type PluginConfig struct {
	Disabled bool              `yaml:"disabled"`
	Settings map[string]string `yaml:"settings"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`  // debug, info, warn, error
	Format       string `yaml:"format" env:"FORMAT"` // json or text (default: text at debug, json otherwise)
	File         string `yaml:"file" env:"FILE"`    // Log file path
	MaxSize      int    `yaml:"max_size"`           // Single file max size in MB (default: 100)
	MaxBackups   int    `yaml:"max_backups"`        // Number of backups to keep (default: 5)
	MaxAge       int    `yaml:"max_age"`            // Maximum days to retain (default: 30)
	Compress     bool   `yaml:"compress"`           // Whether to compress old logs
	EnableStdout *bool  `yaml:"enable_stdout"`      // Also output to stdout (default: true)
}
