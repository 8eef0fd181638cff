// Package core provides the command-routing engine of statebot.
//
// The core package decides which plugin handler runs for an inbound chat
// message. It handles:
//
//   - A process-wide tree of named states
//   - Plugin and trigger registration through a fluent builder
//   - Per-conversation sessions with enter/exit transitions
//   - Cascading dispatch with longest-match and blocking rules
//   - Recurring timers aligned to the wall clock
//   - Relaying private messages to listening conversations
//   - Configuration loading and the HTTP hook server
//
// # Main Components
//
//   - Engine: owns every registry and routes events
//   - StateTree: arena of states addressed by StateID
//   - Plugin / TriggerBuilder: registration API
//   - DispatchContext: what a handler sees of the current event
//
// # Configuration
//
// Configuration is loaded from a YAML file with the following sections:
//
//   - command: prefix and separators
//   - dispatch: stale-event filter, private dispatch
//   - hook_server: HTTP server settings
//   - storage: plugin data backend
//   - bots: IM platform bot configurations
//   - plugins: per-plugin switches and settings
//   - logging: log configuration
//
// Values may reference ${VAR} environment variables, and STATEBOT_*
// variables override individual settings.
//
// # Example Configuration
//
//	command:
//	  prefix: "#"
//	storage:
//	  backend: sqlite
//	  dir: ./data
//	bots:
//	  telegram:
//	    enabled: true
//	    token: "${TELEGRAM_TOKEN}"
package core

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/keepmind9/statebot/internal/storage"
	"github.com/keepmind9/statebot/pkg/constants"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel = "info"

	// EnvPrefix prefixes every environment override
	EnvPrefix = "STATEBOT_"
)

// supportedBotTypes lists the transports cmd/statebot can build
var supportedBotTypes = map[string]struct{}{
	"telegram": {},
	"discord":  {},
	"feishu":   {},
	"dingtalk": {},
}

// LoadConfig loads configuration from file, expands environment variables
// and applies STATEBOT_* overrides
func LoadConfig(configPath string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expandedData, err := expandEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	// Parse YAML
	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnvOverrides(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a configuration with every default applied and no
// bots. It is used by tests and by commands that do not connect.
func DefaultConfig() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

// expandEnv replaces ${VAR_NAME} patterns with environment variable values
func expandEnv(input string) (string, error) {
	var missingVars []string

	result := os.Expand(input, func(key string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		missingVars = append(missingVars, key)
		return "" // Return empty string to let config parsing fail
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s",
			strings.Join(missingVars, ", "))
	}

	return result, nil
}

// applyEnvOverrides overlays STATEBOT_* variables (STATEBOT_COMMAND_PREFIX,
// STATEBOT_LOG_LEVEL, STATEBOT_STORAGE_BACKEND, STATEBOT_HOOK_PORT, ...)
func applyEnvOverrides(config *Config) error {
	return env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix})
}

// applyDefaults fills zero values
func applyDefaults(config *Config) {
	if config.Command.Prefix == "" {
		config.Command.Prefix = constants.DefaultCommandPrefix
	}
	if config.Command.Separator == "" {
		config.Command.Separator = constants.DefaultArgSeparator
	}
	if config.Command.StateSeparator == "" {
		config.Command.StateSeparator = constants.DefaultStateSeparator
	}

	if config.HookServer.Port == 0 {
		config.HookServer.Port = constants.DefaultHookPort
	}
	if config.HookServer.RateLimit == 0 {
		config.HookServer.RateLimit = constants.HookRateLimit
	}

	if config.Storage.Backend == "" {
		config.Storage.Backend = storage.BackendMemory
	}

	// Set default logging configuration
	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = constants.DefaultLogMaxSize
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = constants.DefaultLogMaxBackups
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = constants.DefaultLogMaxAge
	}
	if config.Logging.EnableStdout == nil {
		enabled := true
		config.Logging.EnableStdout = &enabled
	}

	for id, bot := range config.Bots {
		if bot.Type == "" {
			bot.Type = id
			config.Bots[id] = bot
		}
	}
}

// validateConfig applies defaults and performs basic validation on the
// configuration
func validateConfig(config *Config) error {
	applyDefaults(config)

	if config.Command.StateSeparator == config.Command.Separator {
		return fmt.Errorf("command.state_separator must differ from command.separator")
	}
	if config.Dispatch.ExcludeOlderThan < 0 {
		return fmt.Errorf("dispatch.exclude_older_than cannot be negative")
	}
	if config.HookServer.Port < 1 || config.HookServer.Port > 65535 {
		return fmt.Errorf("hook_server.port must be between 1 and 65535 (got %d)", config.HookServer.Port)
	}
	if config.HookServer.RateLimit < 0 {
		return fmt.Errorf("hook_server.rate_limit cannot be negative")
	}

	switch config.Storage.Backend {
	case storage.BackendMemory, storage.BackendFile, storage.BackendRedis, storage.BackendSQLite, storage.BackendBadger:
	default:
		return fmt.Errorf("unknown storage.backend %q", config.Storage.Backend)
	}
	if config.Storage.Backend == storage.BackendRedis && config.Storage.Redis.Address == "" {
		return fmt.Errorf("storage.redis.address is required for the redis backend")
	}

	switch config.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text (got %q)", config.Logging.Format)
	}

	// Validate at least one bot is configured
	if len(config.Bots) == 0 {
		return fmt.Errorf("at least one bot must be configured")
	}
	enabled := 0
	for id, bot := range config.Bots {
		if _, ok := supportedBotTypes[bot.Type]; !ok {
			return fmt.Errorf("bot %s has unsupported type %q", id, bot.Type)
		}
		if bot.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one bot must be enabled")
	}

	return nil
}

// GetBotConfig retrieves configuration for a specific bot
func (c *Config) GetBotConfig(botID string) (BotConfig, error) {
	bot, exists := c.Bots[botID]
	if !exists {
		return BotConfig{}, fmt.Errorf("bot %s not found in configuration", botID)
	}

	if !bot.Enabled {
		return BotConfig{}, fmt.Errorf("bot %s is disabled", botID)
	}

	return bot, nil
}

// IsPluginEnabled reports whether a plugin is enabled globally
func (c *Config) IsPluginEnabled(name string) bool {
	return !c.Plugins[name].Disabled
}

// PluginSetting returns a plugin setting or def when unset
func (c *Config) PluginSetting(plugin, key, def string) string {
	if v, ok := c.Plugins[plugin].Settings[key]; ok && v != "" {
		return v
	}
	return def
}
