package constants

import "time"

// Command syntax defaults
const (
	// DefaultCommandPrefix marks a message as command-addressed
	DefaultCommandPrefix = "#"
	// DefaultArgSeparator splits the argument text into tokens
	DefaultArgSeparator = " "
	// DefaultStateSeparator splits dotted state paths ("travel.earth")
	DefaultStateSeparator = "."
	// RootStateKey is the key of the state tree root
	RootStateKey = "root"
)

// Batch (forward/digest) sending
const (
	// MaxBatchItems is the platform limit for one forward package
	MaxBatchItems = 100
	// BatchChunkSize is the number of items sent per forward package.
	// Kept below MaxBatchItems to leave room for platform-side wrappers.
	BatchChunkSize = 80
)

// Message length limits for different platforms
const (
	// MaxDiscordMessageLength is Discord's message character limit
	MaxDiscordMessageLength = 2000
	// MaxTelegramMessageLength is Telegram's message character limit
	MaxTelegramMessageLength = 4096
	// MaxFeishuMessageLength is Feishu's message character limit
	MaxFeishuMessageLength = 20000
	// MaxDingTalkMessageLength is DingTalk's message character limit
	MaxDingTalkMessageLength = 20000
)

// Timeouts and delays
const (
	// DefaultConnectionTimeout is the time given to websocket adapters to connect
	DefaultConnectionTimeout = 2 * time.Second
	// DefaultPollTimeout is the timeout for long polling operations
	DefaultPollTimeout = 60 * time.Second
	// HookHTTPTimeout is the read/write timeout of the hook server
	HookHTTPTimeout = 5 * time.Second
	// ShutdownTimeout bounds graceful shutdown of the hook server
	ShutdownTimeout = 5 * time.Second
)

// Hook server
const (
	// DefaultHookPort is the default hook server port
	DefaultHookPort = 8080
	// HookRateLimit is the number of injected events accepted per client and window
	HookRateLimit = 120
	// HookRateWindow is the rate limit window for injected events
	HookRateWindow = time.Minute
	// MaxHookBodyBytes bounds the size of one injected event
	MaxHookBodyBytes = 1 << 20
)

// Token masking
const (
	// MinSecretLengthForMasking is the minimum secret length to apply masking
	MinSecretLengthForMasking = 10
	// SecretMaskPrefixLength is the length of prefix to show before masking
	SecretMaskPrefixLength = 4
	// SecretMaskSuffixLength is the length of suffix to show after masking
	SecretMaskSuffixLength = 4
)

// Logging defaults
const (
	// DefaultLogMaxSize is the default maximum log file size in MB
	DefaultLogMaxSize = 100
	// DefaultLogMaxBackups is the default number of rotated files kept
	DefaultLogMaxBackups = 5
	// DefaultLogMaxAge is the default maximum number of days to retain old logs
	DefaultLogMaxAge = 30
)
