// Package bot provides bot adapters for various IM platforms.
//
// Each adapter decodes platform updates into message.Event values and
// renders outgoing message.Message values in the platform's format. The
// routing engine never sees platform types.
//
// # Supported Platforms
//
//   - Discord: WebSocket gateway with real-time message handling
//   - Telegram: Long polling for message updates
//   - Feishu/Lark: WebSocket long connection for enterprise messaging
//   - DingTalk: Stream mode connection, replies through session webhooks
//
// # Usage
//
//  1. Create a bot instance using the New* function for your platform
//  2. Call Start() with an event handler callback
//  3. Send messages using SendMessage() or SendBatch()
//  4. Call Stop() when shutting down
//
// Example:
//
//	tg := bot.NewTelegramBot(token)
//	err := tg.Start(func(ev message.Event) {
//		fmt.Printf("%s: %s\n", ev.SenderID, ev.Message)
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	tg.SendMessage(ctx, chatID, message.FromText("Hello, world!"))
//	tg.Stop()
//
// # Thread Safety
//
// All bot adapters are thread-safe and use internal mutexes to protect
// shared state. The event handler may be called concurrently from
// multiple goroutines.
package bot

import (
	"context"

	"github.com/keepmind9/statebot/internal/message"
)

// BotAdapter defines the interface for bot adapters
type BotAdapter interface {
	// Start connects to the platform and begins delivering events. It
	// returns once the connection is usable.
	Start(handler func(message.Event)) error

	// SendMessage sends one message to a conversation
	// Adapter is responsible for:
	//   - Truncating to platform limits
	//   - Rendering non-text segments
	SendMessage(ctx context.Context, conversationID string, msg message.Message) error

	// SendBatch sends several messages as one forward package where the
	// platform supports it, or as a digest otherwise
	SendBatch(ctx context.Context, conversationID string, msgs []message.Message) error

	// Stop stops the bot and cleans up resources
	Stop() error
}
