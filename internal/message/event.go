package message

import "time"

// Kind distinguishes group conversations from one-to-one chats
type Kind string

const (
	KindGroup   Kind = "group"
	KindPrivate Kind = "private"
)

// Event is one decoded inbound chat message
type Event struct {
	ID             string    `json:"id"`
	BotID          string    `json:"bot_id"`
	ConversationID string    `json:"conversation_id"`
	Kind           Kind      `json:"kind"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	Message        Message   `json:"message"`
	Time           time.Time `json:"time"`
}

// IsPrivate reports whether the event came from a one-to-one chat
func (e Event) IsPrivate() bool {
	return e.Kind == KindPrivate
}

// Retarget returns a copy of the event addressed to another conversation of
// the same bot. The message content is shared, not copied.
func (e Event) Retarget(conversationID string) Event {
	out := e
	out.ConversationID = conversationID
	out.Kind = KindGroup
	return out
}
