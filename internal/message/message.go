// Package message defines the decoded chat model shared by the bot adapters
// and the dispatch engine.
//
// A Message is an ordered list of segments. Text segments carry free text;
// every other segment (mentions, images, stickers, files) is opaque to the
// router and is passed to handlers untouched.
package message

import (
	"strings"
)

// Segment types understood by the router. Adapters may emit other types;
// anything that is not TypeText is treated as an opaque token.
const (
	TypeText    = "text"
	TypeMention = "mention"
	TypeImage   = "image"
	TypeMedia   = "media"
)

// Segment is one element of a chat message
type Segment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data,omitempty"`
}

// Text creates a text segment
func Text(s string) Segment {
	return Segment{Type: TypeText, Data: map[string]string{"text": s}}
}

// Mention creates a mention segment for the given user
func Mention(userID string) Segment {
	return Segment{Type: TypeMention, Data: map[string]string{"user_id": userID}}
}

// Image creates an image segment pointing at url (or a platform file id)
func Image(url string) Segment {
	return Segment{Type: TypeImage, Data: map[string]string{"url": url}}
}

// Media creates a generic media segment of the given kind
func Media(kind, url string) Segment {
	return Segment{Type: TypeMedia, Data: map[string]string{"kind": kind, "url": url}}
}

// IsText reports whether the segment is plain text
func (s Segment) IsText() bool {
	return s.Type == TypeText
}

// Text returns the text payload, or "" for non-text segments
func (s Segment) Text() string {
	if !s.IsText() {
		return ""
	}
	return s.Data["text"]
}

// String renders the segment for plain-text transports
func (s Segment) String() string {
	switch s.Type {
	case TypeText:
		return s.Data["text"]
	case TypeMention:
		return "@" + s.Data["user_id"]
	case TypeImage:
		return "[image]"
	case TypeMedia:
		if kind := s.Data["kind"]; kind != "" {
			return "[" + kind + "]"
		}
		return "[media]"
	default:
		return "[" + s.Type + "]"
	}
}

// Message is an ordered list of segments
type Message []Segment

// FromText builds a single-segment text message
func FromText(s string) Message {
	return Message{Text(s)}
}

// String renders the whole message for plain-text transports
func (m Message) String() string {
	var sb strings.Builder
	for _, seg := range m {
		sb.WriteString(seg.String())
	}
	return sb.String()
}

// Head returns the concatenation of the leading run of text segments and
// the number of segments that run spans.
func (m Message) Head() (string, int) {
	var sb strings.Builder
	n := 0
	for _, seg := range m {
		if !seg.IsText() {
			break
		}
		sb.WriteString(seg.Text())
		n++
	}
	return sb.String(), n
}

// Tail returns a copy of the segments from index n on
func (m Message) Tail(n int) Message {
	if n >= len(m) {
		return Message{}
	}
	out := make(Message, len(m)-n)
	copy(out, m[n:])
	return out
}

// Clone returns a deep copy of the message
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for i, seg := range m {
		data := make(map[string]string, len(seg.Data))
		for k, v := range seg.Data {
			data[k] = v
		}
		out[i] = Segment{Type: seg.Type, Data: data}
	}
	return out
}

// Tokenize splits text segments by sep, dropping empty tokens. Non-text
// segments become single opaque tokens and are never split.
func Tokenize(m Message, sep string) []Segment {
	var args []Segment
	for _, seg := range m {
		if !seg.IsText() {
			args = append(args, seg)
			continue
		}
		var parts []string
		if sep == "" {
			parts = strings.Fields(seg.Text())
		} else {
			parts = strings.Split(seg.Text(), sep)
		}
		for _, p := range parts {
			if p != "" {
				args = append(args, Text(p))
			}
		}
	}
	return args
}

// Strings renders tokens as strings: text verbatim, other segments via String
func Strings(tokens []Segment) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.IsText() {
			out = append(out, t.Text())
		} else {
			out = append(out, t.String())
		}
	}
	return out
}
