package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks locally-generated message ids. Server ids never use it,
// so a message's pending state is derivable from its id alone.
const TempIDPrefix = "local_"

// NewTempID generates a temporary id for an optimistic message.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// MediaKind identifies the type of a media attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Media is an attachment reference carried by a message.
type Media struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

// MarkerKind identifies a call marker posted into a conversation.
type MarkerKind string

const (
	MarkerCallStarted  MarkerKind = "call-started"
	MarkerCallMissed   MarkerKind = "call-missed"
	MarkerCallDeclined MarkerKind = "call-declined"
)

// CallMarker records a call lifecycle event inside a conversation.
type CallMarker struct {
	Kind     MarkerKind `json:"kind"`
	CallType string     `json:"callType"` // "audio" or "video"
}

// Text returns the textual form of the marker, used as the message body so
// the server echo reconciles against the optimistic copy.
func (c CallMarker) Text() string {
	return string(c.Kind) + ":" + c.CallType
}

// Message is one entry in a conversation. Identity is ID; a message whose id
// carries TempIDPrefix is an optimistic copy awaiting its server-confirmed
// replacement.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Sender         string      `json:"sender"`
	Text           string      `json:"text,omitempty"`
	Media          *Media      `json:"media,omitempty"`
	CallMarker     *CallMarker `json:"callMarker,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	Seen           bool        `json:"seen"`
}

// Pending reports whether the message still carries a temporary id.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Conversation is an ordered message list with its participants and
// unread accounting. Identity is ID, unique across the store.
type Conversation struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	Messages      []Message `json:"messages"`
	UnreadCount   int       `json:"unreadCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// Draft is the sendable part of a message before ids and timestamps exist.
type Draft struct {
	Text       string      `json:"text,omitempty"`
	Media      *Media      `json:"media,omitempty"`
	CallMarker *CallMarker `json:"callMarker,omitempty"`
}
