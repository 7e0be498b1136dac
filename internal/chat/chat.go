// Package chat defines the chat platform the agent talks to and two
// implementations: an HTTP client for a REST chat server and a file spool
// for local use and tests.
package chat

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by transports.
var (
	// ErrRoomNotFound is returned when a room no longer exists.
	ErrRoomNotFound = errors.New("chat: room not found")

	// ErrItemNotFound is returned when MarkProcessed names an unknown item.
	ErrItemNotFound = errors.New("chat: item not found")

	// ErrUnavailable is returned while the chat server is considered down.
	ErrUnavailable = errors.New("chat: server unavailable")
)

// Room is an active chat room.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message is an incoming chat message.
type Message struct {
	ID     string    `json:"id"`
	RoomID string    `json:"room_id"`
	Sender string    `json:"sender,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Reaction is an incoming reaction to one of the agent's messages.
type Reaction struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	MessageID string    `json:"message_id,omitempty"`
	Type      string    `json:"type"`
	SentAt    time.Time `json:"sent_at"`
}

// ItemKind distinguishes the two kinds of processable items.
type ItemKind string

const (
	ItemMessage  ItemKind = "message"
	ItemReaction ItemKind = "reaction"
)

// Item identifies a message or reaction to mark as processed.
type Item struct {
	Kind ItemKind `json:"kind"`
	ID   string   `json:"id"`
}

// MessageItem returns the Item for m.
func MessageItem(m Message) Item {
	return Item{Kind: ItemMessage, ID: m.ID}
}

// ReactionItem returns the Item for r.
func ReactionItem(r Reaction) Item {
	return Item{Kind: ItemReaction, ID: r.ID}
}

// Transport is the chat platform seen by the agent loop. Fetch methods return
// only items that have not been marked processed, oldest first.
type Transport interface {
	ListActiveRooms(ctx context.Context) ([]Room, error)
	FetchNewMessages(ctx context.Context, roomID string) ([]Message, error)
	FetchNewReactions(ctx context.Context, roomID string) ([]Reaction, error)
	PostMessage(ctx context.Context, roomID, text string) error
	MarkProcessed(ctx context.Context, roomID string, item Item) error

	// Notify returns a channel that receives a value when new items may be
	// available. A nil channel means the transport must be polled.
	Notify() <-chan struct{}
}
