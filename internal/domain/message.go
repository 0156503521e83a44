package domain

import (
	"sort"
	"time"
)

// Message is append-only and immutable once sent, except for Read which only
// the receiver may flip.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// Conversation is derived state, recomputable from the message set; it is
// never the sole source of truth, so transient desynchronization self-heals
// on the next refresh.
type Conversation struct {
	OtherUserID string    `json:"otherUserId"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SortMessages orders messages by timestamp ascending, stable, ties broken by
// message id.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
