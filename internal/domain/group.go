package domain

import "time"

// UnknownChatName is stored when a chat title cannot be resolved.
const UnknownChatName = "Unknown"

// AuthorizedGroup is a chat the administrator approved for link rewriting.
type AuthorizedGroup struct {
	ChatID    int64     `bson:"chat_id" json:"chat_id"`
	Name      string    `bson:"name" json:"name"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// UnauthorizedAttempt records the bot being added to a chat by someone other
// than the administrator. Records are append-only.
type UnauthorizedAttempt struct {
	ChatID      int64     `bson:"chat_id" json:"chat_id"`
	ChatName    string    `bson:"chat_name" json:"chat_name"`
	AddedByID   int64     `bson:"added_by_id" json:"added_by_id"`
	AddedByName string    `bson:"added_by_name" json:"added_by_name"`
	Timestamp   time.Time `bson:"timestamp" json:"timestamp"`
}

// DisplayName returns the stored name or UnknownChatName when empty.
func (g AuthorizedGroup) DisplayName() string {
	if g.Name == "" {
		return UnknownChatName
	}
	return g.Name
}
