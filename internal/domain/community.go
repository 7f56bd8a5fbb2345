package domain

import "time"

// Community represents a Telegram group or channel bound to an owning account.
// PhotoFileID is the Bot API file id of the chat photo; it is only ever
// resolved server side because download links embed the bot token.
type Community struct {
	ID          string    `bson:"community_id" json:"id"`
	OwnerID     string    `bson:"owner_id" json:"owner_id"`
	Name        string    `bson:"name" json:"name"`
	ChatID      int64     `bson:"chat_id" json:"chat_id"`
	ChatType    string    `bson:"chat_type,omitempty" json:"chat_type,omitempty"`
	PhotoFileID string    `bson:"photo_file_id,omitempty" json:"-"`
	InviteLink  string    `bson:"invite_link,omitempty" json:"invite_link,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}
