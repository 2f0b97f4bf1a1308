package models

// Message roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// GroundingChunk is a web source cited by a grounded answer.
type GroundingChunk struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// MessageFile is a file attached to a chat message.
type MessageFile struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Base64Data string `json:"base64Data"`
}

// Message is one turn of a conversation.
type Message struct {
	Role    string           `json:"role"`
	Content string           `json:"content"`
	File    *MessageFile     `json:"file,omitempty"`
	Sources []GroundingChunk `json:"sources,omitempty"`
}

// ConversationModel is a persisted chat owned by a signed-in user.
type ConversationModel struct {
	Base
	UserID   string    `json:"user_id"  gorm:"type:char(36);index;not null"`
	Title    string    `json:"title"    gorm:"not null"`
	Messages []Message `json:"messages" gorm:"type:text;serializer:json"`
}

func (ConversationModel) TableName() string { return "conversations" }
