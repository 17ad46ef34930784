package chat

import "time"

// ---------------------------------------------
// Database models
// ---------------------------------------------

type Conversation struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Name          *string   `gorm:"size:120" json:"name"` // nil for direct chats
	IsGroup       bool      `gorm:"not null;default:false;index" json:"isGroup"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (Conversation) TableName() string { return "conversations" }

type Participant struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID         string    `gorm:"size:36;index;not null" json:"userId"`
	ConversationID string    `gorm:"size:36;index;not null" json:"conversationId"`
	Role           string    `gorm:"size:16;not null;default:member" json:"role"`
	JoinedAt       time.Time `gorm:"autoCreateTime" json:"joinedAt"`
}

func (Participant) TableName() string { return "participants" }

const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
)

// Message is immutable once stored.
type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	Content        *string   `gorm:"type:text" json:"content"`
	SenderID       string    `gorm:"size:36;index;not null" json:"senderId"`
	ConversationID string    `gorm:"size:36;index;not null" json:"conversationId"`
	Type           string    `gorm:"size:16;not null;default:text" json:"type"`
	FileURL        *string   `gorm:"size:1024" json:"fileUrl"`
	CreatedAt      time.Time `gorm:"index" json:"createdAt"`
}

func (Message) TableName() string { return "messages" }

// Models lists everything AutoMigrate needs for this feature.
func Models() []any {
	return []any{&Conversation{}, &Participant{}, &Message{}}
}

// ---------------------------------------------
// Wire models
// ---------------------------------------------

// IncomingMessage is the sendMessage payload. ConversationID is optional;
// when empty the conversation is resolved from the sender/receiver pair.
type IncomingMessage struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	Type           string `json:"type"`
	FileURL        string `json:"fileUrl"`
	ConversationID string `json:"conversationId,omitempty"`
}

// DeliveredMessage is what every client receives as receiveMessage.
type DeliveredMessage struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Type           string    `json:"type"`
	FileURL        string    `json:"fileUrl,omitempty"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
}
