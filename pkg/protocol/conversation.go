package protocol

import "time"

// ConversationKey identifies one debounce/clarification scope: a chat thread
// plus the participant writing in it. Used as a map key everywhere.
type ConversationKey struct {
	ChatID string
	UserID string
}

func (k ConversationKey) String() string { return k.ChatID + "/" + k.UserID }

// Roles for conversation history rows.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HistoryMessage is one stored line of conversation history.
type HistoryMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
