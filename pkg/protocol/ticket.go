package protocol

// FileRef points at a downloadable file attached to a ticket comment.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Comment is one human-authored ticket comment, already sanitized by the
// ticketing client (system and bot-authored comments are filtered out there).
type Comment struct {
	ID    string    `json:"id"`
	Text  string    `json:"text"`
	Files []FileRef `json:"files,omitempty"`
}

// TicketUpdate is one externally active ticket with its full comment list,
// as returned by the ticketing system's update feed.
type TicketUpdate struct {
	TicketID string    `json:"ticket_id"`
	ChatID   string    `json:"chat_id"`
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	Comments []Comment `json:"comments"`
}

// TicketBrief is the short ticket summary used when relaying ticket comments
// back into a conversation.
type TicketBrief struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Deadline    string `json:"deadline,omitempty"`
	Description string `json:"description,omitempty"`
}
