package models

// Chat represents a conversation container on the backend side. It holds the
// stored message history and the optional user profile attached when the
// conversation started.
type Chat struct {
	ID       string
	Messages []ChatMessage
	Profile  map[string]any
}

// ChatMessage is a single stored entry of a chat's history. Category is only
// filled for user messages, with the finance category the query matched.
type ChatMessage struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}
