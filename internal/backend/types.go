// Package backend implements the client for the external answer service.
package backend

import "time"

// Default policy values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Context is the free-form context sent with every question.
type Context struct {
	ThreadTS string `json:"thread_ts"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
}

// Request is one question for the backend.
type Request struct {
	Text string `json:"text"`
	// ConversationID is set only when a prior conversation was located.
	// Leaving it empty asks the backend to start fresh.
	ConversationID string  `json:"conversation_id,omitempty"`
	Context        Context `json:"context"`
}

// Usage is optional metadata the backend reports. It is logged, never interpreted.
type Usage struct {
	TokensUsed int `json:"tokens_used"`
	LatencyMs  int `json:"latency_ms"`
	ItemsUsed  int `json:"items_used"`
}

// Answer is a successful backend reply.
type Answer struct {
	Text           string
	ConversationID string
	Usage          *Usage
	Attempts       int
}

// askResponse is the wire shape of a 2xx reply.
type askResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id,omitempty"`
	Metadata       *Usage `json:"metadata,omitempty"`
}
