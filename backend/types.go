// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import "time"

// =============================================================================
// CORE TYPES
// =============================================================================

// Role values used in chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PlaceholderTitle is the title the service assigns to a session before
// title generation has run.
const PlaceholderTitle = "New Conversation"

// Message represents a single chat message. Messages are immutable once
// appended to a transcript; the growing text of an in-flight assistant
// reply lives outside the transcript until it is finalized.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is a persisted conversation thread owned by the service.
type Session struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// SessionDetail is a session together with its full transcript, as
// returned by GetSession.
type SessionDetail struct {
	Session
	Messages []Message `json:"messages"`
}

// Citation is a source reference attributed to an assistant message.
type Citation struct {
	Title     string `json:"title"`
	Source    string `json:"source"`
	URL       string `json:"url,omitempty"`
	Relevance int    `json:"relevance,omitempty"` // 0..100
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// StreamRequest is the body posted to the chat stream endpoint.
type StreamRequest struct {
	Message     string             `json:"message"`
	SessionID   string             `json:"session_id"`
	UserID      string             `json:"clerk_user_id,omitempty"`
	UserName    string             `json:"user_name,omitempty"`
	SelveScores map[string]float64 `json:"selve_scores,omitempty"`
	Stream      bool               `json:"stream"`
}

// createSessionRequest is the body for POST /sessions.
type createSessionRequest struct {
	UserID string `json:"user_id"`
}

// generateTitleRequest is the body for POST /sessions/:id/generate-title.
type generateTitleRequest struct {
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
}

// generateTitleResponse is the response from the title endpoint.
type generateTitleResponse struct {
	Title string `json:"title"`
}

// =============================================================================
// HELPER CONSTRUCTORS
// =============================================================================

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
