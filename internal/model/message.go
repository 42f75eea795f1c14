// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the chat transcript data structures.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/kbchat-tui/internal/api"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAssistant:
		return "Assistant"
	default:
		return string(s)
	}
}

// =============================================================================
// FEEDBACK TYPE
// =============================================================================

// Feedback is the user's rating of an assistant message.
type Feedback string

const (
	FeedbackNone    Feedback = ""
	FeedbackLike    Feedback = "like"
	FeedbackDislike Feedback = "dislike"
)

// =============================================================================
// CHAT MESSAGE
// =============================================================================

// ChatMessage is one entry of the displayed transcript. It is a derived
// projection - rebuilt wholesale from Context+Turn data on context switch,
// never persisted locally.
type ChatMessage struct {
	ID        string
	Sender    Sender
	Timestamp time.Time

	// Text is the finalized content. While an assistant message is still
	// streaming, content accumulates in streamText instead.
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	Text       string
	streamText strings.Builder
	Streaming  bool

	// Finalization stamps; TurnIndex is -1 until the message is finalized.
	TurnIndex int
	ContextID string
	Sources   []api.Source
	Feedback  Feedback
}

// NewUserMessage creates a finalized user message.
func NewUserMessage(text string, ts time.Time) *ChatMessage {
	return &ChatMessage{
		ID:        newMessageID(),
		Sender:    SenderUser,
		Text:      text,
		Timestamp: ts,
		TurnIndex: -1,
	}
}

// NewAssistantPlaceholder creates an open assistant message awaiting tokens.
func NewAssistantPlaceholder(ts time.Time) *ChatMessage {
	return &ChatMessage{
		ID:        newMessageID(),
		Sender:    SenderAssistant,
		Timestamp: ts,
		Streaming: true,
		TurnIndex: -1,
	}
}

// AppendToken appends an incremental fragment to a streaming message.
func (m *ChatMessage) AppendToken(token string) {
	if m.Streaming {
		m.streamText.WriteString(token)
	}
}

// ReplaceText discards accumulated fragments and sets the complete text.
// Used when the backend sends a one-shot answer instead of tokens.
func (m *ChatMessage) ReplaceText(text string) {
	if m.Streaming {
		m.streamText.Reset()
		m.streamText.WriteString(text)
		return
	}
	m.Text = text
}

// FinalizeTurn closes a streaming message and stamps its turn identity.
// Re-finalizing an already-closed trailing message overwrites the stamps.
func (m *ChatMessage) FinalizeTurn(sources []api.Source, contextID string, turnIndex int) {
	if m.Streaming {
		m.Text = m.streamText.String()
		m.streamText.Reset()
		m.Streaming = false
	}
	m.Sources = sources
	m.ContextID = contextID
	m.TurnIndex = turnIndex
}

// DisplayText returns the content to render (streaming or final).
func (m *ChatMessage) DisplayText() string {
	if m.Streaming {
		return m.streamText.String()
	}
	return m.Text
}

// IsEmpty returns true if the message has no content yet.
func (m *ChatMessage) IsEmpty() bool {
	return len(m.Text) == 0 && m.streamText.Len() == 0
}

// newMessageID creates a unique local message ID.
func newMessageID() string {
	return "msg_" + uuid.NewString()
}
