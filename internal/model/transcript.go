// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/jeranaias/kbchat-tui/internal/api"
)

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the ordered message sequence for the currently selected
// context. Mutation is append-only except for the single trailing assistant
// message, which streams in place until finalized.
//
// Transcript is not internally synchronized; the dialog controller owns it
// and serializes all access.
type Transcript struct {
	contextID string
	messages  []*ChatMessage
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// ContextID returns the context this transcript was loaded for.
func (t *Transcript) ContextID() string {
	return t.contextID
}

// Messages returns the message sequence. Callers must not mutate entries.
func (t *Transcript) Messages() []*ChatMessage {
	return t.messages
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Last returns the trailing message, or nil if empty.
func (t *Transcript) Last() *ChatMessage {
	if len(t.messages) == 0 {
		return nil
	}
	return t.messages[len(t.messages)-1]
}

// =============================================================================
// REBUILD OPERATIONS
// =============================================================================

// LoadFromTurns replaces the full message sequence from completed turn
// history: one user message then one assistant message per turn, in turn
// order, with sources/feedback/turnIndex stamped on the assistant side.
func (t *Transcript) LoadFromTurns(contextID string, turns []api.Turn) {
	t.contextID = contextID
	t.messages = make([]*ChatMessage, 0, len(turns)*2)

	for i, turn := range turns {
		ts := time.Unix(turn.Timestamp, 0)
		t.messages = append(t.messages, NewUserMessage(turn.Question, ts))

		t.messages = append(t.messages, &ChatMessage{
			ID:        newMessageID(),
			Sender:    SenderAssistant,
			Text:      turn.Answer,
			Timestamp: ts,
			TurnIndex: i,
			ContextID: contextID,
			Sources:   turn.Sources,
			Feedback:  Feedback(turn.Feedback),
		})
	}
}

// RestorePending appends a synthetic user message for a question that is
// in flight but has no completed turn yet, so a rebuilt transcript still
// shows what the user asked before a reload. Idempotent: both the draft
// slot and the reconnect record survive a crash mid-stream, and each
// restore path calls in with the same question; the second call must not
// show it twice.
func (t *Transcript) RestorePending(question string) {
	if n := len(t.messages); n > 0 {
		last := t.messages[n-1]
		if last.Sender == SenderUser && last.Text == question {
			return
		}
	}
	t.messages = append(t.messages, NewUserMessage(question, time.Now()))
}

// Clear drops all messages and the context association.
func (t *Transcript) Clear() {
	t.contextID = ""
	t.messages = nil
}

// =============================================================================
// STREAMING OPERATIONS
// =============================================================================

// AppendUser appends a user message.
func (t *Transcript) AppendUser(text string, ts time.Time) *ChatMessage {
	msg := NewUserMessage(text, ts)
	t.messages = append(t.messages, msg)
	return msg
}

// AppendAssistantPlaceholder appends an empty open assistant message.
// At most one open assistant message exists per transcript: the one for
// the most recent user message without a terminal event.
func (t *Transcript) AppendAssistantPlaceholder(ts time.Time) *ChatMessage {
	msg := NewAssistantPlaceholder(ts)
	t.messages = append(t.messages, msg)
	return msg
}

// AppendToken appends a fragment to the trailing assistant message. If the
// trailing message is not an assistant message, a fresh one is created
// first - defensive against a token arriving with no preceding placeholder.
func (t *Transcript) AppendToken(text string) {
	last := t.Last()
	if last == nil || last.Sender != SenderAssistant {
		last = t.AppendAssistantPlaceholder(time.Now())
	}
	last.AppendToken(text)
}

// ReplaceAnswer sets the trailing assistant message's text verbatim,
// superseding any tokens accumulated so far.
func (t *Transcript) ReplaceAnswer(text string) {
	last := t.Last()
	if last == nil || last.Sender != SenderAssistant {
		last = t.AppendAssistantPlaceholder(time.Now())
	}
	last.ReplaceText(text)
}

// Finalize stamps sources, contextID and turnIndex on the trailing
// assistant message. turnIndex is the 0-based count of assistant messages
// including the one being finalized. Finalizing again while the same
// message is still trailing overwrites the stamps, never appends.
func (t *Transcript) Finalize(sources []api.Source, contextID string) {
	last := t.Last()
	if last == nil || last.Sender != SenderAssistant {
		return
	}
	last.FinalizeTurn(sources, contextID, t.assistantCount()-1)
}

// FailTrailing closes the open assistant message with an error text, or
// appends a closed assistant message when none is open. Failed messages
// carry no turn identity; the turn never completed.
func (t *Transcript) FailTrailing(text string) {
	last := t.Last()
	if last != nil && last.Sender == SenderAssistant && last.Streaming {
		last.ReplaceText(text)
		last.FinalizeTurn(nil, "", -1)
		return
	}
	t.messages = append(t.messages, &ChatMessage{
		ID:        newMessageID(),
		Sender:    SenderAssistant,
		Text:      text,
		Timestamp: time.Now(),
		TurnIndex: -1,
	})
}

// SetFeedback records feedback on the assistant message with the given
// turn index. Returns false if no such message exists.
func (t *Transcript) SetFeedback(turnIndex int, fb Feedback) bool {
	for _, msg := range t.messages {
		if msg.Sender == SenderAssistant && msg.TurnIndex == turnIndex {
			msg.Feedback = fb
			return true
		}
	}
	return false
}

// assistantCount returns the number of assistant messages.
func (t *Transcript) assistantCount() int {
	n := 0
	for _, msg := range t.messages {
		if msg.Sender == SenderAssistant {
			n++
		}
	}
	return n
}
