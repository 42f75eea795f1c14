// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/api"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestChatMessage_TokenAccumulation(t *testing.T) {
	msg := NewAssistantPlaceholder(time.Now())
	if !msg.Streaming {
		t.Fatal("placeholder should start streaming")
	}
	if msg.TurnIndex != -1 {
		t.Errorf("TurnIndex = %d, want -1 before finalization", msg.TurnIndex)
	}

	for _, tok := range []string{"The ", "load ", "limit ", "is ", "40t."} {
		msg.AppendToken(tok)
	}
	if got := msg.DisplayText(); got != "The load limit is 40t." {
		t.Errorf("DisplayText = %q, want the concatenation in arrival order", got)
	}
}

func TestChatMessage_ReplaceSupersedesTokens(t *testing.T) {
	msg := NewAssistantPlaceholder(time.Now())
	msg.AppendToken("partial gar")
	msg.ReplaceText("The complete answer.")
	if got := msg.DisplayText(); got != "The complete answer." {
		t.Errorf("DisplayText = %q, want the replacement only", got)
	}
}

func TestChatMessage_FinalizeClosesStream(t *testing.T) {
	msg := NewAssistantPlaceholder(time.Now())
	msg.AppendToken("answer")

	sources := []api.Source{{Filename: "manual.pdf", Pages: []int{3, 4}}}
	msg.FinalizeTurn(sources, "ctx-1", 0)

	if msg.Streaming {
		t.Error("message should not stream after finalization")
	}
	if msg.Text != "answer" {
		t.Errorf("Text = %q, want accumulated tokens", msg.Text)
	}
	if msg.TurnIndex != 0 || msg.ContextID != "ctx-1" {
		t.Errorf("stamps = (%d, %q), want (0, ctx-1)", msg.TurnIndex, msg.ContextID)
	}

	// Tokens after finalization are ignored.
	msg.AppendToken(" stray")
	if msg.DisplayText() != "answer" {
		t.Error("tokens after finalization should be dropped")
	}
}

// =============================================================================
// TRANSCRIPT REBUILD TESTS
// =============================================================================

func TestTranscript_LoadFromTurns(t *testing.T) {
	tr := NewTranscript()
	tr.LoadFromTurns("ctx-1", []api.Turn{
		{Question: "q1", Answer: "a1", Timestamp: 100},
		{Question: "q2", Answer: "a2", Timestamp: 200, Feedback: "like",
			Sources: []api.Source{{Filename: "doc.pdf"}}},
	})

	if tr.Len() != 4 {
		t.Fatalf("Len = %d, want 4 (two turns, two messages each)", tr.Len())
	}
	msgs := tr.Messages()
	if msgs[0].Sender != SenderUser || msgs[0].Text != "q1" {
		t.Errorf("message 0 = %v %q, want user q1", msgs[0].Sender, msgs[0].Text)
	}
	if msgs[1].TurnIndex != 0 || msgs[3].TurnIndex != 1 {
		t.Errorf("turn indexes = %d, %d, want 0, 1", msgs[1].TurnIndex, msgs[3].TurnIndex)
	}
	if msgs[3].Feedback != FeedbackLike {
		t.Errorf("Feedback = %q, want like", msgs[3].Feedback)
	}
	if len(msgs[3].Sources) != 1 {
		t.Errorf("sources on turn 1 = %d, want 1", len(msgs[3].Sources))
	}
}

func TestTranscript_LoadReplacesPrevious(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("old question", time.Now())
	tr.LoadFromTurns("ctx-2", nil)

	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0 after loading empty history", tr.Len())
	}
	if tr.ContextID() != "ctx-2" {
		t.Errorf("ContextID = %q, want ctx-2", tr.ContextID())
	}
}

func TestTranscript_RestorePending(t *testing.T) {
	tr := NewTranscript()
	tr.LoadFromTurns("ctx-1", []api.Turn{{Question: "q1", Answer: "a1"}})
	tr.RestorePending("in-flight question")

	last := tr.Last()
	if last.Sender != SenderUser || last.Text != "in-flight question" {
		t.Errorf("last = %v %q, want the restored user question", last.Sender, last.Text)
	}
}

func TestTranscript_RestorePendingIdempotent(t *testing.T) {
	tr := NewTranscript()
	tr.LoadFromTurns("ctx-1", []api.Turn{{Question: "q1", Answer: "a1"}})

	// Draft slot and reconnect record both hold the question after a
	// crash; restoring from each path must not duplicate it.
	tr.RestorePending("in-flight question")
	tr.RestorePending("in-flight question")

	count := 0
	for _, msg := range tr.Messages() {
		if msg.Sender == SenderUser && msg.Text == "in-flight question" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("restored question appears %d times, want 1", count)
	}

	// A different pending question is still appended.
	tr.RestorePending("another question")
	if last := tr.Last(); last.Text != "another question" {
		t.Errorf("last = %q, want the new question", last.Text)
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestTranscript_TokenFlow(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("question", time.Now())
	tr.AppendAssistantPlaceholder(time.Now())

	tr.AppendToken("one ")
	tr.AppendToken("two")
	if got := tr.Last().DisplayText(); got != "one two" {
		t.Errorf("DisplayText = %q, want tokens in order", got)
	}

	tr.Finalize([]api.Source{{Filename: "doc.pdf", Pages: nil}}, "ctx-1")
	last := tr.Last()
	if last.Streaming {
		t.Error("finalized message should not stream")
	}
	if last.TurnIndex != 0 {
		t.Errorf("TurnIndex = %d, want 0 for the first assistant message", last.TurnIndex)
	}
	// A source with no pages is kept, not dropped.
	if len(last.Sources) != 1 {
		t.Errorf("sources = %d, want 1", len(last.Sources))
	}
}

func TestTranscript_TurnIndexCountsHistory(t *testing.T) {
	tr := NewTranscript()
	tr.LoadFromTurns("ctx-1", []api.Turn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
	})

	tr.AppendUser("q3", time.Now())
	tr.AppendAssistantPlaceholder(time.Now())
	tr.AppendToken("a3")
	tr.Finalize(nil, "ctx-1")

	if got := tr.Last().TurnIndex; got != 2 {
		t.Errorf("TurnIndex = %d, want 2 after two historical turns", got)
	}
}

func TestTranscript_AnswerSupersedesTokens(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("q", time.Now())
	tr.AppendAssistantPlaceholder(time.Now())
	tr.AppendToken("token frag")
	tr.ReplaceAnswer("authoritative answer")
	tr.Finalize(nil, "ctx-1")

	if got := tr.Last().Text; got != "authoritative answer" {
		t.Errorf("Text = %q, want the replacement", got)
	}
}

func TestTranscript_TokenWithoutPlaceholder(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("q", time.Now())

	// No placeholder appended; the token must not land on the user message.
	tr.AppendToken("surprise")

	if tr.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (defensive placeholder created)", tr.Len())
	}
	last := tr.Last()
	if last.Sender != SenderAssistant || last.DisplayText() != "surprise" {
		t.Errorf("last = %v %q, want assistant with the token", last.Sender, last.DisplayText())
	}
}

func TestTranscript_DoubleFinalizeOverwrites(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("q", time.Now())
	tr.AppendAssistantPlaceholder(time.Now())
	tr.AppendToken("a")
	tr.Finalize(nil, "ctx-1")
	before := tr.Len()

	tr.Finalize([]api.Source{{Filename: "late.pdf"}}, "ctx-1")

	if tr.Len() != before {
		t.Errorf("Len changed from %d to %d; re-finalize must not append", before, tr.Len())
	}
	if len(tr.Last().Sources) != 1 {
		t.Error("re-finalize should overwrite the stamps")
	}
	if tr.Last().TurnIndex != 0 {
		t.Errorf("TurnIndex = %d, want 0 (same message, same index)", tr.Last().TurnIndex)
	}
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestTranscript_FailTrailingClosesOpenMessage(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("q", time.Now())
	tr.AppendAssistantPlaceholder(time.Now())
	tr.AppendToken("half an ans")

	tr.FailTrailing("Sorry, something went wrong.")

	last := tr.Last()
	if last.Streaming {
		t.Error("failed message should be closed")
	}
	if !strings.HasPrefix(last.Text, "Sorry") {
		t.Errorf("Text = %q, want the apology replacing partial output", last.Text)
	}
	if last.TurnIndex != -1 {
		t.Errorf("TurnIndex = %d, want -1 (failed turns have no identity)", last.TurnIndex)
	}
}

func TestTranscript_FailTrailingWithoutOpenMessage(t *testing.T) {
	tr := NewTranscript()
	tr.AppendUser("q", time.Now())

	tr.FailTrailing("Sorry, something went wrong.")

	if tr.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (apology appended)", tr.Len())
	}
	if tr.Last().Sender != SenderAssistant {
		t.Error("apology should be an assistant message")
	}
}

// =============================================================================
// FEEDBACK TESTS
// =============================================================================

func TestTranscript_SetFeedback(t *testing.T) {
	tr := NewTranscript()
	tr.LoadFromTurns("ctx-1", []api.Turn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
	})

	if !tr.SetFeedback(1, FeedbackDislike) {
		t.Fatal("SetFeedback(1) should find the second turn")
	}
	if got := tr.Messages()[3].Feedback; got != FeedbackDislike {
		t.Errorf("Feedback = %q, want dislike", got)
	}
	if tr.SetFeedback(9, FeedbackLike) {
		t.Error("SetFeedback on a missing turn should return false")
	}
}

func TestTranscript_Clear(t *testing.T) {
	tr := NewTranscript()
	tr.LoadFromTurns("ctx-1", []api.Turn{{Question: "q", Answer: "a"}})
	tr.Clear()

	if tr.Len() != 0 || tr.ContextID() != "" {
		t.Errorf("after Clear: len=%d ctx=%q, want empty", tr.Len(), tr.ContextID())
	}
}
