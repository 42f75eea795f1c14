// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dialog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/reconnect"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeQuerier scripts a stream: QueryStream delivers whatever the test
// pushes onto events, in order, and returns streamErr once the channel
// closes.
type fakeQuerier struct {
	mu        sync.Mutex
	requests  []api.QueryRequest
	events    chan api.StreamEvent
	streamErr error
	turns     map[string][]api.Turn
	turnsErr  error
	feedback  []int
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		events: make(chan api.StreamEvent, 16),
		turns:  make(map[string][]api.Turn),
	}
}

func (f *fakeQuerier) QueryStream(ctx context.Context, q api.QueryRequest, callback api.StreamCallback) error {
	f.mu.Lock()
	f.requests = append(f.requests, q)
	f.mu.Unlock()
	for ev := range f.events {
		callback(ev)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamErr
}

func (f *fakeQuerier) GetTurns(ctx context.Context, contextID string) (*api.TurnResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.turnsErr != nil {
		return nil, f.turnsErr
	}
	return &api.TurnResponse{Turns: f.turns[contextID]}, nil
}

func (f *fakeQuerier) SendFeedback(ctx context.Context, contextID string, turnIndex int, kind api.FeedbackType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, turnIndex)
	return nil
}

func (f *fakeQuerier) lastRequest() api.QueryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return api.QueryRequest{}
	}
	return f.requests[len(f.requests)-1]
}

type fakeContexts struct {
	mu        sync.Mutex
	nextID    string
	createErr error
	created   int
	switched  []string
	refreshed int
}

func (f *fakeContexts) Create(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return f.nextID, nil
}

func (f *fakeContexts) Switch(ctx context.Context, contextID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, contextID)
}

func (f *fakeContexts) ForceRefresh(ctx context.Context) []api.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	return nil
}

// memStore is an in-memory StateStore.
type memStore struct {
	mu     sync.Mutex
	rec    *reconnect.Record
	drafts map[string]string
}

func newMemStore() *memStore {
	return &memStore{drafts: make(map[string]string)}
}

func (s *memStore) SaveRecord(rec reconnect.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = &rec
	return nil
}

func (s *memStore) LoadRecord() (reconnect.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return reconnect.Record{}, false, nil
	}
	return *s.rec, true, nil
}

func (s *memStore) ClearRecord() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}

func (s *memStore) SaveDraft(contextID, question string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[contextID] = question
	return nil
}

func (s *memStore) LoadDraft(contextID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.drafts[contextID]
	return q, ok, nil
}

func (s *memStore) ClearDraft(contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, contextID)
	return nil
}

func (s *memStore) record() *reconnect.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil
	}
	rec := *s.rec
	return &rec
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	ctrl     *Controller
	querier  *fakeQuerier
	contexts *fakeContexts
	store    *memStore
	events   chan Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		querier:  newFakeQuerier(),
		contexts: &fakeContexts{nextID: "ctx-new"},
		store:    newMemStore(),
		events:   make(chan Event, 64),
	}
	h.ctrl = NewController(h.querier, h.contexts, h.store, nil)
	h.ctrl.SetNotifyFunc(func(ev Event) { h.events <- ev })
	return h
}

// waitFor blocks until an event of the given kind arrives.
func (h *harness) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

// selectAndSubmit puts a context on screen and issues a question, then
// waits until the stream is open (the in-flight marker is saved).
func (h *harness) selectAndSubmit(t *testing.T, contextID, question string) {
	t.Helper()
	h.ctrl.SelectContext(context.Background(), contextID)
	if err := h.ctrl.Submit(question); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitCond(t, func() bool {
		_, ok, _ := h.store.LoadDraft(contextID)
		return ok
	})
}

func waitCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func lastMessage(t *testing.T, c *Controller) *model.ChatMessage {
	t.Helper()
	msgs := c.Messages()
	if len(msgs) == 0 {
		t.Fatal("transcript is empty")
	}
	return msgs[len(msgs)-1]
}

// =============================================================================
// SUBMIT AND STREAMING
// =============================================================================

func TestSubmitRejectsSecondRequest(t *testing.T) {
	h := newHarness(t)
	h.selectAndSubmit(t, "ctx-1", "first question")

	if err := h.ctrl.Submit("second question"); !errors.Is(err, ErrRequestPending) {
		t.Fatalf("Submit() during pending = %v, want ErrRequestPending", err)
	}

	close(h.querier.events)
	h.waitFor(t, EventFinished)

	// Slot frees after the terminal event.
	if err := h.ctrl.Submit("third question"); err != nil {
		t.Fatalf("Submit() after finish = %v, want nil", err)
	}
}

func TestTokensAccumulateInOrder(t *testing.T) {
	h := newHarness(t)
	h.selectAndSubmit(t, "ctx-1", "what is rigging")

	for _, tok := range []string{"Rigging ", "is ", "load path design."} {
		h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: tok}
	}
	h.querier.events <- api.StreamEvent{Type: api.EventDone, ContextID: "ctx-1"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)

	last := lastMessage(t, h.ctrl)
	if got := last.DisplayText(); got != "Rigging is load path design." {
		t.Errorf("answer = %q", got)
	}
	if last.Streaming {
		t.Error("message still streaming after done")
	}
	if last.TurnIndex != 0 {
		t.Errorf("TurnIndex = %d, want 0", last.TurnIndex)
	}
}

func TestAnswerSupersedesTokens(t *testing.T) {
	h := newHarness(t)
	h.selectAndSubmit(t, "ctx-1", "q")

	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "partial junk"}
	h.querier.events <- api.StreamEvent{Type: api.EventAnswer, Content: "The full answer."}
	h.querier.events <- api.StreamEvent{Type: api.EventDone, ContextID: "ctx-1"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)

	if got := lastMessage(t, h.ctrl).DisplayText(); got != "The full answer." {
		t.Errorf("answer = %q, want replacement to win", got)
	}
}

func TestLoadingClearsOnFirstToken(t *testing.T) {
	h := newHarness(t)
	h.selectAndSubmit(t, "ctx-1", "q")

	if !h.ctrl.IsLoading("ctx-1") {
		t.Fatal("IsLoading = false before first token")
	}
	if got := h.ctrl.ContextState("ctx-1"); got != StatePendingNoToken {
		t.Fatalf("ContextState = %d, want StatePendingNoToken", got)
	}

	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "x"}
	h.waitFor(t, EventToken)

	if h.ctrl.IsLoading("ctx-1") {
		t.Error("IsLoading = true after first token")
	}
	if got := h.ctrl.ContextState("ctx-1"); got != StatePendingStreaming {
		t.Errorf("ContextState = %d, want StatePendingStreaming", got)
	}

	close(h.querier.events)
	h.waitFor(t, EventFinished)
	if got := h.ctrl.ContextState("ctx-1"); got != StateIdle {
		t.Errorf("ContextState = %d, want StateIdle after finish", got)
	}
}

func TestDoneStampsSourcesAndTurnIndex(t *testing.T) {
	h := newHarness(t)
	h.querier.turns["ctx-1"] = []api.Turn{
		{Question: "old q", Answer: "old a"},
	}
	h.selectAndSubmit(t, "ctx-1", "new q")

	src := []api.Source{{Filename: "manual.pdf", Pages: []int{3, 4}}}
	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "answer"}
	h.querier.events <- api.StreamEvent{Type: api.EventDone, Sources: src, ContextID: "ctx-1"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)

	last := lastMessage(t, h.ctrl)
	if len(last.Sources) != 1 || last.Sources[0].Filename != "manual.pdf" {
		t.Errorf("Sources = %+v", last.Sources)
	}
	// One history turn already held an assistant message, so this is the
	// second assistant message overall.
	if last.TurnIndex != 1 {
		t.Errorf("TurnIndex = %d, want 1", last.TurnIndex)
	}
}

// =============================================================================
// FAILURE PATHS
// =============================================================================

func TestErrorEventAppendsApologyAndFrees(t *testing.T) {
	h := newHarness(t)
	h.selectAndSubmit(t, "ctx-1", "q")

	h.querier.events <- api.StreamEvent{Type: api.EventError, Code: "boom", Message: "backend exploded"}
	close(h.querier.events)
	h.waitFor(t, EventFailed)

	last := lastMessage(t, h.ctrl)
	if last.DisplayText() != apologyText {
		t.Errorf("failure text = %q", last.DisplayText())
	}
	if h.ctrl.IsBusy("ctx-1") {
		t.Error("context still busy after error event")
	}
	if _, ok, _ := h.store.LoadDraft("ctx-1"); ok {
		t.Error("in-flight marker survived the error")
	}
}

func TestTransportFailureAppendsApologyAndFrees(t *testing.T) {
	h := newHarness(t)
	h.querier.streamErr = errors.New("connection reset")
	h.selectAndSubmit(t, "ctx-1", "q")

	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "part"}
	close(h.querier.events)
	ev := h.waitFor(t, EventFailed)

	if ev.Err == nil {
		t.Error("EventFailed carried no error")
	}
	if lastMessage(t, h.ctrl).DisplayText() != apologyText {
		t.Error("missing failure message after transport error")
	}
	if h.ctrl.IsBusy("ctx-1") {
		t.Error("context still busy after transport failure")
	}
}

func TestCleanCloseWithoutDoneFinishes(t *testing.T) {
	h := newHarness(t)
	h.selectAndSubmit(t, "ctx-1", "q")

	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "everything streamed"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)

	last := lastMessage(t, h.ctrl)
	if last.Streaming {
		t.Error("message left open after stream close")
	}
	if got := last.DisplayText(); got != "everything streamed" {
		t.Errorf("text = %q", got)
	}
}

// =============================================================================
// CONTEXT ISOLATION
// =============================================================================

func TestNavigatingAwayKeepsStreamAlive(t *testing.T) {
	h := newHarness(t)
	h.selectAndSubmit(t, "ctx-1", "q")

	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "early "}
	h.waitFor(t, EventToken)

	// Move to another context; events for ctx-1 must not touch the
	// visible transcript, but bookkeeping must still settle.
	h.ctrl.SelectContext(context.Background(), "ctx-2")

	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "late"}
	h.querier.events <- api.StreamEvent{Type: api.EventDone, ContextID: "ctx-1"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)

	for _, m := range h.ctrl.Messages() {
		if m.Sender == model.SenderAssistant && m.DisplayText() != "" {
			t.Errorf("foreign stream leaked into visible transcript: %q", m.DisplayText())
		}
	}
	if h.ctrl.IsBusy("ctx-1") {
		t.Error("abandoned context stuck busy")
	}
}

func TestReturningToStreamingContextSeedsPartialAnswer(t *testing.T) {
	h := newHarness(t)
	h.selectAndSubmit(t, "ctx-1", "what holds the load")

	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "The sling "}
	h.waitFor(t, EventToken)

	h.ctrl.SelectContext(context.Background(), "ctx-2")
	h.ctrl.SelectContext(context.Background(), "ctx-1")

	msgs := h.ctrl.Messages()
	if len(msgs) < 2 {
		t.Fatalf("transcript has %d messages, want question + open answer", len(msgs))
	}
	if msgs[len(msgs)-2].Text != "what holds the load" {
		t.Errorf("restored question = %q", msgs[len(msgs)-2].Text)
	}
	last := msgs[len(msgs)-1]
	if !last.Streaming || last.DisplayText() != "The sling " {
		t.Errorf("seeded answer = %q streaming=%v", last.DisplayText(), last.Streaming)
	}

	// Continuation still lands in the open message.
	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "takes it."}
	h.querier.events <- api.StreamEvent{Type: api.EventDone, ContextID: "ctx-1"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)

	if got := lastMessage(t, h.ctrl).DisplayText(); got != "The sling takes it." {
		t.Errorf("final answer = %q", got)
	}
}

func TestContextDeletedClearsViewAndDraft(t *testing.T) {
	h := newHarness(t)
	h.ctrl.SelectContext(context.Background(), "ctx-1")
	if err := h.store.SaveDraft("ctx-1", "leftover"); err != nil {
		t.Fatal(err)
	}

	h.ctrl.ContextDeleted("ctx-1")

	if h.ctrl.ActiveContext() != "" {
		t.Error("active context survived deletion")
	}
	if len(h.ctrl.Messages()) != 0 {
		t.Error("transcript survived deletion")
	}
	if _, ok, _ := h.store.LoadDraft("ctx-1"); ok {
		t.Error("draft survived deletion")
	}
}

// =============================================================================
// CONTEXT CREATION
// =============================================================================

func TestSubmitWithoutContextCreatesOne(t *testing.T) {
	h := newHarness(t)
	h.contexts.nextID = "ctx-fresh"

	if err := h.ctrl.Submit("first ever question"); err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	waitCond(t, func() bool { return h.ctrl.ActiveContext() == "ctx-fresh" })

	h.querier.events <- api.StreamEvent{Type: api.EventToken, Content: "hello"}
	h.querier.events <- api.StreamEvent{Type: api.EventDone, ContextID: "ctx-fresh"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)

	if got := h.querier.lastRequest().ContextID; got != "ctx-fresh" {
		t.Errorf("query sent with context %q", got)
	}
	h.contexts.mu.Lock()
	switched := len(h.contexts.switched) > 0 && h.contexts.switched[0] == "ctx-fresh"
	h.contexts.mu.Unlock()
	if !switched {
		t.Error("new context was never activated")
	}
}

func TestCreateFailureShowsApology(t *testing.T) {
	h := newHarness(t)
	h.contexts.createErr = errors.New("server full")

	if err := h.ctrl.Submit("question"); err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	h.waitFor(t, EventFailed)

	if lastMessage(t, h.ctrl).DisplayText() != apologyText {
		t.Error("missing failure message after create failure")
	}
	// Creation slot must free so the user can try again.
	if err := h.ctrl.Submit("retry"); err != nil {
		t.Fatalf("Submit() after create failure = %v", err)
	}
}

// =============================================================================
// RECONNECTION
// =============================================================================

func TestSessionIDPersistsReconnectRecord(t *testing.T) {
	h := newHarness(t)
	h.selectAndSubmit(t, "ctx-1", "long question")

	h.querier.events <- api.StreamEvent{Type: api.EventSessionID, SessionID: "sess-9"}
	waitCond(t, func() bool { return h.store.record() != nil })

	rec := h.store.record()
	if rec.SessionID != "sess-9" || rec.Question != "long question" || rec.ContextID != "ctx-1" {
		t.Errorf("record = %+v", rec)
	}

	h.querier.events <- api.StreamEvent{Type: api.EventDone, ContextID: "ctx-1"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)

	if h.store.record() != nil {
		t.Error("reconnect record survived the terminal event")
	}
}

func TestResumeReplaysInterruptedRequest(t *testing.T) {
	h := newHarness(t)
	if err := h.store.SaveRecord(reconnect.Record{
		SessionID: "sess-42",
		Question:  "interrupted question",
		ContextID: "ctx-1",
	}); err != nil {
		t.Fatal(err)
	}
	h.querier.turns["ctx-1"] = []api.Turn{{Question: "old", Answer: "old"}}

	if !h.ctrl.Resume(context.Background()) {
		t.Fatal("Resume() = false with record present")
	}
	waitCond(t, func() bool { return h.querier.lastRequest().SessionID == "sess-42" })

	req := h.querier.lastRequest()
	if req.Question != "interrupted question" || req.ContextID != "ctx-1" {
		t.Errorf("resumed request = %+v", req)
	}

	h.querier.events <- api.StreamEvent{Type: api.EventAnswer, Content: "finished after reload"}
	h.querier.events <- api.StreamEvent{Type: api.EventDone, ContextID: "ctx-1"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)

	if h.store.record() != nil {
		t.Error("record not cleared after resumed request finished")
	}
	if got := lastMessage(t, h.ctrl).DisplayText(); got != "finished after reload" {
		t.Errorf("resumed answer = %q", got)
	}
}

func TestResumeWithSurvivingDraftShowsQuestionOnce(t *testing.T) {
	h := newHarness(t)
	// A crash mid-stream leaves both the in-flight draft and the
	// reconnect record behind; the rebuilt transcript must show the
	// question a single time.
	if err := h.store.SaveDraft("ctx-1", "interrupted question"); err != nil {
		t.Fatal(err)
	}
	if err := h.store.SaveRecord(reconnect.Record{
		SessionID: "sess-42",
		Question:  "interrupted question",
		ContextID: "ctx-1",
	}); err != nil {
		t.Fatal(err)
	}
	h.querier.turns["ctx-1"] = []api.Turn{{Question: "old", Answer: "old"}}

	if !h.ctrl.Resume(context.Background()) {
		t.Fatal("Resume() = false with record present")
	}
	waitCond(t, func() bool { return h.querier.lastRequest().SessionID == "sess-42" })

	count := 0
	for _, msg := range h.ctrl.Messages() {
		if msg.Sender == model.SenderUser && msg.DisplayText() == "interrupted question" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("restored question appears %d times, want 1", count)
	}

	h.querier.events <- api.StreamEvent{Type: api.EventDone, ContextID: "ctx-1"}
	close(h.querier.events)
	h.waitFor(t, EventFinished)
}

func TestResumeNoRecordIsNoop(t *testing.T) {
	h := newHarness(t)
	if h.ctrl.Resume(context.Background()) {
		t.Error("Resume() = true with no record")
	}
}

// =============================================================================
// FEEDBACK
// =============================================================================

func TestSendFeedbackMirrorsLocally(t *testing.T) {
	h := newHarness(t)
	h.querier.turns["ctx-1"] = []api.Turn{{Question: "q", Answer: "a"}}
	h.ctrl.SelectContext(context.Background(), "ctx-1")

	if err := h.ctrl.SendFeedback(context.Background(), 0, api.FeedbackLike); err != nil {
		t.Fatalf("SendFeedback() = %v", err)
	}

	var found bool
	for _, m := range h.ctrl.Messages() {
		if m.TurnIndex == 0 && m.Feedback == model.FeedbackLike {
			found = true
		}
	}
	if !found {
		t.Error("feedback not mirrored onto transcript")
	}
}
