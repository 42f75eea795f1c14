// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/reconnect"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRequestPending indicates a submit was rejected because the
	// context already has a request in flight. Requests are rejected,
	// never queued.
	ErrRequestPending = errors.New("a request is already pending for this context")
)

// apologyText is appended as an assistant message on any failure tied to
// user intent. The busy flag is always cleared alongside it so the user
// can retry manually; nothing retries automatically.
const apologyText = "Sorry, something went wrong while processing your question. Please try again."

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Querier is the subset of the transport client the controller drives.
type Querier interface {
	QueryStream(ctx context.Context, q api.QueryRequest, callback api.StreamCallback) error
	GetTurns(ctx context.Context, contextID string) (*api.TurnResponse, error)
	SendFeedback(ctx context.Context, contextID string, turnIndex int, kind api.FeedbackType) error
}

// ContextManager is the subset of the registry the controller drives.
type ContextManager interface {
	Create(ctx context.Context) (string, error)
	Switch(ctx context.Context, contextID string)
	ForceRefresh(ctx context.Context) []api.Context
}

// StateStore is the durable reconnect/draft store.
type StateStore interface {
	SaveRecord(rec reconnect.Record) error
	LoadRecord() (reconnect.Record, bool, error)
	ClearRecord() error
	SaveDraft(contextID, question string) error
	LoadDraft(contextID string) (string, bool, error)
	ClearDraft(contextID string) error
}

// QueryOptions carries the retrieval scoping the UI has selected.
type QueryOptions struct {
	ActiveSources   []string
	WebSearchActive bool
	ContextLabel    string
}

// OptionsFunc supplies the current QueryOptions at submit time.
type OptionsFunc func() QueryOptions

// =============================================================================
// REQUEST STATE
// =============================================================================

// State is the per-context request lifecycle position.
type State int

const (
	// StateIdle means no request is in flight.
	StateIdle State = iota

	// StatePendingNoToken means a request was issued but nothing has
	// streamed back yet (the loading indicator is showing).
	StatePendingNoToken

	// StatePendingStreaming means tokens are arriving.
	StatePendingStreaming
)

// pendingRequest tracks one in-flight question. Exactly one may exist per
// context; it is destroyed by the terminal event or stream completion.
type pendingRequest struct {
	contextID   string
	question    string
	sessionID   string
	firstToken  bool
	accumulated strings.Builder
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the streaming-dialog session manager. See the package
// documentation for the ownership and locking model.
type Controller struct {
	mu sync.Mutex

	client   Querier
	contexts ContextManager
	store    StateStore
	log      *zap.Logger

	transcript *model.Transcript
	active     string
	pending    map[string]*pendingRequest
	loading    map[string]bool
	// creating guards the create-context sub-protocol, which runs before
	// a context id exists to key the pending map with.
	creating bool

	notify  NotifyFunc
	options OptionsFunc
}

// NewController wires the session manager.
func NewController(client Querier, contexts ContextManager, store StateStore, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		client:     client,
		contexts:   contexts,
		store:      store,
		log:        log,
		transcript: model.NewTranscript(),
		pending:    make(map[string]*pendingRequest),
		loading:    make(map[string]bool),
		options:    func() QueryOptions { return QueryOptions{} },
	}
}

// SetNotifyFunc registers the observer for controller events.
func (c *Controller) SetNotifyFunc(fn NotifyFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
}

// SetOptionsFunc registers the retrieval-options supplier.
func (c *Controller) SetOptionsFunc(fn OptionsFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn != nil {
		c.options = fn
	}
}

// emit delivers an event to the observer, outside the lock.
func (c *Controller) emit(events ...Event) {
	c.mu.Lock()
	notify := c.notify
	c.mu.Unlock()
	if notify == nil {
		return
	}
	for _, ev := range events {
		notify(ev)
	}
}

// =============================================================================
// STATE QUERIES
// =============================================================================

// ActiveContext returns the currently selected context id ("" = welcome).
func (c *Controller) ActiveContext() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// IsBusy reports whether a request is pending for the context. The
// registry consults this to refuse deletes mid-stream.
func (c *Controller) IsBusy(contextID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[contextID] != nil || c.loading[contextID]
}

// IsLoading reports whether the loading indicator should show: a request
// is out but no token has arrived yet.
func (c *Controller) IsLoading(contextID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading[contextID]
}

// ContextState returns the lifecycle position of a context.
func (c *Controller) ContextState(contextID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr := c.pending[contextID]
	switch {
	case pr == nil && !c.loading[contextID]:
		return StateIdle
	case pr != nil && pr.firstToken:
		return StatePendingStreaming
	default:
		return StatePendingNoToken
	}
}

// Messages returns a snapshot of the visible transcript.
func (c *Controller) Messages() []*model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.transcript.Messages()
	out := make([]*model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Draft returns any stored in-flight question for a context.
func (c *Controller) Draft(contextID string) string {
	draft, ok, err := c.store.LoadDraft(contextID)
	if err != nil {
		c.log.Warn("failed to load draft", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return draft
}

// =============================================================================
// CONTEXT SELECTION
// =============================================================================

// SelectContext makes a context active: notifies the backend (best
// effort), rebuilds the transcript from turn history, and restores the
// in-flight question marker if the context has a pending request or a
// persisted draft. History-read failures degrade to an empty transcript.
func (c *Controller) SelectContext(ctx context.Context, contextID string) {
	c.contexts.Switch(ctx, contextID)

	var turns []api.Turn
	if resp, err := c.client.GetTurns(ctx, contextID); err != nil {
		c.log.Warn("failed to load turn history",
			zap.String("context_id", contextID), zap.Error(err))
	} else {
		turns = resp.Turns
	}

	c.mu.Lock()
	c.active = contextID
	c.transcript.LoadFromTurns(contextID, turns)
	if pr := c.pending[contextID]; pr != nil {
		// The question is still being answered; show it, then seed the
		// open assistant message with whatever has streamed so far.
		c.transcript.RestorePending(pr.question)
		if pr.firstToken {
			c.transcript.AppendToken(pr.accumulated.String())
		}
	} else if draft := c.draftLocked(contextID); draft != "" {
		// In-flight marker from a previous process; no live stream to
		// feed it, but the user should still see their question.
		c.transcript.RestorePending(draft)
	}
	c.mu.Unlock()

	c.emit(Event{Kind: EventTranscript, ContextID: contextID})
}

// draftLocked reads the draft without taking the lock again.
func (c *Controller) draftLocked(contextID string) string {
	draft, ok, err := c.store.LoadDraft(contextID)
	if err != nil || !ok {
		return ""
	}
	return draft
}

// CancelView deselects the current context and returns to the welcome
// view. Pending bookkeeping is untouched: an abandoned context's events
// keep draining and its busy flag clears on the terminal event.
func (c *Controller) CancelView() {
	c.mu.Lock()
	c.active = ""
	c.transcript.Clear()
	c.mu.Unlock()
	c.emit(Event{Kind: EventTranscript})
}

// ContextDeleted reconciles local state after a context was deleted.
func (c *Controller) ContextDeleted(contextID string) {
	c.mu.Lock()
	cleared := false
	if c.active == contextID {
		c.active = ""
		c.transcript.Clear()
		cleared = true
	}
	c.mu.Unlock()
	if err := c.store.ClearDraft(contextID); err != nil {
		c.log.Warn("failed to clear draft", zap.Error(err))
	}
	if cleared {
		c.emit(Event{Kind: EventTranscript})
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit issues a question against the active context, or creates a new
// context first when none is selected. Returns ErrRequestPending when the
// target context already has a request in flight; nothing is queued.
// The request itself runs asynchronously; completion is observable via
// events and IsBusy.
func (c *Controller) Submit(question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}

	c.mu.Lock()
	contextID := c.active
	if contextID == "" {
		if c.creating {
			c.mu.Unlock()
			return ErrRequestPending
		}
		c.creating = true
	} else {
		if c.pending[contextID] != nil || c.loading[contextID] {
			c.mu.Unlock()
			return ErrRequestPending
		}
		// Reserve the slot before releasing the lock so a second submit
		// cannot slip in while the goroutine spins up.
		c.loading[contextID] = true
	}
	c.transcript.AppendUser(question, time.Now())
	c.mu.Unlock()

	c.emit(Event{Kind: EventTranscript, ContextID: contextID})
	go c.run(contextID, question, "")
	return nil
}

// run executes one request end to end on its own goroutine: ensure a
// context exists, open the stream, and funnel events into handleEvent.
func (c *Controller) run(contextID, question, sessionID string) {
	ctx := context.Background()

	// Create-context sub-protocol: create -> switch -> proceed as though
	// the id had been given. Failures short-circuit to the error path.
	if contextID == "" {
		newID, err := c.contexts.Create(ctx)
		if err != nil {
			c.mu.Lock()
			c.creating = false
			c.transcript.FailTrailing(apologyText)
			c.mu.Unlock()
			c.emit(
				Event{Kind: EventFailed, Err: err},
				Event{Kind: EventTranscript},
			)
			return
		}
		c.contexts.Switch(ctx, newID)

		c.mu.Lock()
		c.creating = false
		c.active = newID
		c.mu.Unlock()
		contextID = newID
		c.emit(Event{Kind: EventContexts})
	}

	c.mu.Lock()
	c.pending[contextID] = &pendingRequest{
		contextID: contextID,
		question:  question,
		sessionID: sessionID,
	}
	c.loading[contextID] = true
	if c.active == contextID {
		c.transcript.AppendAssistantPlaceholder(time.Now())
	}
	c.mu.Unlock()

	// In-flight marker survives a reload even if no session id ever
	// arrives; cleared with the terminal event.
	if err := c.store.SaveDraft(contextID, question); err != nil {
		c.log.Warn("failed to persist in-flight question", zap.Error(err))
	}
	c.emit(Event{Kind: EventTranscript, ContextID: contextID})

	opts := c.queryOptions()
	req := api.QueryRequest{
		Question:        question,
		ContextID:       contextID,
		ActiveSources:   opts.ActiveSources,
		WebSearchActive: opts.WebSearchActive,
		SessionID:       sessionID,
		ContextLabel:    opts.ContextLabel,
	}

	err := c.client.QueryStream(ctx, req, func(ev api.StreamEvent) {
		c.handleEvent(contextID, ev)
	})
	if err != nil {
		c.fail(contextID, err)
		return
	}
	c.finishDangling(contextID)
}

// queryOptions snapshots the options supplier.
func (c *Controller) queryOptions() QueryOptions {
	c.mu.Lock()
	fn := c.options
	c.mu.Unlock()
	return fn()
}

// =============================================================================
// EVENT HANDLING
// =============================================================================

// handleEvent applies one stream event. Events run in transport order on
// the request goroutine. Transcript mutation is skipped when the user has
// navigated away (stale-context guard), but pending/loading bookkeeping is
// still cleared on terminal events so the context never sticks busy.
func (c *Controller) handleEvent(contextID string, ev api.StreamEvent) {
	c.mu.Lock()
	pr := c.pending[contextID]
	if pr == nil {
		// Straggler after a terminal event; nothing to do.
		c.mu.Unlock()
		return
	}
	viewing := c.active == contextID

	var (
		emits     []Event
		saveRec   *reconnect.Record
		clearable bool
	)

	switch ev.Type {
	case api.EventStatus:
		emits = append(emits, Event{Kind: EventStatus, ContextID: contextID, Status: ev.Message})

	case api.EventSessionID:
		pr.sessionID = ev.SessionID
		saveRec = &reconnect.Record{
			SessionID: ev.SessionID,
			Question:  pr.question,
			ContextID: contextID,
		}

	case api.EventToken:
		pr.firstToken = true
		pr.accumulated.WriteString(ev.Content)
		delete(c.loading, contextID)
		if viewing {
			// Token events deliberately skip the transcript notification;
			// observers gate token rendering themselves.
			c.transcript.AppendToken(ev.Content)
			emits = append(emits, Event{Kind: EventToken, ContextID: contextID, Token: ev.Content})
		}

	case api.EventAnswer:
		// One-shot answer supersedes any tokens seen so far; last one
		// wins if the backend misbehaves and sends several.
		pr.firstToken = true
		pr.accumulated.Reset()
		pr.accumulated.WriteString(ev.Content)
		delete(c.loading, contextID)
		if viewing {
			c.transcript.ReplaceAnswer(ev.Content)
			emits = append(emits, Event{Kind: EventTranscript, ContextID: contextID})
		}

	case api.EventDone:
		if viewing {
			c.transcript.Finalize(ev.Sources, ev.ContextID)
			emits = append(emits, Event{Kind: EventTranscript, ContextID: contextID})
		}
		delete(c.pending, contextID)
		delete(c.loading, contextID)
		clearable = true
		emits = append(emits, Event{Kind: EventFinished, ContextID: contextID})

	case api.EventError:
		if viewing {
			c.transcript.FailTrailing(apologyText)
			emits = append(emits, Event{Kind: EventTranscript, ContextID: contextID})
		}
		delete(c.pending, contextID)
		delete(c.loading, contextID)
		clearable = true
		emits = append(emits, Event{
			Kind:      EventFailed,
			ContextID: contextID,
			Err:       &api.APIError{Code: ev.Code, Message: ev.Message},
		})
		c.log.Warn("backend reported stream error",
			zap.String("context_id", contextID),
			zap.String("code", ev.Code),
			zap.String("message", ev.Message))

	default:
		c.log.Warn("unknown stream event type skipped", zap.String("type", string(ev.Type)))
	}
	c.mu.Unlock()

	if saveRec != nil {
		if err := c.store.SaveRecord(*saveRec); err != nil {
			c.log.Warn("failed to persist reconnect record", zap.Error(err))
		}
	}
	if clearable {
		c.clearDurable(contextID)
		if ev.Type == api.EventDone {
			// Turn counts changed server side; eventual consistency is fine.
			c.contexts.ForceRefresh(context.Background())
			c.emit(Event{Kind: EventContexts})
		}
	}
	c.emit(emits...)
}

// fail applies the transport-failure path: apology appended (when
// viewing), flags cleared, durable state cleared. Never retried.
func (c *Controller) fail(contextID string, err error) {
	c.mu.Lock()
	if c.pending[contextID] == nil {
		// A terminal event already settled this request.
		c.mu.Unlock()
		return
	}
	delete(c.pending, contextID)
	delete(c.loading, contextID)
	viewing := c.active == contextID
	if viewing {
		c.transcript.FailTrailing(apologyText)
	}
	c.mu.Unlock()

	c.log.Warn("streaming request failed",
		zap.String("context_id", contextID), zap.Error(err))
	c.clearDurable(contextID)

	events := []Event{{Kind: EventFailed, ContextID: contextID, Err: err}}
	if viewing {
		events = append(events, Event{Kind: EventTranscript, ContextID: contextID})
	}
	c.emit(events...)
}

// finishDangling settles a stream that closed cleanly without a terminal
// event, so the context does not stick busy.
func (c *Controller) finishDangling(contextID string) {
	c.mu.Lock()
	pr := c.pending[contextID]
	if pr == nil {
		c.mu.Unlock()
		return
	}
	delete(c.pending, contextID)
	delete(c.loading, contextID)
	viewing := c.active == contextID
	if viewing {
		// Keep whatever streamed; without a done event there are no
		// sources to stamp.
		c.transcript.Finalize(nil, contextID)
	}
	c.mu.Unlock()

	c.log.Warn("stream closed without terminal event", zap.String("context_id", contextID))
	c.clearDurable(contextID)

	events := []Event{{Kind: EventFinished, ContextID: contextID}}
	if viewing {
		events = append(events, Event{Kind: EventTranscript, ContextID: contextID})
	}
	c.emit(events...)
}

// clearDurable clears the reconnect record and the in-flight marker.
// Both clears are idempotent.
func (c *Controller) clearDurable(contextID string) {
	if err := c.store.ClearRecord(); err != nil {
		c.log.Warn("failed to clear reconnect record", zap.Error(err))
	}
	if err := c.store.ClearDraft(contextID); err != nil {
		c.log.Warn("failed to clear in-flight question", zap.Error(err))
	}
}

// =============================================================================
// RECONNECTION
// =============================================================================

// Resume checks for a durable reconnect record and, if one exists,
// selects its context, rebuilds the dialog, and re-submits the recorded
// question carrying the stored session id so the backend can resume
// generation rather than restart it. Returns true when a resumption was
// started. The record is cleared by the resumed request's terminal event,
// or by the error path if resumption fails.
func (c *Controller) Resume(ctx context.Context) bool {
	rec, ok, err := c.store.LoadRecord()
	if err != nil {
		c.log.Warn("failed to read reconnect record", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	c.log.Info("resuming interrupted request",
		zap.String("context_id", rec.ContextID),
		zap.String("session_id", rec.SessionID))

	c.SelectContext(ctx, rec.ContextID)

	c.mu.Lock()
	c.transcript.RestorePending(rec.Question)
	c.mu.Unlock()
	c.emit(Event{Kind: EventTranscript, ContextID: rec.ContextID})

	go c.run(rec.ContextID, rec.Question, rec.SessionID)
	return true
}

// =============================================================================
// FEEDBACK
// =============================================================================

// SendFeedback rates a finalized turn and mirrors the rating locally.
func (c *Controller) SendFeedback(ctx context.Context, turnIndex int, kind api.FeedbackType) error {
	c.mu.Lock()
	contextID := c.active
	c.mu.Unlock()
	if contextID == "" {
		return errors.New("no context selected")
	}

	if err := c.client.SendFeedback(ctx, contextID, turnIndex, kind); err != nil {
		return err
	}

	c.mu.Lock()
	c.transcript.SetFeedback(turnIndex, model.Feedback(kind))
	c.mu.Unlock()
	c.emit(Event{Kind: EventTranscript, ContextID: contextID})
	return nil
}
