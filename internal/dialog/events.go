// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dialog

// =============================================================================
// OBSERVER EVENTS
// =============================================================================

// EventKind classifies a controller notification.
type EventKind int

const (
	// EventTranscript signals that the visible transcript changed.
	EventTranscript EventKind = iota

	// EventStatus carries a backend progress message ("searching documents").
	EventStatus

	// EventToken carries one streamed fragment, for sinks that print
	// incrementally (the REPL). TUI observers re-render from the
	// transcript instead.
	EventToken

	// EventFinished signals a request completed with a final answer.
	EventFinished

	// EventFailed signals a request ended in an error.
	EventFailed

	// EventContexts signals that the context list was refreshed.
	EventContexts
)

// Event is one controller notification. Side effects that used to live
// inline with state mutation (scrolling, persistence of UI state) hang off
// these instead, keeping the state machine UI-free.
type Event struct {
	Kind      EventKind
	ContextID string
	Status    string
	Token     string
	Err       error
}

// NotifyFunc receives controller events. Called outside the controller
// lock, on whichever goroutine triggered the transition.
type NotifyFunc func(Event)
