// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// The model has two screens: a dialog picker listing the contexts on the
// server, and the dialog screen where questions are asked and answers
// stream in. All session state lives in the dialog controller; the model
// only renders snapshots of it and translates key presses into controller
// calls.
package chat

import (
	"context"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/config"
	"github.com/jeranaias/kbchat-tui/internal/dialog"
	"github.com/jeranaias/kbchat-tui/internal/registry"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
)

// =============================================================================
// SCREENS
// =============================================================================

type screen int

const (
	screenPicker screen = iota
	screenDialog
)

// =============================================================================
// MESSAGES
// =============================================================================

// dialogEventMsg wraps a controller event for the Bubble Tea loop.
type dialogEventMsg dialog.Event

// contextsMsg delivers a refreshed context listing.
type contextsMsg []api.Context

// selectedMsg reports that a context finished loading into the transcript.
type selectedMsg struct{ contextID string }

// deletedMsg reports the outcome of a delete request.
type deletedMsg struct {
	contextID string
	err       error
}

// feedbackMsg reports the outcome of a feedback request.
type feedbackMsg struct{ err error }

// ConfigReloadedMsg swaps in a freshly loaded configuration. Sent from
// outside the program by the config file watcher.
type ConfigReloadedMsg struct{ Cfg *config.Config }

// =============================================================================
// OPTION STATE
// =============================================================================

// optionState holds the retrieval options shared between the UI goroutine
// and the controller's request goroutines.
type optionState struct {
	mu        sync.Mutex
	sources   []string
	webSearch bool
}

func (o *optionState) snapshot() dialog.QueryOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	return dialog.QueryOptions{
		ActiveSources:   o.sources,
		WebSearchActive: o.webSearch,
	}
}

func (o *optionState) toggleWebSearch() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.webSearch = !o.webSearch
	return o.webSearch
}

func (o *optionState) webSearchOn() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.webSearch
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the kbchat TUI.
type Model struct {
	ctrl *dialog.Controller
	reg  *registry.Registry
	cfg  *config.Config
	log  *zap.Logger

	keys     KeyMap
	help     help.Model
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	sb       *StreamingBuffer
	renderer *glamour.TermRenderer

	events chan dialog.Event
	opts   *optionState

	screen   screen
	contexts []api.Context
	cursor   int

	// drafts preserves unsent input per context across navigation
	drafts map[string]string

	status   string
	errText  string
	width    int
	height   int
	ready    bool
	showHelp bool
}

// New builds the TUI model and wires it to the dialog controller. The
// controller's observer pushes events into a channel the Bubble Tea loop
// drains one at a time.
func New(ctrl *dialog.Controller, reg *registry.Registry, cfg *config.Config, log *zap.Logger) *Model {
	if log == nil {
		log = zap.NewNop()
	}

	ta := textarea.New()
	ta.Placeholder = "Ask the knowledge base..."
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.CharLimit = 4000
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.BusyText

	m := &Model{
		ctrl:     ctrl,
		reg:      reg,
		cfg:      cfg,
		log:      log,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		textarea: ta,
		spinner:  sp,
		sb:       NewStreamingBuffer(),
		events:   make(chan dialog.Event, 1024),
		opts: &optionState{
			sources:   cfg.Query.ActiveSources,
			webSearch: cfg.Query.WebSearchActive,
		},
		drafts: make(map[string]string),
		screen: screenPicker,
	}

	ctrl.SetNotifyFunc(func(ev dialog.Event) {
		select {
		case m.events <- ev:
		default:
			// The loop is far behind; snapshots self-heal on the next event.
			log.Warn("dropped UI event", zap.Int("kind", int(ev.Kind)))
		}
	})
	ctrl.SetOptionsFunc(m.opts.snapshot)

	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textarea.Blink,
		m.waitForEvent(),
		m.refreshContexts(false),
	)
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForEvent blocks on the controller event channel.
func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return dialogEventMsg(<-m.events)
	}
}

func (m *Model) refreshContexts(force bool) tea.Cmd {
	return func() tea.Msg {
		if force {
			return contextsMsg(m.reg.ForceRefresh(context.Background()))
		}
		return contextsMsg(m.reg.Refresh(context.Background()))
	}
}

func (m *Model) selectContext(contextID string) tea.Cmd {
	return func() tea.Msg {
		m.ctrl.SelectContext(context.Background(), contextID)
		return selectedMsg{contextID: contextID}
	}
}

func (m *Model) deleteContext(contextID string) tea.Cmd {
	return func() tea.Msg {
		err := m.reg.Delete(context.Background(), contextID)
		return deletedMsg{contextID: contextID, err: err}
	}
}

func (m *Model) sendFeedback(turnIndex int, kind api.FeedbackType) tea.Cmd {
	return func() tea.Msg {
		return feedbackMsg{err: m.ctrl.SendFeedback(context.Background(), turnIndex, kind)}
	}
}

// lastFinalizedTurn returns the highest stamped turn index in the visible
// transcript, or -1 when nothing is ratable yet.
func (m *Model) lastFinalizedTurn() int {
	last := -1
	for _, msg := range m.ctrl.Messages() {
		if msg.TurnIndex > last {
			last = msg.TurnIndex
		}
	}
	return last
}
