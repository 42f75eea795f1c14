// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/dialog"
	"github.com/jeranaias/kbchat-tui/internal/registry"
)

// chromeHeight is the vertical space taken by the header, status bar, and
// input area around the transcript viewport.
const chromeHeight = 8

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case StreamTickMsg:
		if m.streaming() {
			if _, ok := m.sb.Flush(); ok {
				m.rebuildViewport()
			}
			cmds = append(cmds, streamTickCmd())
		}

	case dialogEventMsg:
		cmds = append(cmds, m.handleDialogEvent(dialog.Event(msg))...)

	case contextsMsg:
		m.contexts = msg
		m.clampCursor()

	case ConfigReloadedMsg:
		m.cfg = msg.Cfg
		m.status = "config reloaded"
		m.rebuildViewport()

	case selectedMsg:
		m.screen = screenDialog
		m.status = ""
		m.errText = ""
		m.textarea.SetValue(m.drafts[msg.contextID])
		m.textarea.Focus()
		m.rebuildViewport()

	case deletedMsg:
		switch {
		case errors.Is(msg.err, registry.ErrContextBusy):
			m.errText = "that dialog is still answering; wait for it to finish"
		case msg.err != nil:
			m.errText = "delete failed: " + msg.err.Error()
		default:
			m.ctrl.ContextDeleted(msg.contextID)
			delete(m.drafts, msg.contextID)
			m.contexts = m.reg.Contexts()
			m.clampCursor()
		}

	case feedbackMsg:
		if msg.err != nil {
			m.errText = "feedback failed: " + msg.err.Error()
		} else {
			m.status = "feedback recorded"
		}

	case tea.KeyMsg:
		cmd, handled := m.handleKey(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		if handled {
			return m, tea.Batch(cmds...)
		}
		// Unhandled keys go to the focused widgets on the dialog screen.
		if m.screen == screenDialog {
			var taCmd, vpCmd tea.Cmd
			m.textarea, taCmd = m.textarea.Update(msg)
			m.viewport, vpCmd = m.viewport.Update(msg)
			cmds = append(cmds, taCmd, vpCmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// streaming reports whether the visible context is mid-answer.
func (m *Model) streaming() bool {
	active := m.ctrl.ActiveContext()
	return active != "" && m.ctrl.ContextState(active) == dialog.StatePendingStreaming
}

func (m *Model) resize(w, h int) {
	m.width = w
	m.height = h
	m.help.Width = w

	vpHeight := h - chromeHeight
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.viewport = viewport.New(w, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = w
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(w - 4)

	wrap := w - 4
	if wrap < 20 {
		wrap = 20
	}
	if r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	); err == nil {
		m.renderer = r
	}

	m.rebuildViewport()
}

// =============================================================================
// DIALOG EVENTS
// =============================================================================

func (m *Model) handleDialogEvent(ev dialog.Event) []tea.Cmd {
	// Always rearm the listener first.
	cmds := []tea.Cmd{m.waitForEvent()}

	switch ev.Kind {
	case dialog.EventStatus:
		m.status = ev.Status

	case dialog.EventToken:
		// The buffer gates repaints to the configured frame rate; content
		// itself always comes from the controller's transcript snapshot.
		first := m.sb.Pending() == 0
		m.sb.Write(ev.Token)
		if first {
			cmds = append(cmds, streamTickCmd())
		}
		if _, ok := m.sb.Flush(); ok {
			m.rebuildViewport()
		}

	case dialog.EventTranscript:
		m.sb.Reset()
		m.rebuildViewport()

	case dialog.EventFinished:
		m.sb.Reset()
		m.status = ""
		m.rebuildViewport()

	case dialog.EventFailed:
		m.sb.Reset()
		m.status = ""
		if ev.Err != nil {
			m.errText = ev.Err.Error()
		}
		m.rebuildViewport()

	case dialog.EventContexts:
		m.contexts = m.reg.Contexts()
		m.clampCursor()
	}

	return cmds
}

// =============================================================================
// KEY HANDLING
// =============================================================================

// handleKey returns (cmd, handled). Unhandled keys fall through to the
// textarea and viewport.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if key.Matches(msg, m.keys.Quit) {
		return tea.Quit, true
	}
	if key.Matches(msg, m.keys.Help) {
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return nil, true
	}

	if m.screen == screenPicker {
		return m.handlePickerKey(msg)
	}
	return m.handleDialogKey(msg)
}

func (m *Model) handlePickerKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return nil, true

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.contexts)-1 {
			m.cursor++
		}
		return nil, true

	case key.Matches(msg, m.keys.Submit):
		if len(m.contexts) == 0 {
			return nil, true
		}
		m.errText = ""
		m.status = "loading dialog..."
		return m.selectContext(m.contexts[m.cursor].ID), true

	case key.Matches(msg, m.keys.NewContext):
		// A fresh dialog has no context until the first question creates one.
		m.ctrl.CancelView()
		m.screen = screenDialog
		m.status = ""
		m.errText = ""
		m.textarea.Reset()
		m.textarea.Focus()
		m.rebuildViewport()
		return textarea.Blink, true

	case key.Matches(msg, m.keys.Delete):
		if len(m.contexts) == 0 {
			return nil, true
		}
		return m.deleteContext(m.contexts[m.cursor].ID), true

	case key.Matches(msg, m.keys.Refresh):
		return m.refreshContexts(true), true
	}

	return nil, true // picker has no text input; swallow everything else
}

func (m *Model) handleDialogKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Back):
		if active := m.ctrl.ActiveContext(); active != "" {
			if draft := strings.TrimSpace(m.textarea.Value()); draft != "" {
				m.drafts[active] = m.textarea.Value()
			} else {
				delete(m.drafts, active)
			}
		}
		m.ctrl.CancelView()
		m.screen = screenPicker
		m.status = ""
		m.errText = ""
		return m.refreshContexts(false), true

	case key.Matches(msg, m.keys.Submit):
		question := m.textarea.Value()
		if strings.TrimSpace(question) == "" {
			return nil, true
		}
		m.errText = ""
		if err := m.ctrl.Submit(question); err != nil {
			if errors.Is(err, dialog.ErrRequestPending) {
				m.errText = "an answer is already in progress for this dialog"
			} else {
				m.errText = err.Error()
			}
			return nil, true
		}
		if active := m.ctrl.ActiveContext(); active != "" {
			delete(m.drafts, active)
		}
		m.textarea.Reset()
		return nil, true

	case key.Matches(msg, m.keys.Like):
		if turn := m.lastFinalizedTurn(); turn >= 0 {
			return m.sendFeedback(turn, api.FeedbackLike), true
		}
		return nil, true

	case key.Matches(msg, m.keys.Dislike):
		if turn := m.lastFinalizedTurn(); turn >= 0 {
			return m.sendFeedback(turn, api.FeedbackDislike), true
		}
		return nil, true

	case key.Matches(msg, m.keys.WebSearch):
		if m.opts.toggleWebSearch() {
			m.status = "web search on"
		} else {
			m.status = "web search off"
		}
		return nil, true

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return nil, true

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return nil, true
	}

	return nil, false
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.contexts) {
		m.cursor = len(m.contexts) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}
