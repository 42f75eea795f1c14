// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/dialog"
	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
	"github.com/jeranaias/kbchat-tui/internal/util"
)

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "starting kbchat..."
	}
	if m.screen == screenPicker {
		return m.viewPicker()
	}
	return m.viewDialog()
}

// =============================================================================
// PICKER SCREEN
// =============================================================================

func (m *Model) viewPicker() string {
	var b strings.Builder

	b.WriteString(styles.Header.Render("kbchat - dialogs"))
	b.WriteString("\n\n")

	if len(m.contexts) == 0 {
		b.WriteString(styles.HelpText.Render("  no dialogs yet - press C-t to start one"))
		b.WriteString("\n")
	}

	for i, ctx := range m.contexts {
		line := m.pickerLine(ctx)
		if i == m.cursor {
			line = styles.SelectedItem.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.errText != "" {
		b.WriteString(styles.RenderError(m.errText))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(styles.StatusBar.Render(m.spinner.View() + " " + m.status))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) pickerLine(ctx api.Context) string {
	title := ctx.Title
	if title == "" {
		title = ctx.ID
	}
	title = util.TruncateWidth(title, 48)

	var marks []string
	if ctx.IsActive {
		marks = append(marks, styles.ActiveMark.Render(styles.StatusIndicators.Active))
	}
	if m.ctrl.IsBusy(ctx.ID) {
		marks = append(marks, styles.BusyText.Render("answering"))
	}

	line := fmt.Sprintf("%s  %s", title,
		styles.SourceLine.Render(strconv.Itoa(ctx.TurnCount)+" turns"))
	if len(marks) > 0 {
		line += "  " + strings.Join(marks, " ")
	}
	return line
}

// =============================================================================
// DIALOG SCREEN
// =============================================================================

func (m *Model) viewDialog() string {
	var b strings.Builder

	title := "new dialog"
	if active := m.ctrl.ActiveContext(); active != "" {
		for _, ctx := range m.contexts {
			if ctx.ID == active {
				if ctx.Title != "" {
					title = ctx.Title
				} else {
					title = active
				}
				break
			}
		}
	}
	header := styles.Header.Render("kbchat - " + util.TruncateWidth(title, 60))
	if m.opts.webSearchOn() {
		header += "  " + styles.HelpText.Render("[web]")
	}
	b.WriteString(header)
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n")

	b.WriteString(styles.InputBorder.Width(m.width - 2).Render(m.textarea.View()))
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return b.String()
}

func (m *Model) statusLine() string {
	if m.errText != "" {
		return styles.RenderError(m.errText)
	}

	active := m.ctrl.ActiveContext()
	if active != "" {
		switch m.ctrl.ContextState(active) {
		case dialog.StatePendingNoToken:
			text := "thinking..."
			if m.status != "" {
				text = m.status
			}
			return styles.BusyText.Render(m.spinner.View() + " " + text)
		case dialog.StatePendingStreaming:
			return styles.BusyText.Render(m.spinner.View() + " answering...")
		}
	}
	if m.status != "" {
		return styles.StatusBar.Render(m.status)
	}
	return ""
}

// =============================================================================
// TRANSCRIPT RENDERING
// =============================================================================

// rebuildViewport regenerates the transcript view from the controller
// snapshot and pins the viewport to the bottom.
func (m *Model) rebuildViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) renderTranscript() string {
	msgs := m.ctrl.Messages()
	if len(msgs) == 0 {
		return styles.HelpText.Render("\n  Ask a question to get started.")
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderMessage(msg *model.ChatMessage) string {
	var b strings.Builder

	switch msg.Sender {
	case model.SenderUser:
		b.WriteString(styles.UserLabel.Render("You"))
		b.WriteString("\n")
		b.WriteString(msg.DisplayText())

	case model.SenderAssistant:
		label := "Assistant"
		switch msg.Feedback {
		case model.FeedbackLike:
			label += " [+1]"
		case model.FeedbackDislike:
			label += " [-1]"
		}
		b.WriteString(styles.AssistantLabel.Render(label))
		b.WriteString("\n")
		b.WriteString(m.renderAnswer(msg))

		if m.cfg.UI.ShowSources && len(msg.Sources) > 0 {
			b.WriteString("\n")
			for _, src := range msg.Sources {
				b.WriteString(styles.SourceLine.Render("  " + formatSource(src)))
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

// renderAnswer runs finished answers through the markdown renderer.
// Streaming text is shown raw; re-rendering markdown on every batch is
// wasteful and unstable while the text is still growing.
func (m *Model) renderAnswer(msg *model.ChatMessage) string {
	text := msg.DisplayText()
	if msg.Streaming || !m.cfg.UI.Markdown || m.renderer == nil {
		return text
	}
	rendered, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

// formatSource renders one citation line. Sources without page numbers
// are shown as-is rather than dropped.
func formatSource(src api.Source) string {
	name := src.Filename
	if name == "" {
		name = src.URL
	}
	if len(src.Pages) == 0 {
		return styles.StatusIndicators.Info + " " + name
	}

	pages := make([]string, len(src.Pages))
	for i, p := range src.Pages {
		pages[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("%s %s p. %s", styles.StatusIndicators.Info, name, strings.Join(pages, ", "))
}
