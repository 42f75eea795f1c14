// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive REPL command handler for the kbchat CLI.
//
// USABILITY: Markdown rendering and history for better CLI experience
//
// Handles the "kbchat chat" command, a readline-style alternative to the
// full-screen TUI. Questions run one at a time; an interrupted question
// is resumed automatically on the next start.
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /contexts           List conversation contexts
//   /switch <id>        Switch to another context
//   /new                Start a fresh context
//   /history            Show the current transcript
//   /sources [a,b]      Show or set active source filters
//   /web                Toggle web search
//   /like, /dislike     Rate the last answer
//   /quit, /q           Exit chat
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/config"
	"github.com/jeranaias/kbchat-tui/internal/dialog"
	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt. Non-empty input
// is appended to the history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	// SECURITY: history may contain sensitive questions, 0600 only
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatSession holds the state for one interactive REPL session.
type chatSession struct {
	app      *App
	input    *ChatCLI
	quiet    bool
	start    time.Time
	asked    int
	terminal chan dialog.Event
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat handles the "chat" command with full interactive support.
func HandleChat(args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	session := &chatSession{
		app:      app,
		input:    NewChatCLI(),
		quiet:    args.Quiet,
		start:    time.Now(),
		terminal: make(chan dialog.Event, 1),
	}
	defer session.input.Close()

	useMarkdown := IsStdoutTTY()
	app.Ctrl.SetNotifyFunc(func(ev dialog.Event) {
		switch ev.Kind {
		case dialog.EventStatus:
			if !session.quiet {
				fmt.Fprintln(os.Stderr, infoStyle.Render("  "+ev.Status))
			}
		case dialog.EventToken:
			if !useMarkdown {
				fmt.Print(ev.Token)
			}
		case dialog.EventFinished, dialog.EventFailed:
			select {
			case session.terminal <- ev:
			default:
			}
		}
	})

	// An exit mid-answer is recoverable: the reconnect record replays the
	// question on the next start.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render(
			"[interrupted] run kbchat chat again to pick up the answer"))
		session.input.Close()
		os.Exit(130)
	}()

	if !session.quiet {
		printWelcome(app)
	}

	ctx := context.Background()
	if id := NewArgParser(args.Raw).Flag("context"); id != "" {
		app.Ctrl.SelectContext(ctx, id)
	}

	// Replay a question that was cut off by a previous exit.
	if app.Ctrl.Resume(ctx) {
		fmt.Println(infoStyle.Render("[resuming interrupted question]"))
		session.awaitAnswer(useMarkdown)
	}

	for {
		input, err := session.input.ReadInput(promptStyle.Render("kbchat> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF (Ctrl+D) both exit cleanly.
			fmt.Println()
			printExitSummary(session)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			keepGoing, err := session.handleSlashCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !keepGoing {
				printExitSummary(session)
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			printExitSummary(session)
			return nil
		}

		if err := session.ask(input, useMarkdown); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// ask submits one question and blocks until its terminal event.
func (s *chatSession) ask(question string, useMarkdown bool) error {
	if err := s.app.Ctrl.Submit(question); err != nil {
		if errors.Is(err, dialog.ErrRequestPending) {
			return errors.New("a question is already being answered")
		}
		return err
	}
	fmt.Println()
	s.awaitAnswer(useMarkdown)
	s.asked++
	return nil
}

// awaitAnswer waits for the in-flight request to finish and prints the
// result. Tokens were already streamed to stdout in plain mode; for
// markdown mode the full answer renders here instead.
func (s *chatSession) awaitAnswer(useMarkdown bool) {
	started := time.Now()
	ev := <-s.terminal

	msgs := s.app.Ctrl.Messages()
	var answer *model.ChatMessage
	if len(msgs) > 0 {
		answer = msgs[len(msgs)-1]
	}

	if ev.Kind == dialog.EventFailed {
		if answer != nil && !useMarkdown {
			// Plain mode already streamed partial output; the apology text
			// lands below it.
			fmt.Println()
		}
		if answer != nil {
			fmt.Println(errorStyle.Render(answer.DisplayText()))
		}
		fmt.Println()
		return
	}

	if answer != nil {
		if useMarkdown {
			fmt.Println(renderAnswerText(answer.DisplayText(), false))
		} else {
			fmt.Println()
		}
		printSources(answer.Sources)
	}

	if !s.quiet {
		fmt.Fprintln(os.Stderr, infoStyle.Render(
			"  "+time.Since(started).Round(time.Millisecond).String()))
	}
	fmt.Println()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands. Returns (keepGoing, error)
// where keepGoing=false means exit.
func (s *chatSession) handleSlashCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}

	command := strings.ToLower(parts[0])
	rest := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		printChatHelp()
		return true, nil

	case "/contexts", "/ls":
		s.printContexts(ctx)
		return true, nil

	case "/switch", "/sw":
		if len(rest) == 0 {
			return true, errors.New("usage: /switch <context-id>")
		}
		s.app.Ctrl.SelectContext(ctx, rest[0])
		fmt.Println(commandStyle.Render("[switched to " + rest[0] + "]"))
		s.printTranscript()
		return true, nil

	case "/new", "/n":
		s.app.Ctrl.CancelView()
		fmt.Println(commandStyle.Render("[new context on next question]"))
		return true, nil

	case "/history":
		s.printTranscript()
		return true, nil

	case "/sources":
		return s.handleSources(rest)

	case "/web", "/w":
		s.app.Cfg.Query.WebSearchActive = !s.app.Cfg.Query.WebSearchActive
		if s.app.Cfg.Query.WebSearchActive {
			fmt.Println(commandStyle.Render("[web search on]"))
		} else {
			fmt.Println(commandStyle.Render("[web search off]"))
		}
		return true, nil

	case "/like":
		return true, s.rateLastTurn(ctx, api.FeedbackLike)

	case "/dislike":
		return true, s.rateLastTurn(ctx, api.FeedbackDislike)

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// handleSources shows or replaces the active source filters.
func (s *chatSession) handleSources(rest []string) (bool, error) {
	if len(rest) == 0 {
		if len(s.app.Cfg.Query.ActiveSources) == 0 {
			fmt.Println(infoStyle.Render("[all sources active]"))
		} else {
			fmt.Println(infoStyle.Render("[active sources: " +
				strings.Join(s.app.Cfg.Query.ActiveSources, ", ") + "]"))
		}
		return true, nil
	}
	if rest[0] == "all" {
		s.app.Cfg.Query.ActiveSources = nil
		fmt.Println(commandStyle.Render("[source filter cleared]"))
		return true, nil
	}
	var active []string
	for _, part := range strings.Split(strings.Join(rest, ","), ",") {
		if part = strings.TrimSpace(part); part != "" {
			active = append(active, part)
		}
	}
	s.app.Cfg.Query.ActiveSources = active
	fmt.Println(commandStyle.Render("[active sources: " + strings.Join(active, ", ") + "]"))
	return true, nil
}

// rateLastTurn sends feedback for the most recent finalized answer.
func (s *chatSession) rateLastTurn(ctx context.Context, kind api.FeedbackType) error {
	turnIndex := -1
	for _, m := range s.app.Ctrl.Messages() {
		if m.Sender == model.SenderAssistant && m.TurnIndex > turnIndex {
			turnIndex = m.TurnIndex
		}
	}
	if turnIndex < 0 {
		return errors.New("no answer to rate yet")
	}
	if err := s.app.Ctrl.SendFeedback(ctx, turnIndex, kind); err != nil {
		return err
	}
	fmt.Println(commandStyle.Render("[feedback sent]"))
	return nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

// printWelcome prints the welcome banner.
func printWelcome(app *App) {
	fmt.Println()
	fmt.Println(welcomeStyle.Render("kbchat interactive chat"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n",
		infoStyle.Render("Server:"),
		commandStyle.Render(app.Cfg.Server.BaseURL))
	if app.Cfg.Query.WebSearchActive {
		fmt.Printf("%s %s\n",
			infoStyle.Render("Web search:"),
			commandStyle.Render("on"))
	}
	if len(app.Cfg.Query.ActiveSources) > 0 {
		fmt.Printf("%s %s\n",
			infoStyle.Render("Sources:"),
			commandStyle.Render(strings.Join(app.Cfg.Query.ActiveSources, ", ")))
	}
	fmt.Println()
	fmt.Println(infoStyle.Render("Type your question and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

// printChatHelp prints available commands.
func printChatHelp() {
	fmt.Println()
	fmt.Println(TitleStyle.Render("Available Commands"))

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/contexts", "List conversation contexts"},
		{"/switch <id>", "Switch to another context"},
		{"/new", "Start a fresh context on the next question"},
		{"/history", "Show the current transcript"},
		{"/sources [a,b|all]", "Show or set active source filters"},
		{"/web", "Toggle web search"},
		{"/like, /dislike", "Rate the last answer"},
		{"/quit, /q", "Exit chat"},
	}
	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-20s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("Tip: Ctrl+D exits; an interrupted answer resumes on next start"))
	fmt.Println()
}

// printContexts lists the known contexts with the active one marked.
func (s *chatSession) printContexts(ctx context.Context) {
	contexts := s.app.Registry.ForceRefresh(ctx)
	if len(contexts) == 0 {
		fmt.Println(infoStyle.Render("[no contexts yet]"))
		return
	}
	active := s.app.Ctrl.ActiveContext()
	for _, c := range contexts {
		mark := "  "
		if c.ID == active {
			mark = commandStyle.Render("* ")
		}
		title := c.Title
		if title == "" {
			title = c.ID
		}
		fmt.Printf("%s%s %s\n",
			mark,
			ValueStyle.Render(title),
			DimStyle.Render(fmt.Sprintf("(%s, %d turns)", c.ID, c.TurnCount)))
	}
}

// printTranscript prints the current context's transcript, truncated.
func (s *chatSession) printTranscript() {
	msgs := s.app.Ctrl.Messages()
	if len(msgs) == 0 {
		fmt.Println(infoStyle.Render("[no messages yet]"))
		return
	}

	fmt.Println()
	for i, msg := range msgs {
		role := msg.Sender.DisplayName()
		switch msg.Sender {
		case model.SenderUser:
			role = styles.UserLabel.Render(role)
		case model.SenderAssistant:
			role = styles.AssistantLabel.Render(role)
		}

		// Rune-based truncation for Unicode safety
		content := msg.DisplayText()
		runes := []rune(content)
		if len(runes) > 100 {
			content = string(runes[:100]) + "..."
		}
		content = strings.ReplaceAll(content, "\n", " ")

		fmt.Printf("  %d. %s: %s\n", i+1, role, content)
	}
	fmt.Println()
}

// printExitSummary prints the session summary on exit.
func printExitSummary(s *chatSession) {
	if s.asked == 0 {
		fmt.Println(infoStyle.Render("Goodbye!"))
		return
	}
	elapsed := time.Since(s.start).Round(time.Second)
	fmt.Printf("  %s %s\n", infoStyle.Render("Questions:"), strconv.Itoa(s.asked))
	fmt.Printf("  %s %s\n", infoStyle.Render("Duration:"), elapsed.String())
	fmt.Println(infoStyle.Render("Goodbye!"))
}
