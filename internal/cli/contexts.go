// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// contexts.go - Context management command handler for the kbchat CLI.
//
// Subcommands:
//   list (default)   List conversation contexts
//   new              Create a context and print its ID
//   show <id>        Print a context's turn history
//   delete <id>      Delete a context (refused while it is answering)
//   switch <id>      Mark a context active on the backend
//   export <id>      Write a context's transcript as markdown

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/registry"
	"github.com/jeranaias/kbchat-tui/internal/util"
)

// HandleContexts dispatches the "contexts" subcommands.
func HandleContexts(args Args) error {
	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()
	parser := NewArgParser(args.Raw)

	switch args.Subcommand {
	case "", "list", "ls":
		return contextsList(ctx, app, args.JSON)
	case "new":
		return contextsNew(ctx, app)
	case "show":
		return contextsShow(ctx, app, parser.Positional(1), args.JSON)
	case "delete", "rm":
		return contextsDelete(ctx, app, parser.Positional(1))
	case "switch":
		return contextsSwitch(ctx, app, parser.Positional(1))
	case "export":
		output := parser.FlagOrDefault("output", parser.Flag("o"))
		return contextsExport(ctx, app, parser.Positional(1), output)
	default:
		return fmt.Errorf("unknown contexts subcommand: %s", args.Subcommand)
	}
}

func contextsList(ctx context.Context, app *App, asJSON bool) error {
	contexts := app.Registry.ForceRefresh(ctx)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(contexts)
	}

	if len(contexts) == 0 {
		fmt.Println(DimStyle.Render("No contexts yet. Ask a question to create one."))
		return nil
	}

	fmt.Println(TitleStyle.Render("Contexts"))
	for _, c := range contexts {
		mark := "  "
		if c.IsActive {
			mark = SuccessStyle.Render("* ")
		}
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s%s\n", mark, ValueStyle.Render(title))
		fmt.Printf("    %s\n", DimStyle.Render(fmt.Sprintf("%s | %d turns | last active %s",
			c.ID, c.TurnCount, formatRelativeTime(c.LastActivity))))
	}
	return nil
}

func contextsNew(ctx context.Context, app *App) error {
	id, err := app.Registry.Create(ctx)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func contextsShow(ctx context.Context, app *App, contextID string, asJSON bool) error {
	if contextID == "" {
		return errors.New("usage: kbchat contexts show <context-id>")
	}
	resp, err := app.Client.GetTurns(ctx, contextID)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	label := resp.ContextLabel
	if label == "" {
		label = contextID
	}
	fmt.Println(TitleStyle.Render(label))
	if len(resp.Turns) == 0 {
		fmt.Println(DimStyle.Render("No turns yet."))
		return nil
	}
	for i, turn := range resp.Turns {
		fmt.Printf("%s %s\n", SectionStyle.Render(fmt.Sprintf("[%d]", i+1)), ValueStyle.Render(turn.Question))
		fmt.Println(WrapText(turn.Answer, GetTerminalWidth()))
		printSources(turn.Sources)
		fmt.Println()
	}
	return nil
}

func contextsDelete(ctx context.Context, app *App, contextID string) error {
	if contextID == "" {
		return errors.New("usage: kbchat contexts delete <context-id>")
	}
	if err := app.Registry.Delete(ctx, contextID); err != nil {
		if errors.Is(err, registry.ErrContextBusy) {
			return errors.New("context is still answering a question; try again when it finishes")
		}
		return err
	}
	app.Ctrl.ContextDeleted(contextID)
	fmt.Println(SuccessStyle.Render("[OK]") + " deleted " + contextID)
	return nil
}

func contextsSwitch(ctx context.Context, app *App, contextID string) error {
	if contextID == "" {
		return errors.New("usage: kbchat contexts switch <context-id>")
	}
	app.Ctrl.SelectContext(ctx, contextID)
	fmt.Println(SuccessStyle.Render("[OK]") + " switched to " + contextID)
	return nil
}

// contextsExport writes a context's transcript as a markdown document.
// With no --output it prints to stdout.
func contextsExport(ctx context.Context, app *App, contextID, output string) error {
	if contextID == "" {
		return errors.New("usage: kbchat contexts export [--output <file>] <context-id>")
	}
	resp, err := app.Client.GetTurns(ctx, contextID)
	if err != nil {
		return err
	}

	doc := renderTranscriptMarkdown(contextID, resp)
	if output == "" {
		fmt.Print(doc)
		return nil
	}
	if err := util.AtomicWriteFile(output, []byte(doc), 0644); err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render("[OK]") + " wrote " + output)
	return nil
}

// renderTranscriptMarkdown formats a turn history for export.
func renderTranscriptMarkdown(contextID string, resp *api.TurnResponse) string {
	var b strings.Builder
	label := resp.ContextLabel
	if label == "" {
		label = contextID
	}
	b.WriteString("# " + label + "\n\n")
	b.WriteString("Exported " + time.Now().Format("2006-01-02 15:04") + "\n\n")

	for i, turn := range resp.Turns {
		b.WriteString(fmt.Sprintf("## Turn %d\n\n", i+1))
		b.WriteString("**Q:** " + turn.Question + "\n\n")
		b.WriteString(turn.Answer + "\n\n")
		if len(turn.Sources) > 0 {
			b.WriteString("Sources:\n")
			for _, s := range turn.Sources {
				line := "- " + s.Filename
				if len(s.Pages) > 0 {
					pages := make([]string, len(s.Pages))
					for j, p := range s.Pages {
						pages[j] = strconv.Itoa(p)
					}
					line += " (p. " + strings.Join(pages, ", ") + ")"
				}
				b.WriteString(line + "\n")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// formatRelativeTime renders a timestamp as a short "2h ago" form.
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
