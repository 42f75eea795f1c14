// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command for the kbchat CLI.
//
// Streams an answer for a single question and exits. Without --context
// a fresh context is created so the turn has a home the user can return
// to later with `kbchat chat` or the TUI.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/dialog"
	"github.com/jeranaias/kbchat-tui/internal/model"
)

// askResult is the --json output shape.
type askResult struct {
	Question  string       `json:"question"`
	Answer    string       `json:"answer"`
	ContextID string       `json:"context_id"`
	Sources   []askSource  `json:"sources,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type askSource struct {
	Filename string `json:"filename"`
	URL      string `json:"url,omitempty"`
	Pages    []int  `json:"pages,omitempty"`
}

// HandleAsk runs a single streamed question and prints the answer.
func HandleAsk(args Args) error {
	question := strings.TrimSpace(args.Query)
	if question == "" {
		return errors.New("usage: kbchat ask [--context <id>] <question>")
	}

	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()
	if args.ContextID != "" {
		if _, ok := app.Registry.Get(args.ContextID); !ok {
			app.Registry.ForceRefresh(ctx)
		}
		if _, ok := app.Registry.Get(args.ContextID); !ok {
			return fmt.Errorf("context %q not found", args.ContextID)
		}
		app.Ctrl.SelectContext(ctx, args.ContextID)
	}

	// Incremental printing only makes sense when the output is not
	// re-rendered at the end.
	streamToStdout := args.Plain && !args.JSON

	terminal := make(chan dialog.Event, 1)
	app.Ctrl.SetNotifyFunc(func(ev dialog.Event) {
		switch ev.Kind {
		case dialog.EventStatus:
			if !args.Quiet && !args.JSON {
				fmt.Fprintln(os.Stderr, DimStyle.Render(ev.Status))
			}
		case dialog.EventToken:
			if streamToStdout {
				fmt.Print(ev.Token)
			}
		case dialog.EventFinished, dialog.EventFailed:
			select {
			case terminal <- ev:
			default:
			}
		}
	})

	if err := app.Ctrl.Submit(question); err != nil {
		return err
	}
	final := <-terminal
	if streamToStdout {
		fmt.Println()
	}

	msgs := app.Ctrl.Messages()
	var answer *model.ChatMessage
	if len(msgs) > 0 {
		answer = msgs[len(msgs)-1]
	}

	if args.JSON {
		return printAskJSON(question, app.Ctrl.ActiveContext(), answer, final)
	}
	if final.Kind == dialog.EventFailed {
		if answer != nil {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render(answer.DisplayText()))
		}
		if final.Err != nil {
			return final.Err
		}
		return errors.New("request failed")
	}
	if answer == nil {
		return errors.New("no answer received")
	}

	if !streamToStdout {
		fmt.Println(renderAnswerText(answer.DisplayText(), args.Plain))
	}
	printSources(answer.Sources)
	if !args.Quiet {
		fmt.Fprintln(os.Stderr, DimStyle.Render("context: "+app.Ctrl.ActiveContext()))
	}
	return nil
}

// renderAnswerText renders markdown for TTY output and falls back to the
// raw text otherwise.
func renderAnswerText(text string, plain bool) string {
	if plain || !IsStdoutTTY() {
		return text
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(GetTerminalWidth()),
	)
	if err != nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// printSources lists citations below an answer. Sources without page
// numbers are still shown.
func printSources(sources []api.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Println(SectionStyle.Render("Sources"))
	for _, s := range sources {
		line := "  " + s.Filename
		if len(s.Pages) > 0 {
			pages := make([]string, len(s.Pages))
			for i, p := range s.Pages {
				pages[i] = strconv.Itoa(p)
			}
			line += " p. " + strings.Join(pages, ", ")
		}
		fmt.Println(DimStyle.Render(line))
	}
}

func printAskJSON(question, contextID string, answer *model.ChatMessage, final dialog.Event) error {
	res := askResult{Question: question, ContextID: contextID}
	if answer != nil {
		res.Answer = answer.DisplayText()
		for _, s := range answer.Sources {
			res.Sources = append(res.Sources, askSource{Filename: s.Filename, URL: s.URL, Pages: s.Pages})
		}
	}
	if final.Kind == dialog.EventFailed {
		if final.Err != nil {
			res.Error = final.Err.Error()
		} else {
			res.Error = "request failed"
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	return nil
}
