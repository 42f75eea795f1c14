// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sources.go - Feedback and source-offer command handlers for the
// kbchat CLI.

package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/api"
)

// HandleFeedback rates a completed turn: kbchat feedback <context-id> <turn> <like|dislike>
func HandleFeedback(args Args) error {
	parser := NewArgParser(args.Raw)
	contextID := parser.Positional(0)
	turnArg := parser.Positional(1)
	kindArg := parser.Positional(2)
	if contextID == "" || turnArg == "" || kindArg == "" {
		return errors.New("usage: kbchat feedback <context-id> <turn> <like|dislike>")
	}

	// Turns are 1-based on the command line, matching `contexts show`.
	turn, err := strconv.Atoi(turnArg)
	if err != nil || turn < 1 {
		return fmt.Errorf("invalid turn number: %s", turnArg)
	}

	var kind api.FeedbackType
	switch kindArg {
	case "like", "+1", "up":
		kind = api.FeedbackLike
	case "dislike", "-1", "down":
		kind = api.FeedbackDislike
	default:
		return fmt.Errorf("feedback must be like or dislike, got %q", kindArg)
	}

	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.Client.SendFeedback(ctx, contextID, turn-1, kind); err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render("[OK]") + " feedback recorded")
	return nil
}

// HandleOffer proposes a document for the knowledge base:
// kbchat offer [--category NAME] [--description TEXT] <url-or-name>
func HandleOffer(args Args) error {
	parser := NewArgParser(args.Raw)
	target := JoinPositionalArgs(parser, 0)
	if target == "" {
		return errors.New("usage: kbchat offer [--description TEXT] <url-or-name>")
	}

	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := app.Client.OfferSource(ctx, api.OfferSourceRequest{
		URL:      target,
		Category: parser.Flag("category"),
		Comment:  parser.Flag("description"),
	})
	if err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render("[OK]") + " source offered, reference " + resp.LinkID)
	return nil
}
