// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth_cmd.go - Login command handler for the kbchat CLI.
//
// SECURITY: The access code is read with terminal echo disabled and is
// never written to the log or the shell history.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// HandleLogin exchanges an access code for tokens and stores them.
func HandleLogin(args Args) error {
	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	parser := NewArgParser(args.Raw)
	if parser.Subcommand() == "logout" || parser.BoolFlag("clear") {
		if err := app.Tokens.Clear(); err != nil {
			return err
		}
		fmt.Println(SuccessStyle.Render("[OK]") + " stored token removed")
		return nil
	}

	code, err := readAccessCode()
	if err != nil {
		return err
	}
	if code == "" {
		return errors.New("no access code entered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := app.Client.Login(ctx, code)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := app.Tokens.Save(resp.AccessToken, resp.RefreshToken); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	fmt.Println(SuccessStyle.Render("[OK]") + " logged in to " + app.Cfg.Server.BaseURL)
	return nil
}

// readAccessCode prompts for the access code without echoing it. Falls
// back to a plain line read when stdin is not a terminal (piped input).
func readAccessCode() (string, error) {
	fmt.Fprint(os.Stderr, LabelStyle.Render("Access code:")+" ")

	if IsTTY() {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	var code string
	if _, err := fmt.Fscanln(os.Stdin, &code); err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}
