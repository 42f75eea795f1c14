// kbchat TUI - A terminal client for the knowledge-base QA service.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/kbchat-tui/internal/cli"
	"github.com/jeranaias/kbchat-tui/internal/config"
	"github.com/jeranaias/kbchat-tui/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.2.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	var err error
	switch cmd {
	case cli.CmdTUI:
		err = runTUI(args)
	case cli.CmdAsk:
		err = cli.HandleAsk(args)
	case cli.CmdChat:
		err = cli.HandleChat(args)
	case cli.CmdContexts:
		err = cli.HandleContexts(args)
	case cli.CmdStatus:
		err = cli.HandleStatus(args)
	case cli.CmdConfig:
		err = cli.HandleConfig(args)
	case cli.CmdLogin:
		err = cli.HandleLogin(args)
	case cli.CmdFeedback:
		err = cli.HandleFeedback(args)
	case cli.CmdOffer:
		err = cli.HandleOffer(args)
	case cli.CmdVersion:
		cli.PrintVersion()
	case cli.CmdHelp:
		cli.PrintUsage()
	default:
		cli.PrintUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runTUI starts the full-screen interface.
func runTUI(args cli.Args) error {
	app, err := cli.BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	model := chat.New(app.Ctrl, app.Registry, app.Cfg, app.Log)
	program := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	// Replay a question interrupted by a previous exit. The resumed
	// stream's events arrive through the normal observer path once the
	// program is running.
	app.Ctrl.Resume(context.Background())

	// Live config reload: edits to ~/.kbchat/config.toml apply without a
	// restart.
	var watcher *config.Watcher
	if path, err := config.ConfigPathTOML(); err == nil {
		watcher, err = config.NewWatcher(path, func(cfg *config.Config) {
			program.Send(chat.ConfigReloadedMsg{Cfg: cfg})
		}, app.Log)
		if err != nil {
			app.Log.Warn("config watcher unavailable", zap.Error(err))
		}
	}
	if watcher != nil {
		defer watcher.Close()
	}

	_, err = program.Run()
	return err
}
