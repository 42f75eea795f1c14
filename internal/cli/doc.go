// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the kbchat command line interface.
//
// The package covers argument parsing (cli.go, args.go), the shared
// bootstrap that wires config, logging, auth, the API client, and the
// dialog controller (app.go), and one handler file per command. The TUI
// itself lives in internal/ui/chat; the cli package only launches it.
//
// Output conventions:
//   - Results go to stdout, progress and hints go to stderr
//   - Colors are disabled automatically for non-TTY output
//   - --json switches supporting commands to machine-readable output
package cli
