// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command handlers for kbchat.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdChat
	CmdContexts
	CmdStatus
	CmdConfig
	CmdLogin
	CmdFeedback
	CmdOffer
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet     bool
	Verbose   bool
	JSON      bool
	Plain     bool // skip markdown rendering
	WebSearch bool
	Sources   string // comma-separated retrieval sources

	// Command-specific
	Query      string
	ContextID  string
	Subcommand string

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `kbchat - terminal client for the knowledge-base assistant

Kbchat talks to a retrieval-augmented knowledge-base server: questions are
asked inside dialogs (server-side contexts), answers stream back token by
token with source citations, and interrupted answers resume after a restart.

Usage:
  kbchat                       Start TUI (default)
  kbchat ask "question"        Ask a single question
  kbchat chat                  Interactive chat in the terminal
  kbchat contexts [subcommand] Dialog management
  kbchat status, s             Show server status
  kbchat config [show|get|set] Configuration
  kbchat login                 Authenticate with an access code
  kbchat feedback <args>       Rate an answer
  kbchat offer <args>          Suggest a document for the knowledge base
  kbchat version               Show version
  kbchat help                  Show this help

Ask Command:
  kbchat ask "question"             Ask in a fresh dialog
    --context ID                    Ask inside an existing dialog
    --web                           Allow web search augmentation
    --sources a,b                   Restrict retrieval to named sources
    --plain                         Skip markdown rendering

Context Commands:
  kbchat contexts list              List dialogs (default)
  kbchat contexts new               Start an empty dialog
  kbchat contexts show <id>         Print a dialog transcript
  kbchat contexts delete <id>       Delete a dialog
  kbchat contexts switch <id>       Mark a dialog active on the server
  kbchat contexts export <id>       Export a dialog transcript as markdown
    --output FILE                   Write to file (default: stdout)

Config Commands:
  kbchat config show                Show current configuration
  kbchat config get <key>           Read one value
  kbchat config set <key> <value>   Write one value
  kbchat config keys                List settable keys

Feedback Command:
  kbchat feedback <context-id> <turn> like|dislike

Offer Command:
  kbchat offer <url-or-name>        Suggest a source document
    --description TEXT              Why it should be indexed

Global Flags:
  -q, --quiet        Minimal output
  -v, --verbose      Verbose output
  --json             Machine-readable output where supported

Environment:
  KBCHAT_URL            Knowledge-base server URL
  KBCHAT_WEB_SEARCH     Enable web augmentation (1/true)
  KBCHAT_SOURCES        Comma-separated retrieval sources
  KBCHAT_LOG_LEVEL      Log level (debug/info/warn/error)

Config file: ~/.kbchat/config.toml
`

// Parse parses os.Args into a command and its arguments.
func Parse() (Command, Args) {
	return ParseFrom(os.Args[1:])
}

// ParseFrom parses the given argument list.
func ParseFrom(args []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(args)

	// No arguments: default to the TUI
	if len(remaining) == 0 {
		return CmdTUI, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "tui":
		return CmdTUI, parsedArgs

	case "ask":
		parseAskArgs(&parsedArgs, remaining)
		return CmdAsk, parsedArgs

	case "chat":
		return CmdChat, parsedArgs

	case "contexts", "context", "dialogs", "dialog":
		if len(remaining) > 0 {
			parsedArgs.Subcommand = remaining[0]
		}
		return CmdContexts, parsedArgs

	case "status", "s":
		return CmdStatus, parsedArgs

	case "config":
		if len(remaining) > 0 {
			parsedArgs.Subcommand = remaining[0]
		}
		return CmdConfig, parsedArgs

	case "login", "auth":
		return CmdLogin, parsedArgs

	case "feedback":
		return CmdFeedback, parsedArgs

	case "offer":
		return CmdOffer, parsedArgs

	case "version", "-v", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		// Unknown word: treat the whole line as an ask query.
		parsedArgs.Raw = append([]string{cmd}, remaining...)
		parseAskArgs(&parsedArgs, parsedArgs.Raw)
		return CmdAsk, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	i := 0
	for i < len(args) {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--web", "--web-search":
			parsedArgs.WebSearch = true
		case "--sources":
			if i+1 < len(args) {
				i++
				parsedArgs.Sources = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--sources=") {
				parsedArgs.Sources = strings.TrimPrefix(arg, "--sources=")
			} else {
				remaining = append(remaining, arg)
			}
		}
		i++
	}

	return remaining, parsedArgs
}

// parseAskArgs extracts the query and ask-specific flags.
func parseAskArgs(parsedArgs *Args, args []string) {
	var queryParts []string

	i := 0
	for i < len(args) {
		arg := args[i]
		switch {
		case arg == "--context" || arg == "-c":
			if i+1 < len(args) {
				i++
				parsedArgs.ContextID = args[i]
			}
		case strings.HasPrefix(arg, "--context="):
			parsedArgs.ContextID = strings.TrimPrefix(arg, "--context=")
		case arg == "--plain":
			parsedArgs.Plain = true
		case strings.HasPrefix(arg, "-"):
			// Unknown ask flag; ignore rather than fail
		default:
			queryParts = append(queryParts, arg)
		}
		i++
	}

	parsedArgs.Query = strings.Join(queryParts, " ")
}

// PrintUsage prints the CLI usage text.
func PrintUsage() {
	fmt.Print(usageText)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("kbchat %s\n", Version)
	fmt.Printf("  commit:  %s\n", GitCommit)
	fmt.Printf("  built:   %s\n", BuildDate)
	fmt.Printf("  runtime: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
