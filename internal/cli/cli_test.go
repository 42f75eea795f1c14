// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface parsing and execution.
//
// This test file covers command dispatch (cli.go) and the unified
// argument parser (args.go).
package cli

import (
	"testing"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"show"},
			wantSub: "show",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"show", "--output", "out.md"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("output") != "out.md" {
					t.Errorf("Flag(output) = %q, want %q", p.Flag("output"), "out.md")
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"export", "--output=transcript.md"},
			wantSub: "export",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("output") != "transcript.md" {
					t.Errorf("Flag(output) = %q, want %q", p.Flag("output"), "transcript.md")
				}
			},
		},
		{
			name:    "boolean flag",
			args:    []string{"list", "--json"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("json") {
					t.Error("BoolFlag(json) should be true")
				}
			},
		},
		{
			name:    "positional after subcommand",
			args:    []string{"show", "ctx-42"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Positional(1) != "ctx-42" {
					t.Errorf("Positional(1) = %q, want %q", p.Positional(1), "ctx-42")
				}
			},
		},
		{
			name:    "no arguments",
			args:    []string{},
			wantSub: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args)
			if p.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", p.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_PositionalFrom(t *testing.T) {
	p := NewArgParser([]string{"offer", "the", "crane", "load", "chart"})
	got := JoinPositionalArgs(p, 1)
	want := "the crane load chart"
	if got != want {
		t.Errorf("joined positionals = %q, want %q", got, want)
	}
}

func TestJoinPositionalArgs_SkipsFlags(t *testing.T) {
	// The offer command joins every positional into the target while
	// flags and their values stay out of the join.
	p := NewArgParser([]string{"--category", "manuals", "crane", "load", "chart", "--description", "ops"})
	got := JoinPositionalArgs(p, 0)
	want := "crane load chart"
	if got != want {
		t.Errorf("joined positionals = %q, want %q", got, want)
	}
	if p.Flag("category") != "manuals" {
		t.Errorf("category flag = %q", p.Flag("category"))
	}
}

func TestArgParser_OutOfRange(t *testing.T) {
	p := NewArgParser([]string{"show"})
	if p.Positional(5) != "" {
		t.Error("out of range Positional should be empty")
	}
	if got := p.PositionalFrom(5); len(got) != 0 {
		t.Errorf("out of range PositionalFrom should be empty, got %v", got)
	}
}

// =============================================================================
// COMMAND DISPATCH TESTS (cli.go)
// =============================================================================

func TestParseFrom_Commands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"no args is tui", []string{}, CmdTUI},
		{"explicit tui", []string{"tui"}, CmdTUI},
		{"ask", []string{"ask", "what", "is", "the", "limit"}, CmdAsk},
		{"chat", []string{"chat"}, CmdChat},
		{"contexts", []string{"contexts", "list"}, CmdContexts},
		{"contexts alias", []string{"dialogs"}, CmdContexts},
		{"status", []string{"status"}, CmdStatus},
		{"status alias", []string{"s"}, CmdStatus},
		{"config", []string{"config", "show"}, CmdConfig},
		{"login", []string{"login"}, CmdLogin},
		{"auth alias", []string{"auth"}, CmdLogin},
		{"feedback", []string{"feedback", "ctx-1", "2", "like"}, CmdFeedback},
		{"offer", []string{"offer", "https://example.com/doc.pdf"}, CmdOffer},
		{"version", []string{"version"}, CmdVersion},
		{"version flag", []string{"--version"}, CmdVersion},
		{"help", []string{"help"}, CmdHelp},
		{"help flag", []string{"-h"}, CmdHelp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _ := ParseFrom(tt.args)
			if cmd != tt.want {
				t.Errorf("ParseFrom(%v) = %v, want %v", tt.args, cmd, tt.want)
			}
		})
	}
}

func TestParseFrom_UnknownWordIsAskQuery(t *testing.T) {
	cmd, args := ParseFrom([]string{"what", "is", "the", "max", "load"})
	if cmd != CmdAsk {
		t.Fatalf("cmd = %v, want CmdAsk", cmd)
	}
	if args.Query != "what is the max load" {
		t.Errorf("Query = %q, want %q", args.Query, "what is the max load")
	}
}

func TestParseFrom_AskFlags(t *testing.T) {
	cmd, args := ParseFrom([]string{"ask", "--context", "ctx-7", "--plain", "how", "does", "it", "work"})
	if cmd != CmdAsk {
		t.Fatalf("cmd = %v, want CmdAsk", cmd)
	}
	if args.ContextID != "ctx-7" {
		t.Errorf("ContextID = %q, want %q", args.ContextID, "ctx-7")
	}
	if !args.Plain {
		t.Error("Plain should be true")
	}
	if args.Query != "how does it work" {
		t.Errorf("Query = %q, want %q", args.Query, "how does it work")
	}
}

func TestParseFrom_GlobalFlags(t *testing.T) {
	cmd, args := ParseFrom([]string{"--json", "-q", "contexts", "list"})
	if cmd != CmdContexts {
		t.Fatalf("cmd = %v, want CmdContexts", cmd)
	}
	if !args.JSON {
		t.Error("JSON should be true")
	}
	if !args.Quiet {
		t.Error("Quiet should be true")
	}
	if args.Subcommand != "list" {
		t.Errorf("Subcommand = %q, want %q", args.Subcommand, "list")
	}
}

func TestParseFrom_SourcesFlag(t *testing.T) {
	_, args := ParseFrom([]string{"--sources", "manuals,bulletins", "ask", "question"})
	if args.Sources != "manuals,bulletins" {
		t.Errorf("Sources = %q, want %q", args.Sources, "manuals,bulletins")
	}
}
