// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Config management command handler for the kbchat CLI.
//
// Subcommands:
//   show (default)   Print the effective configuration
//   get <key>        Print a single value
//   set <key> <val>  Update a value and save the config file
//   keys             List settable keys

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/kbchat-tui/internal/config"
)

// HandleConfig dispatches the "config" subcommands.
func HandleConfig(args Args) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	parser := NewArgParser(args.Raw)

	switch args.Subcommand {
	case "", "show":
		return configShow(cfg, args.JSON)
	case "get":
		return configGet(cfg, parser.Positional(1))
	case "set":
		return configSet(cfg, parser.Positional(1), parser.Positional(2))
	case "keys":
		for _, key := range config.Keys() {
			fmt.Println(key)
		}
		return nil
	default:
		return fmt.Errorf("unknown config subcommand: %s", args.Subcommand)
	}
}

func configShow(cfg *config.Config, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	path, err := config.ConfigPathTOML()
	if err == nil {
		fmt.Println(DimStyle.Render("# " + path))
	}
	for _, key := range config.Keys() {
		val, err := cfg.Get(key)
		if err != nil {
			continue
		}
		fmt.Printf("%s %v\n", RenderLabel(key, 30), val)
	}
	return nil
}

func configGet(cfg *config.Config, key string) error {
	if key == "" {
		return errors.New("usage: kbchat config get <key>")
	}
	val, err := cfg.Get(key)
	if err != nil {
		return err
	}
	fmt.Printf("%v\n", val)
	return nil
}

func configSet(cfg *config.Config, key, value string) error {
	if key == "" || value == "" {
		return errors.New("usage: kbchat config set <key> <value>")
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Printf("%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
	return nil
}
