// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Shared bootstrap for CLI commands.
package cli

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/auth"
	"github.com/jeranaias/kbchat-tui/internal/config"
	"github.com/jeranaias/kbchat-tui/internal/dialog"
	"github.com/jeranaias/kbchat-tui/internal/logging"
	"github.com/jeranaias/kbchat-tui/internal/reconnect"
	"github.com/jeranaias/kbchat-tui/internal/registry"
)

// App bundles the wired components every command needs. Close releases
// the log and the state store.
type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	Tokens   *auth.TokenStore
	Client   *api.Client
	Registry *registry.Registry
	Store    *reconnect.Store
	Ctrl     *dialog.Controller
}

// BuildApp loads config and wires the client stack. Commands that only
// need the API client may ignore the controller.
func BuildApp(args Args) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// CLI flag overrides beat both file and environment.
	if args.Sources != "" {
		var active []string
		for _, s := range strings.Split(args.Sources, ",") {
			if s = strings.TrimSpace(s); s != "" {
				active = append(active, s)
			}
		}
		cfg.Query.ActiveSources = active
	}
	if args.WebSearch {
		cfg.Query.WebSearchActive = true
	}

	logPath, err := cfg.LogPath()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logPath, cfg.Log.Level)
	if err != nil {
		// A broken log path should not keep the client from working.
		log = zap.NewNop()
	}

	tokenPath, err := cfg.TokenPath()
	if err != nil {
		return nil, err
	}
	tokens := auth.NewTokenStore(tokenPath)

	client := api.NewClient(cfg.Server.BaseURL, tokens.AccessToken, log)
	reg := registry.New(client, log)

	statePath, err := config.StatePath()
	if err != nil {
		return nil, err
	}
	store, err := reconnect.Open(statePath)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	ctrl := dialog.NewController(client, reg, store, log)
	ctrl.SetOptionsFunc(func() dialog.QueryOptions {
		return dialog.QueryOptions{
			ActiveSources:   cfg.Query.ActiveSources,
			WebSearchActive: cfg.Query.WebSearchActive,
		}
	})
	reg.SetBusyFunc(ctrl.IsBusy)

	return &App{
		Cfg:      cfg,
		Log:      log,
		Tokens:   tokens,
		Client:   client,
		Registry: reg,
		Store:    store,
		Ctrl:     ctrl,
	}, nil
}

// Close flushes the log and closes the state store.
func (a *App) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Log != nil {
		_ = a.Log.Sync()
	}
}
