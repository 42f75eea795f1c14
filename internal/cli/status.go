// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Backend status command handler for the kbchat CLI.
//
// Reports server reachability, index readiness, available documentation
// versions, and whether a login token is stored locally.

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// statusReport is the --json output shape.
type statusReport struct {
	Server          string   `json:"server"`
	Reachable       bool     `json:"reachable"`
	Status          string   `json:"status,omitempty"`
	DocumentsLoaded int      `json:"documents_loaded,omitempty"`
	VectorDBReady   bool     `json:"vector_db_ready,omitempty"`
	Versions        []string `json:"versions,omitempty"`
	DefaultVersion  string   `json:"default_version,omitempty"`
	LoggedIn        bool     `json:"logged_in"`
	Error           string   `json:"error,omitempty"`
}

// HandleStatus reports backend health and local auth state.
func HandleStatus(args Args) error {
	app, err := BuildApp(args)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report := statusReport{
		Server:   app.Cfg.Server.BaseURL,
		LoggedIn: app.Tokens.AccessToken() != "",
	}

	health, err := app.Client.GetHealth(ctx)
	if err != nil {
		report.Error = err.Error()
	} else {
		report.Reachable = true
		report.Status = health.Status
		report.DocumentsLoaded = health.DocumentsLoaded
		report.VectorDBReady = health.VectorDBInitialized
	}

	// Version list is informative only; a failure here does not make the
	// backend unhealthy.
	if report.Reachable {
		if rules, err := app.Client.GetFilterRules(ctx); err == nil {
			for v := range rules.Versions {
				report.Versions = append(report.Versions, v)
			}
			sort.Strings(report.Versions)
			report.DefaultVersion = rules.Default
		}
	}

	if args.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Println(TitleStyle.Render("kbchat status"))
	fmt.Printf("%s %s\n", RenderLabel("Server"), ValueStyle.Render(report.Server))

	if !report.Reachable {
		fmt.Printf("%s %s %s\n", RenderLabel("Backend"), RenderStatus("unreachable"),
			DimStyle.Render(report.Error))
		return nil
	}

	fmt.Printf("%s %s\n", RenderLabel("Backend"), RenderStatus(report.Status))
	fmt.Printf("%s %d\n", RenderLabel("Documents"), report.DocumentsLoaded)
	vectorState := "warn"
	if report.VectorDBReady {
		vectorState = "ok"
	}
	fmt.Printf("%s %s\n", RenderLabel("Vector index"), RenderStatus(vectorState))

	if len(report.Versions) > 0 {
		for _, v := range report.Versions {
			marker := ""
			if v == report.DefaultVersion {
				marker = DimStyle.Render(" (default)")
			}
			fmt.Printf("%s %s%s\n", RenderLabel("Docs version"), ValueStyle.Render(v), marker)
		}
	}

	authState := "warn"
	if report.LoggedIn {
		authState = "ok"
	}
	fmt.Printf("%s %s\n", RenderLabel("Login token"), RenderStatus(authState))
	if !report.LoggedIn {
		fmt.Println(DimStyle.Render("Run `kbchat login` if the server requires authentication."))
	}
	return nil
}
