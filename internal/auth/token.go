// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth stores the knowledge-base access token on disk and hands
// it to the API client.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/util"
)

// storedToken is the on-disk shape at ~/.kbchat/token.json.
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// TokenStore is a file-backed access token holder. The file is written
// with 0600 permissions; a missing file means unauthenticated, which is
// not an error.
type TokenStore struct {
	mu   sync.RWMutex
	path string
	tok  storedToken
}

// NewTokenStore loads any existing token from path. A missing or
// unreadable file yields an empty store.
func NewTokenStore(path string) *TokenStore {
	s := &TokenStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var tok storedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return s
	}
	s.tok = tok
	return s
}

// AccessToken returns the current access token ("" = unauthenticated).
// Satisfies api.TokenSource.
func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok.AccessToken
}

// RefreshToken returns the stored refresh token, if any.
func (s *TokenStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok.RefreshToken
}

// Save persists a new token pair.
// SECURITY: Token file is written with 0600 permissions (owner only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func (s *TokenStore) Save(accessToken, refreshToken string) error {
	if accessToken == "" {
		return errors.New("access token must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok := storedToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SavedAt:      time.Now().UTC(),
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	s.tok = tok
	return nil
}

// Clear removes the token from memory and disk.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tok = storedToken{}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
