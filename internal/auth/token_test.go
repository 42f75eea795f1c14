// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth tests cover token persistence:
// - Round trip through the on-disk file
// - 0600 file permissions
// - Concurrent access safety
package auth

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestTokenStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	s := NewTokenStore(path)
	require.Empty(t, s.AccessToken(), "fresh store must be unauthenticated")

	require.NoError(t, s.Save("access-abc", "refresh-xyz"))
	require.Equal(t, "access-abc", s.AccessToken())

	info, err := os.Stat(path)
	require.NoError(t, err)
	// SECURITY: token file must stay owner-only.
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A new store picks up the persisted token.
	reopened := NewTokenStore(path)
	require.Equal(t, "access-abc", reopened.AccessToken())
	require.Equal(t, "refresh-xyz", reopened.RefreshToken())
}

func TestTokenStore_RejectsEmptyAccessToken(t *testing.T) {
	s := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	require.Error(t, s.Save("", "refresh"))
}

func TestTokenStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	s := NewTokenStore(path)
	require.NoError(t, s.Save("access", ""))

	require.NoError(t, s.Clear())
	require.Empty(t, s.AccessToken(), "token survived Clear in memory")

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "token file survived Clear on disk")

	// Clearing an already-clear store is fine.
	require.NoError(t, s.Clear())

	require.Empty(t, NewTokenStore(path).AccessToken(), "cleared token reappeared on reload")
}

func TestTokenStore_IgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s := NewTokenStore(path)
	require.Empty(t, s.AccessToken(), "corrupt file must read as unauthenticated")
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

// TestTokenStore_ConcurrentAccess runs Save, Clear and readers together;
// must not race or panic.
func TestTokenStore_ConcurrentAccess(t *testing.T) {
	s := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Save("access", "refresh")
			_ = s.AccessToken()
			_ = s.RefreshToken()
			_ = s.Clear()
		}()
	}
	wg.Wait()
}
