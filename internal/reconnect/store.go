// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconnect persists the state needed to resume an interrupted
// streaming request across process restarts.
package reconnect

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Durable keys. The three reconnect keys are written and cleared together;
// a partially updated record must never be observable.
const (
	keySessionID = "reconnect_session_id"
	keyQuestion  = "reconnect_question"
	keyContextID = "reconnect_context_id"

	draftPrefix = "draft:"
)

// Record captures one in-flight request well enough to resume it: the
// backend's resumption token, the question being answered, and the context
// it was asked in.
type Record struct {
	SessionID string
	Question  string
	ContextID string
}

// =============================================================================
// STORE
// =============================================================================

// Store is a single-writer durable key/value store backed by SQLite.
// The dialog controller is the only writer; writes happen on session-id
// receipt and clears on terminal events, never partial updates.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Single connection; the store has one writer and SQLite locks whole
	// databases anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// RECONNECT RECORD
// =============================================================================

// SaveRecord writes all three reconnect keys in one transaction.
func (s *Store) SaveRecord(rec Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range map[string]string{
		keySessionID: rec.SessionID,
		keyQuestion:  rec.Question,
		keyContextID: rec.ContextID,
	} {
		if _, err := tx.Exec(
			`INSERT INTO kv(key, value) VALUES(?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadRecord reads the reconnect record. The second return is false when
// no record exists.
func (s *Store) LoadRecord() (Record, bool, error) {
	var rec Record
	found := 0
	for key, dst := range map[string]*string{
		keySessionID: &rec.SessionID,
		keyQuestion:  &rec.Question,
		keyContextID: &rec.ContextID,
	} {
		err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(dst)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			continue
		case err != nil:
			return Record{}, false, err
		default:
			found++
		}
	}
	// A torn record (some keys but not all) is treated as absent; writes
	// are transactional so this only happens after manual tampering.
	if found < 3 {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// ClearRecord removes the reconnect record. Clearing an absent record is
// a no-op, so the terminal-event path can clear unconditionally.
func (s *Store) ClearRecord() error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key IN (?, ?, ?)`,
		keySessionID, keyQuestion, keyContextID)
	return err
}

// =============================================================================
// PER-CONTEXT DRAFTS
// =============================================================================

// SaveDraft stores the unconfirmed outgoing question for a context.
func (s *Store) SaveDraft(contextID, question string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		draftPrefix+contextID, question,
	)
	return err
}

// LoadDraft returns the stored draft for a context, if any.
func (s *Store) LoadDraft(contextID string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, draftPrefix+contextID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// ClearDraft removes the draft for a context.
func (s *Store) ClearDraft(contextID string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, draftPrefix+contextID)
	return err
}
