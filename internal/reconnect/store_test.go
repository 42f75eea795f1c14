// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconnect

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// RECONNECT RECORD TESTS
// =============================================================================

func TestStore_RecordRoundTrip(t *testing.T) {
	store := openTestStore(t)

	want := Record{
		SessionID: "sess-abc",
		Question:  "what is the rated capacity?",
		ContextID: "ctx-1",
	}
	if err := store.SaveRecord(want); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	got, ok, err := store.LoadRecord()
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if !ok {
		t.Fatal("record should exist after save")
	}
	if got != want {
		t.Errorf("LoadRecord = %+v, want %+v", got, want)
	}
}

func TestStore_EmptyLoadReturnsAbsent(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.LoadRecord()
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if ok {
		t.Error("fresh store should have no record")
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := openTestStore(t)

	if err := store.SaveRecord(Record{SessionID: "old", Question: "q1", ContextID: "c1"}); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if err := store.SaveRecord(Record{SessionID: "new", Question: "q2", ContextID: "c2"}); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	got, ok, err := store.LoadRecord()
	if err != nil || !ok {
		t.Fatalf("LoadRecord: ok=%v err=%v", ok, err)
	}
	if got.SessionID != "new" || got.ContextID != "c2" {
		t.Errorf("got %+v, want the second record", got)
	}
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	if err := store.SaveRecord(Record{SessionID: "s", Question: "q", ContextID: "c"}); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if err := store.ClearRecord(); err != nil {
		t.Fatalf("ClearRecord: %v", err)
	}
	// Clearing again must not fail; the terminal path clears unconditionally.
	if err := store.ClearRecord(); err != nil {
		t.Fatalf("second ClearRecord: %v", err)
	}

	if _, ok, _ := store.LoadRecord(); ok {
		t.Error("record should be gone after clear")
	}
}

func TestStore_TornRecordTreatedAsAbsent(t *testing.T) {
	store := openTestStore(t)

	if err := store.SaveRecord(Record{SessionID: "s", Question: "q", ContextID: "c"}); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	// Simulate tampering: remove one of the three keys directly.
	if _, err := store.db.Exec(`DELETE FROM kv WHERE key = ?`, keyQuestion); err != nil {
		t.Fatalf("delete key: %v", err)
	}

	_, ok, err := store.LoadRecord()
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if ok {
		t.Error("a torn record must read as absent")
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.SaveRecord(Record{SessionID: "s", Question: "q", ContextID: "c"}); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.LoadRecord()
	if err != nil || !ok {
		t.Fatalf("LoadRecord after reopen: ok=%v err=%v", ok, err)
	}
	if got.SessionID != "s" {
		t.Errorf("SessionID = %q, want s", got.SessionID)
	}
}

// =============================================================================
// DRAFT TESTS
// =============================================================================

func TestStore_DraftRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if err := store.SaveDraft("ctx-1", "half-typed question"); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}

	got, ok, err := store.LoadDraft("ctx-1")
	if err != nil {
		t.Fatalf("LoadDraft: %v", err)
	}
	if !ok || got != "half-typed question" {
		t.Errorf("LoadDraft = (%q, %v), want the saved draft", got, ok)
	}

	// Drafts are per context.
	if _, ok, _ := store.LoadDraft("ctx-2"); ok {
		t.Error("another context must not see the draft")
	}
}

func TestStore_ClearDraft(t *testing.T) {
	store := openTestStore(t)

	if err := store.SaveDraft("ctx-1", "q"); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if err := store.ClearDraft("ctx-1"); err != nil {
		t.Fatalf("ClearDraft: %v", err)
	}
	if _, ok, _ := store.LoadDraft("ctx-1"); ok {
		t.Error("draft should be gone after clear")
	}
	// Idempotent.
	if err := store.ClearDraft("ctx-1"); err != nil {
		t.Fatalf("second ClearDraft: %v", err)
	}
}

func TestStore_DraftsDoNotCollideWithRecord(t *testing.T) {
	store := openTestStore(t)

	if err := store.SaveRecord(Record{SessionID: "s", Question: "q", ContextID: "c"}); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}
	if err := store.SaveDraft("c", "draft text"); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if err := store.ClearRecord(); err != nil {
		t.Fatalf("ClearRecord: %v", err)
	}

	got, ok, err := store.LoadDraft("c")
	if err != nil || !ok || got != "draft text" {
		t.Errorf("draft = (%q, %v, %v), should survive record clear", got, ok, err)
	}
}
