package keychain

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benaskins/keyhold/internal/audit"
)

func setupAuditedStore(t *testing.T) (*AuditedStore, string) {
	t.Helper()
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	metaPath := filepath.Join(dir, "secret-metadata.json")

	auditLog, err := audit.NewLogger(auditPath, 0)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	meta, err := NewMetadataStore(metaPath)
	if err != nil {
		t.Fatalf("NewMetadataStore: %v", err)
	}

	inner := testKeychain(WithAccessGroup("team.shared"))
	store := NewAuditedStore(inner, auditLog, meta, Scope{Service: "com.keyhold.test", AccessGroup: "team.shared"}, "cli")

	return store, auditPath
}

func readAuditEntries(t *testing.T, path string) []audit.Entry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	entries := make([]audit.Entry, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var e audit.Entry
		json.Unmarshal([]byte(line), &e)
		entries = append(entries, e)
	}
	return entries
}

func TestAuditedStoreSetLogsWrite(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("test/key", "value")

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != audit.ActionSecretWrite {
		t.Errorf("expected secret_write, got %v", entries[0].Action)
	}
	if entries[0].Key != "test/key" {
		t.Errorf("expected test/key, got %q", entries[0].Key)
	}
	if entries[0].Actor != "cli" {
		t.Errorf("expected cli, got %q", entries[0].Actor)
	}
	if entries[0].Service != "com.keyhold.test" || entries[0].AccessGroup != "team.shared" {
		t.Errorf("unexpected scope %q / %q", entries[0].Service, entries[0].AccessGroup)
	}
}

func TestAuditedStoreSetTracksMetadata(t *testing.T) {
	store, _ := setupAuditedStore(t)

	store.Set("test/meta", "v1")
	first := store.Metadata().Get("test/meta")
	if first == nil || first.CreatedAt.IsZero() {
		t.Fatal("expected created_at after first write")
	}

	store.Set("test/meta", "v2")
	second := store.Metadata().Get("test/meta")
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("created_at changed on overwrite")
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Error("updated_at went backwards")
	}
}

func TestAuditedStoreGetLogsRead(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("test/get", "val")
	store.Get("test/get")

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Action != audit.ActionSecretRead {
		t.Errorf("expected secret_read, got %v", entries[1].Action)
	}
}

func TestAuditedStoreGetMissingPreservesCode(t *testing.T) {
	store, _ := setupAuditedStore(t)

	_, err := store.Get("test/missing")
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestAuditedStoreDeleteLogsDelete(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("test/del", "val")
	store.Delete("test/del")

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Action != audit.ActionSecretDelete {
		t.Errorf("expected secret_delete, got %v", entries[1].Action)
	}
	if store.Metadata().Get("test/del") != nil {
		t.Error("expected metadata removed")
	}
}

func TestAuditedStoreClear(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("test/a", "1")
	store.Set("test/b", "2")
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	keys, _ := store.List()
	if len(keys) != 0 {
		t.Errorf("expected empty, got %v", keys)
	}
	if len(store.Metadata().All()) != 0 {
		t.Error("expected metadata reset")
	}

	entries := filterEntries(readAuditEntries(t, auditPath), audit.ActionSecretClear)
	if len(entries) != 1 {
		t.Fatalf("expected 1 clear entry, got %d", len(entries))
	}
}

func TestAuditedStoreGetVia(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("chat/db-url", "postgres://...")
	store.GetVia("chat/db-url", "api")

	entries := readAuditEntries(t, auditPath)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Trigger != "api" {
		t.Errorf("expected trigger api, got %q", entries[1].Trigger)
	}
}

func TestAuditedStoreRotate(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("test/rotate", "old-value")

	err := store.Rotate(context.Background(), "test/rotate", "echo new-value")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	val, err := store.Get("test/rotate")
	if err != nil {
		t.Fatalf("Get after rotate: %v", err)
	}
	if val != "new-value" {
		t.Errorf("expected 'new-value', got %q", val)
	}

	entries := readAuditEntries(t, auditPath)
	rotateEntries := filterEntries(entries, audit.ActionSecretRotate)
	if len(rotateEntries) != 1 {
		t.Fatalf("expected 1 rotate entry, got %d", len(rotateEntries))
	}
	if rotateEntries[0].Command != "echo new-value" {
		t.Errorf("expected command 'echo new-value', got %q", rotateEntries[0].Command)
	}
	if rotateEntries[0].AccessGroup != "team.shared" || rotateEntries[0].Actor != "cli" {
		t.Errorf("expected scope and actor on rotate entry, got %+v", rotateEntries[0])
	}

	meta := store.Metadata().Get("test/rotate")
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if meta.LastRotated.IsZero() {
		t.Error("expected LastRotated to be set")
	}
}

func TestAuditedStoreRotateFailure(t *testing.T) {
	store, auditPath := setupAuditedStore(t)

	store.Set("test/rotate-fail", "original")

	err := store.Rotate(context.Background(), "test/rotate-fail", "exit 1")
	if err == nil {
		t.Error("expected error from failing rotation command")
	}

	val, _ := store.Get("test/rotate-fail")
	if val != "original" {
		t.Errorf("expected original value preserved, got %q", val)
	}

	entries := readAuditEntries(t, auditPath)
	rotateEntries := filterEntries(entries, audit.ActionSecretRotate)
	if len(rotateEntries) != 1 {
		t.Fatalf("expected 1 rotate entry, got %d", len(rotateEntries))
	}
	if rotateEntries[0].Error == "" {
		t.Error("expected error in audit entry")
	}
}

func TestAuditedStoreRotateStoreFailure(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	auditLog, err := audit.NewLogger(auditPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { auditLog.Close() })
	meta, err := NewMetadataStore(filepath.Join(dir, "secret-metadata.json"))
	if err != nil {
		t.Fatal(err)
	}

	backend := &stubBackend{addStatus: StatusInteractionNotAllowed}
	inner := New("com.keyhold.test", WithBackend(backend))
	store := NewAuditedStore(inner, auditLog, meta, Scope{Service: "com.keyhold.test", AccessGroup: "team.shared"}, "agent")

	err = store.Rotate(context.Background(), "test/locked", "echo new-value")
	if !errors.Is(err, ErrInteractionNotAllowed) {
		t.Fatalf("expected ErrInteractionNotAllowed, got %v", err)
	}

	rotateEntries := filterEntries(readAuditEntries(t, auditPath), audit.ActionSecretRotate)
	if len(rotateEntries) != 1 {
		t.Fatalf("expected 1 rotate entry, got %d", len(rotateEntries))
	}
	e := rotateEntries[0]
	if e.Error == "" || e.Command != "echo new-value" || e.AccessGroup != "team.shared" {
		t.Errorf("unexpected rotate entry %+v", e)
	}
	if store.Metadata().Get("test/locked") != nil {
		t.Error("expected no metadata for a failed rotation")
	}
}

func TestAuditedStoreRotateEmptyOutput(t *testing.T) {
	store, _ := setupAuditedStore(t)
	store.Set("test/rotate-empty", "original")

	if err := store.Rotate(context.Background(), "test/rotate-empty", "true"); err == nil {
		t.Error("expected error when the command prints nothing")
	}
}

func TestMetadataStorePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")

	ms1, _ := NewMetadataStore(path)
	ms1.Set("key1", &SecretMetadata{RotateEvery: "30d"})

	ms2, _ := NewMetadataStore(path)
	meta := ms2.Get("key1")
	if meta == nil {
		t.Fatal("expected metadata after reload")
	}
	if meta.RotateEvery != "30d" {
		t.Errorf("expected 30d, got %q", meta.RotateEvery)
	}
}

func TestMetadataStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	ms, err := NewMetadataStore(path)
	if err != nil {
		t.Fatalf("NewMetadataStore: %v", err)
	}
	if len(ms.All()) != 0 {
		t.Error("expected fresh metadata")
	}
}

func filterEntries(entries []audit.Entry, action audit.Action) []audit.Entry {
	var result []audit.Entry
	for _, e := range entries {
		if e.Action == action {
			result = append(result, e)
		}
	}
	return result
}
