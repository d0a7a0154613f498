package keychain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benaskins/keyhold/internal/audit"
)

// SecretMetadata tracks write and rotation info for a secret. Values are
// never recorded.
type SecretMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	LastRotated time.Time `json:"last_rotated,omitempty"`
	RotateEvery string    `json:"rotate_every,omitempty"`
}

// MetadataStore persists secret metadata to a JSON file.
type MetadataStore struct {
	mu       sync.RWMutex
	path     string
	metadata map[string]*SecretMetadata
}

// NewMetadataStore loads or creates a metadata file.
func NewMetadataStore(path string) (*MetadataStore, error) {
	ms := &MetadataStore{
		path:     path,
		metadata: make(map[string]*SecretMetadata),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &ms.metadata); jsonErr != nil {
			slog.Warn("corrupt metadata file, starting fresh", "path", path, "error", jsonErr)
			ms.metadata = make(map[string]*SecretMetadata)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	return ms, nil
}

// Get returns a copy of the metadata for a key, or nil if not tracked.
func (ms *MetadataStore) Get(key string) *SecretMetadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.metadata[key]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Set records metadata for a key and persists to disk.
func (ms *MetadataStore) Set(key string, meta *SecretMetadata) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.metadata[key] = meta
	return ms.save()
}

// Delete removes metadata for a key.
func (ms *MetadataStore) Delete(key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.metadata, key)
	return ms.save()
}

// Reset removes all metadata.
func (ms *MetadataStore) Reset() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.metadata = make(map[string]*SecretMetadata)
	return ms.save()
}

// All returns copies of all metadata entries.
func (ms *MetadataStore) All() map[string]*SecretMetadata {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make(map[string]*SecretMetadata, len(ms.metadata))
	for k, v := range ms.metadata {
		cp := *v
		result[k] = &cp
	}
	return result
}

func (ms *MetadataStore) save() error {
	data, err := json.MarshalIndent(ms.metadata, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := ms.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, ms.path)
}

// Scope names the service and access group an AuditedStore writes to, for
// audit records.
type Scope struct {
	Service     string
	AccessGroup string
}

// AuditedStore wraps a Store and adds audit logging and metadata tracking.
type AuditedStore struct {
	inner    Store
	audit    *audit.Logger
	metadata *MetadataStore
	scope    Scope
	actor    string // "cli" or "agent"
	now      func() time.Time
}

var _ Store = (*AuditedStore)(nil)

// NewAuditedStore wraps an existing store with audit logging.
func NewAuditedStore(inner Store, auditLog *audit.Logger, metadata *MetadataStore, scope Scope, actor string) *AuditedStore {
	return &AuditedStore{
		inner:    inner,
		audit:    auditLog,
		metadata: metadata,
		scope:    scope,
		actor:    actor,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuditedStore) log(action audit.Action, key, trigger string, err error) {
	s.record(audit.Entry{Action: action, Key: key, Trigger: trigger}, err)
}

// record fills in scope and actor and writes the entry.
func (s *AuditedStore) record(e audit.Entry, err error) {
	e.Service = s.scope.Service
	e.AccessGroup = s.scope.AccessGroup
	e.Actor = s.actor
	if err != nil {
		e.Error = err.Error()
	}
	// Audit logging is best-effort; a failure to log does not block the operation.
	if logErr := s.audit.Log(e); logErr != nil {
		slog.Warn("audit log write failed", "action", e.Action, "error", logErr)
	}
}

func (s *AuditedStore) touch(key string) error {
	now := s.now()
	meta := s.metadata.Get(key)
	if meta == nil {
		meta = &SecretMetadata{CreatedAt: now}
	}
	meta.UpdatedAt = now
	if err := s.metadata.Set(key, meta); err != nil {
		return fmt.Errorf("saving metadata: %w", err)
	}
	return nil
}

func (s *AuditedStore) Set(key, value string) error {
	if err := s.inner.Set(key, value); err != nil {
		s.log(audit.ActionSecretWrite, key, "", err)
		return fmt.Errorf("audited store set: %w", err)
	}
	s.log(audit.ActionSecretWrite, key, "", nil)
	return s.touch(key)
}

func (s *AuditedStore) SetData(key string, data []byte) error {
	if err := s.inner.SetData(key, data); err != nil {
		s.log(audit.ActionSecretWrite, key, "", err)
		return fmt.Errorf("audited store set: %w", err)
	}
	s.log(audit.ActionSecretWrite, key, "", nil)
	return s.touch(key)
}

func (s *AuditedStore) Get(key string) (string, error) {
	val, err := s.inner.Get(key)
	if err != nil {
		return "", fmt.Errorf("audited store get: %w", err)
	}
	s.log(audit.ActionSecretRead, key, "", nil)
	return val, nil
}

func (s *AuditedStore) Data(key string) ([]byte, error) {
	data, err := s.inner.Data(key)
	if err != nil {
		return nil, fmt.Errorf("audited store get: %w", err)
	}
	s.log(audit.ActionSecretRead, key, "", nil)
	return data, nil
}

func (s *AuditedStore) List() ([]string, error) {
	keys, err := s.inner.List()
	if err != nil {
		return nil, fmt.Errorf("audited store list: %w", err)
	}
	s.log(audit.ActionSecretList, "", "", nil)
	return keys, nil
}

func (s *AuditedStore) Exists(key string) (bool, error) {
	return s.inner.Exists(key)
}

func (s *AuditedStore) Delete(key string) error {
	if err := s.inner.Delete(key); err != nil {
		s.log(audit.ActionSecretDelete, key, "", err)
		return fmt.Errorf("audited store delete: %w", err)
	}
	s.log(audit.ActionSecretDelete, key, "", nil)

	if err := s.metadata.Delete(key); err != nil {
		return fmt.Errorf("deleting metadata: %w", err)
	}
	return nil
}

func (s *AuditedStore) GetMultiple(keys []string) (map[string]string, error) {
	result, err := s.inner.GetMultiple(keys)
	if err != nil {
		return nil, fmt.Errorf("audited store get multiple: %w", err)
	}
	for key := range result {
		s.log(audit.ActionSecretRead, key, "", nil)
	}
	return result, nil
}

func (s *AuditedStore) Clear() error {
	if err := s.inner.Clear(); err != nil {
		s.log(audit.ActionSecretClear, "", "", err)
		return fmt.Errorf("audited store clear: %w", err)
	}
	s.log(audit.ActionSecretClear, "", "", nil)
	if err := s.metadata.Reset(); err != nil {
		return fmt.Errorf("resetting metadata: %w", err)
	}
	return nil
}

// GetVia retrieves a secret and records how the read was triggered
// (e.g. "api").
func (s *AuditedStore) GetVia(key, trigger string) (string, error) {
	val, err := s.inner.Get(key)
	if err != nil {
		return "", fmt.Errorf("audited store get: %w", err)
	}
	s.log(audit.ActionSecretRead, key, trigger, nil)
	return val, nil
}

// Rotate runs a rotation command, captures its output, stores the new value,
// and logs the rotation. On failure the old value is kept.
func (s *AuditedStore) Rotate(ctx context.Context, key, command string) error {
	entry := audit.Entry{
		Action:  audit.ActionSecretRotate,
		Key:     key,
		Trigger: "hook",
		Command: command,
	}

	output, err := runRotationCommand(ctx, command)
	if err != nil {
		s.record(entry, err)
		return fmt.Errorf("rotation command failed: %w", err)
	}

	if err := s.inner.Set(key, output); err != nil {
		s.record(entry, err)
		return fmt.Errorf("storing rotated secret: %w", err)
	}
	s.record(entry, nil)

	now := s.now()
	meta := s.metadata.Get(key)
	if meta == nil {
		meta = &SecretMetadata{CreatedAt: now}
	}
	meta.UpdatedAt = now
	meta.LastRotated = now
	if err := s.metadata.Set(key, meta); err != nil {
		return fmt.Errorf("saving rotation metadata: %w", err)
	}
	return nil
}

// Metadata returns the metadata store for direct access.
func (s *AuditedStore) Metadata() *MetadataStore {
	return s.metadata
}
