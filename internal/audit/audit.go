// Package audit provides append-only structured logging for secret operations.
//
// Every store access (read, write, delete, list, clear, rotate) is
// recorded to an audit log at ~/.keyhold/audit.log as newline-delimited
// JSON. The file is rotated by size.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Action describes what happened.
type Action string

const (
	ActionSecretRead   Action = "secret_read"
	ActionSecretWrite  Action = "secret_write"
	ActionSecretDelete Action = "secret_delete"
	ActionSecretList   Action = "secret_list"
	ActionSecretClear  Action = "secret_clear"
	ActionSecretRotate Action = "secret_rotate"
)

// DefaultMaxSizeMB is the audit log size that triggers rotation.
const DefaultMaxSizeMB = 10

// Entry is a single audit log record.
type Entry struct {
	Timestamp   time.Time `json:"ts"`
	Action      Action    `json:"action"`
	Key         string    `json:"key,omitempty"`
	Service     string    `json:"service"`
	AccessGroup string    `json:"access_group,omitempty"`
	Actor       string    `json:"actor,omitempty"`   // "cli", "agent"
	Trigger     string    `json:"trigger,omitempty"` // "manual", "api", "hook"
	Command     string    `json:"command,omitempty"` // rotation command if applicable
	Error       string    `json:"error,omitempty"`
}

// Logger writes audit entries to an append-only, size-rotated file.
type Logger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// NewLogger opens an audit log for appending. The file is created with
// mode 0600 on first write. maxSizeMB <= 0 uses DefaultMaxSizeMB.
func NewLogger(path string, maxSizeMB int) (*Logger, error) {
	if path == "" {
		return nil, fmt.Errorf("opening audit log: empty path")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	return &Logger{out: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 5,
		Compress:   true,
	}}, nil
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	return l.out.Close()
}
