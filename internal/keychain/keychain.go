// Package keychain provides secret storage backed by the platform
// credential store (macOS Keychain, or the OS keyring elsewhere).
//
// Secrets are stored as generic passwords with:
//   - Service: the logical namespace (e.g. "com.keyhold")
//   - Account: the secret key (e.g. "chat/database-url")
//   - Access group: optional sharing scope across applications
//   - Label: "<service>: <key>" (for Keychain Access.app visibility)
//
// A Keychain only builds attribute dictionaries and interprets status
// codes. Storage, encryption and access enforcement are done by the
// Backend, which exposes the four platform entry points.
package keychain

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Backend is the platform secure storage API: SecItemCopyMatching,
// SecItemAdd, SecItemUpdate and SecItemDelete.
//
// CopyMatching returns []byte when the query asks for data with a match
// limit of one, Attributes for attributes with a limit of one, and
// []Attributes for attributes with a limit of all.
type Backend interface {
	CopyMatching(query Query) (any, Status)
	Add(query Query) Status
	Update(query, attributes Query) Status
	Delete(query Query) Status
}

// Keychain reads and writes generic password items for one service and
// optional access group.
type Keychain struct {
	service       string
	accessGroup   string
	accessibility Accessibility
	accessControl AccessControlFlags
	backend       Backend
	logger        *slog.Logger
}

// Option configures a Keychain.
type Option func(*Keychain)

// WithAccessGroup scopes items to a shared access group.
func WithAccessGroup(group string) Option {
	return func(k *Keychain) { k.accessGroup = group }
}

// WithAccessibility sets the accessibility of newly added items.
func WithAccessibility(a Accessibility) Option {
	return func(k *Keychain) { k.accessibility = a }
}

// WithAccessControl attaches access control flags to newly added items.
func WithAccessControl(flags AccessControlFlags) Option {
	return func(k *Keychain) { k.accessControl = flags }
}

// WithBackend replaces the platform backend.
func WithBackend(b Backend) Option {
	return func(k *Keychain) { k.backend = b }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keychain) { k.logger = l }
}

// New creates a Keychain for service. An empty service defaults to the
// executable name. Without WithBackend the platform backend is used.
func New(service string, opts ...Option) *Keychain {
	if service == "" {
		service = defaultService()
	}
	k := &Keychain{
		service:       service,
		accessibility: AfterFirstUnlock,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.backend == nil {
		k.backend = NewSystemBackend()
	}
	if k.logger == nil {
		k.logger = slog.With("component", "keychain")
	}
	return k
}

func defaultService() string {
	exe, err := os.Executable()
	if err != nil {
		return "keyhold"
	}
	return filepath.Base(exe)
}

func (k *Keychain) Service() string                   { return k.service }
func (k *Keychain) AccessGroup() string               { return k.accessGroup }
func (k *Keychain) Accessibility() Accessibility      { return k.accessibility }
func (k *Keychain) AccessControl() AccessControlFlags { return k.accessControl }
