package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/benaskins/keyhold/internal/api"
	"github.com/benaskins/keyhold/internal/audit"
	"github.com/benaskins/keyhold/internal/config"
	"github.com/benaskins/keyhold/internal/keychain"
)

// opener returns the store commands operate on, and a function releasing
// its resources.
type opener func(cfg config.Config, actor string, remote bool, opts ...keychain.Option) (keychain.Store, func() error, error)

// rotator is implemented by stores that can rotate a secret through a
// command.
type rotator interface {
	Rotate(ctx context.Context, key, command string) error
}

// metadataSource is implemented by stores that track secret metadata.
type metadataSource interface {
	Metadata() *keychain.MetadataStore
}

func noClose() error { return nil }

// openStore opens either the agent client or the audited local keychain.
func openStore(cfg config.Config, actor string, remote bool, opts ...keychain.Option) (keychain.Store, func() error, error) {
	if remote {
		return api.NewClient(cfg.Socket), noClose, nil
	}

	kc, err := cfg.NewKeychain(opts...)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range []string{cfg.AuditLog, cfg.MetadataPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return nil, nil, fmt.Errorf("creating %s: %w", filepath.Dir(p), err)
		}
	}
	auditLog, err := audit.NewLogger(cfg.AuditLog, cfg.AuditMaxSizeMB)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit log: %w", err)
	}
	meta, err := keychain.NewMetadataStore(cfg.MetadataPath)
	if err != nil {
		auditLog.Close()
		return nil, nil, err
	}
	scope := keychain.Scope{Service: cfg.Service, AccessGroup: cfg.AccessGroup}
	return keychain.NewAuditedStore(kc, auditLog, meta, scope, actor), auditLog.Close, nil
}
