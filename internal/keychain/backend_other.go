//go:build !darwin

package keychain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/zalando/go-keyring"
)

// indexAccount holds the list of accounts per keyring service, because
// the OS keyring APIs have no portable enumeration.
const indexAccount = "__keyhold_index__"

// KeyringBackend maps the credential store contract onto the OS keyring
// (Secret Service on Linux, Credential Manager on Windows). The access
// group becomes a prefix of the keyring service name. Accessibility has
// no equivalent and is ignored; access control flags are rejected.
type KeyringBackend struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSystemBackend returns the OS keyring backend.
func NewSystemBackend() Backend {
	return NewKeyringBackend()
}

// NewKeyringBackend creates a backend over github.com/zalando/go-keyring.
func NewKeyringBackend() *KeyringBackend {
	return &KeyringBackend{logger: slog.With("component", "keychain", "backend", "keyring")}
}

func keyringService(q Query) (string, bool) {
	svc, ok := q.string(AttrService)
	if !ok || svc == "" {
		return "", false
	}
	if g, ok := q.string(AttrAccessGroup); ok && g != "" {
		return g + ":" + svc, true
	}
	return svc, true
}

func (b *KeyringBackend) CopyMatching(query Query) (any, Status) {
	if !validClass(query) {
		return nil, StatusParam
	}
	svc, ok := keyringService(query)
	if !ok {
		return nil, StatusParam
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	accounts, status := b.targets(svc, query)
	if status != StatusSuccess {
		return nil, status
	}

	all := query[MatchLimit] == MatchLimitAll
	wantData := query.bool(ReturnData)
	wantAttrs := query.bool(ReturnAttributes)
	if wantData && all {
		return nil, StatusParam
	}

	var found []Attributes
	var first []byte
	for _, acct := range accounts {
		data, status := b.get(svc, acct)
		if status == StatusItemNotFound {
			continue
		}
		if status != StatusSuccess {
			return nil, status
		}
		if len(found) == 0 {
			first = data
		}
		found = append(found, keyringAttributes(query, acct))
		if !all {
			break
		}
	}
	if len(found) == 0 {
		return nil, StatusItemNotFound
	}

	switch {
	case wantData && wantAttrs:
		found[0].storage[ValueData] = first
		return found[0], StatusSuccess
	case wantData:
		return first, StatusSuccess
	case wantAttrs && all:
		return found, StatusSuccess
	case wantAttrs:
		return found[0], StatusSuccess
	}
	return nil, StatusSuccess
}

func (b *KeyringBackend) Add(query Query) Status {
	if !validClass(query) {
		return StatusParam
	}
	if _, ok := query[AttrAccessControl]; ok {
		return StatusUnimplemented
	}
	svc, ok := keyringService(query)
	if !ok {
		return StatusParam
	}
	acct, ok := query.string(AttrAccount)
	if !ok || acct == "" || acct == indexAccount {
		return StatusParam
	}
	data, _ := query[ValueData].([]byte)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, status := b.get(svc, acct); status == StatusSuccess {
		return StatusDuplicateItem
	} else if status != StatusItemNotFound {
		return status
	}

	if status := b.set(svc, acct, data); status != StatusSuccess {
		return status
	}
	return b.updateIndex(svc, func(idx []string) []string {
		if !slices.Contains(idx, acct) {
			idx = append(idx, acct)
		}
		return idx
	})
}

func (b *KeyringBackend) Update(query, attributes Query) Status {
	if !validClass(query) {
		return StatusParam
	}
	svc, ok := keyringService(query)
	if !ok {
		return StatusParam
	}
	data, ok := attributes[ValueData].([]byte)
	if !ok {
		// Only the value can be stored in the OS keyring.
		return StatusSuccess
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	accounts, status := b.targets(svc, query)
	if status != StatusSuccess {
		return status
	}
	updated := 0
	for _, acct := range accounts {
		if _, status := b.get(svc, acct); status == StatusItemNotFound {
			continue
		} else if status != StatusSuccess {
			return status
		}
		if status := b.set(svc, acct, data); status != StatusSuccess {
			return status
		}
		updated++
	}
	if updated == 0 {
		return StatusItemNotFound
	}
	return StatusSuccess
}

func (b *KeyringBackend) Delete(query Query) Status {
	if !validClass(query) {
		return StatusParam
	}
	svc, ok := keyringService(query)
	if !ok {
		return StatusParam
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	accounts, status := b.targets(svc, query)
	if status != StatusSuccess {
		return status
	}
	var removed []string
	for _, acct := range accounts {
		err := keyring.Delete(svc, acct)
		if errors.Is(err, keyring.ErrNotFound) {
			continue
		}
		if err != nil {
			return b.status(err)
		}
		removed = append(removed, acct)
	}
	if len(removed) == 0 {
		return StatusItemNotFound
	}
	return b.updateIndex(svc, func(idx []string) []string {
		return slices.DeleteFunc(idx, func(a string) bool { return slices.Contains(removed, a) })
	})
}

// targets returns the single account named by the query, or every indexed
// account when the query names none. The index account is never a target.
func (b *KeyringBackend) targets(svc string, query Query) ([]string, Status) {
	if acct, ok := query.string(AttrAccount); ok {
		if acct == indexAccount {
			return nil, StatusParam
		}
		return []string{acct}, StatusSuccess
	}
	return b.loadIndex(svc)
}

func (b *KeyringBackend) get(svc, acct string) ([]byte, Status) {
	encoded, err := keyring.Get(svc, acct)
	if err != nil {
		return nil, b.status(err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, StatusDecode
	}
	return data, StatusSuccess
}

func (b *KeyringBackend) set(svc, acct string, data []byte) Status {
	return b.status(keyring.Set(svc, acct, base64.StdEncoding.EncodeToString(data)))
}

func (b *KeyringBackend) loadIndex(svc string) ([]string, Status) {
	raw, err := keyring.Get(svc, indexAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, StatusSuccess
	}
	if err != nil {
		return nil, b.status(err)
	}
	var idx []string
	if err := json.Unmarshal([]byte(raw), &idx); err != nil {
		b.logger.Warn("corrupt keyring index, ignoring", "service", svc, "error", err)
		return nil, StatusSuccess
	}
	return idx, StatusSuccess
}

func (b *KeyringBackend) updateIndex(svc string, fn func([]string) []string) Status {
	idx, status := b.loadIndex(svc)
	if status != StatusSuccess {
		return status
	}
	idx = fn(idx)
	if len(idx) == 0 {
		err := keyring.Delete(svc, indexAccount)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return b.status(err)
		}
		return StatusSuccess
	}
	raw, err := json.Marshal(idx)
	if err != nil {
		return StatusParam
	}
	return b.status(keyring.Set(svc, indexAccount, string(raw)))
}

func (b *KeyringBackend) status(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, keyring.ErrNotFound):
		return StatusItemNotFound
	case errors.Is(err, keyring.ErrSetDataTooBig):
		return StatusParam
	}
	b.logger.Warn("keyring unavailable", "error", err)
	return StatusNotAvailable
}

func keyringAttributes(query Query, acct string) Attributes {
	svc, _ := query.string(AttrService)
	m := map[string]any{
		AttrClass:   ClassGenericPassword,
		AttrService: svc,
		AttrAccount: acct,
	}
	if g, ok := query.string(AttrAccessGroup); ok && g != "" {
		m[AttrAccessGroup] = g
	}
	return NewAttributes(m)
}
