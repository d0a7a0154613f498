package keychain

import (
	"bytes"
	"sync"
	"time"
)

// MemoryBackend is an in-memory implementation of Backend. It follows the
// credential store contract closely enough for tests and for ephemeral
// use: items are keyed by service, account and access group, duplicates
// are rejected on add, and match limits and return flags are honoured.
type MemoryBackend struct {
	mu    sync.RWMutex
	items []*memoryItem
	now   func() time.Time
}

type memoryItem struct {
	service       string
	account       string
	accessGroup   string
	label         string
	data          []byte
	accessible    string
	accessControl *AccessControl
	created       time.Time
	modified      time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{now: time.Now}
}

func (b *MemoryBackend) CopyMatching(query Query) (any, Status) {
	if !validClass(query) {
		return nil, StatusParam
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	matches := b.match(query)
	if len(matches) == 0 {
		return nil, StatusItemNotFound
	}

	all := query[MatchLimit] == MatchLimitAll
	wantData := query.bool(ReturnData)
	wantAttrs := query.bool(ReturnAttributes)

	switch {
	case wantData && all:
		// Returning data for more than one generic password is rejected
		// by the macOS Security framework.
		return nil, StatusParam
	case wantData && wantAttrs:
		attrs := matches[0].attributes()
		attrs.storage[ValueData] = bytes.Clone(matches[0].data)
		return attrs, StatusSuccess
	case wantData:
		return bytes.Clone(matches[0].data), StatusSuccess
	case wantAttrs && all:
		result := make([]Attributes, 0, len(matches))
		for _, it := range matches {
			result = append(result, it.attributes())
		}
		return result, StatusSuccess
	case wantAttrs:
		return matches[0].attributes(), StatusSuccess
	}
	return nil, StatusSuccess
}

func (b *MemoryBackend) Add(query Query) Status {
	if !validClass(query) {
		return StatusParam
	}
	_, hasAccessible := query[AttrAccessible]
	ac, hasAccessControl := query[AttrAccessControl].(AccessControl)
	if hasAccessible && hasAccessControl {
		return StatusParam
	}

	service, _ := query.string(AttrService)
	account, _ := query.string(AttrAccount)
	group, _ := query.string(AttrAccessGroup)
	label, _ := query.string(AttrLabel)
	accessible, _ := query.string(AttrAccessible)
	data, _ := query[ValueData].([]byte)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, it := range b.items {
		if it.service == service && it.account == account && it.accessGroup == group {
			return StatusDuplicateItem
		}
	}

	now := b.now()
	it := &memoryItem{
		service:     service,
		account:     account,
		accessGroup: group,
		label:       label,
		data:        bytes.Clone(data),
		accessible:  accessible,
		created:     now,
		modified:    now,
	}
	if hasAccessControl {
		it.accessControl = &ac
		it.accessible = ac.Accessibility.Raw()
	}
	b.items = append(b.items, it)
	return StatusSuccess
}

func (b *MemoryBackend) Update(query, attributes Query) Status {
	if !validClass(query) {
		return StatusParam
	}
	if _, ok := attributes[AttrClass]; ok {
		return StatusParam
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	matches := b.match(query)
	if len(matches) == 0 {
		return StatusItemNotFound
	}

	now := b.now()
	for _, it := range matches {
		if data, ok := attributes[ValueData].([]byte); ok {
			it.data = bytes.Clone(data)
		}
		if label, ok := attributes.string(AttrLabel); ok {
			it.label = label
		}
		it.modified = now
	}
	return StatusSuccess
}

func (b *MemoryBackend) Delete(query Query) Status {
	if !validClass(query) {
		return StatusParam
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.items[:0]
	removed := 0
	for _, it := range b.items {
		if it.matches(query) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	b.items = kept
	if removed == 0 {
		return StatusItemNotFound
	}
	return StatusSuccess
}

// Len returns the number of stored items.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

func (b *MemoryBackend) match(query Query) []*memoryItem {
	var result []*memoryItem
	for _, it := range b.items {
		if it.matches(query) {
			result = append(result, it)
		}
	}
	return result
}

func (it *memoryItem) matches(query Query) bool {
	if s, ok := query.string(AttrService); ok && s != it.service {
		return false
	}
	if a, ok := query.string(AttrAccount); ok && a != it.account {
		return false
	}
	if g, ok := query.string(AttrAccessGroup); ok && g != it.accessGroup {
		return false
	}
	return true
}

func (it *memoryItem) attributes() Attributes {
	m := map[string]any{
		AttrClass:      ClassGenericPassword,
		AttrService:    it.service,
		AttrAccount:    it.account,
		AttrLabel:      it.label,
		AttrAccessible: it.accessible,
		AttrCreated:    it.created,
		AttrModified:   it.modified,
	}
	if it.accessGroup != "" {
		m[AttrAccessGroup] = it.accessGroup
	}
	if it.accessControl != nil {
		m[AttrAccessControl] = *it.accessControl
	}
	return NewAttributes(m)
}

func validClass(query Query) bool {
	c, ok := query.string(AttrClass)
	return ok && c == ClassGenericPassword
}
