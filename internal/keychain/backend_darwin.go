//go:build darwin

package keychain

import (
	"errors"
	"log/slog"

	gokeychain "github.com/keybase/go-keychain"
)

// SystemBackend calls the macOS Security framework through go-keychain.
type SystemBackend struct {
	logger *slog.Logger
}

// NewSystemBackend returns the macOS Keychain backend.
func NewSystemBackend() Backend {
	return &SystemBackend{logger: slog.With("component", "keychain", "backend", "system")}
}

var toGoAccessible = map[Accessibility]gokeychain.Accessible{
	WhenUnlocked:                   gokeychain.AccessibleWhenUnlocked,
	WhenUnlockedThisDeviceOnly:     gokeychain.AccessibleWhenUnlockedThisDeviceOnly,
	AfterFirstUnlock:               gokeychain.AccessibleAfterFirstUnlock,
	AfterFirstUnlockThisDeviceOnly: gokeychain.AccessibleAfterFirstUnlockThisDeviceOnly,
	WhenPasscodeSetThisDeviceOnly:  gokeychain.AccessibleWhenPasscodeSetThisDeviceOnly,
}

// toItem translates a Query into a go-keychain item. go-keychain has no
// binding for SecAccessControl, so queries carrying access control flags
// are reported as not implemented.
func toItem(q Query) (gokeychain.Item, Status) {
	item := gokeychain.NewItem()
	if !validClass(q) {
		return item, StatusParam
	}
	item.SetSecClass(gokeychain.SecClassGenericPassword)

	if _, ok := q[AttrAccessControl]; ok {
		return item, StatusUnimplemented
	}
	if s, ok := q.string(AttrService); ok {
		item.SetService(s)
	}
	if a, ok := q.string(AttrAccount); ok {
		item.SetAccount(a)
	}
	if g, ok := q.string(AttrAccessGroup); ok {
		item.SetAccessGroup(g)
	}
	if l, ok := q.string(AttrLabel); ok {
		item.SetLabel(l)
	}
	if d, ok := q[ValueData].([]byte); ok {
		item.SetData(d)
	}
	if raw, ok := q.string(AttrAccessible); ok {
		item.SetAccessible(toGoAccessible[AccessibilityFromRaw(raw)])
	}

	switch q[MatchLimit] {
	case MatchLimitOne:
		item.SetMatchLimit(gokeychain.MatchLimitOne)
	case MatchLimitAll:
		item.SetMatchLimit(gokeychain.MatchLimitAll)
	}
	if q.bool(ReturnData) {
		item.SetReturnData(true)
	}
	if q.bool(ReturnAttributes) {
		item.SetReturnAttributes(true)
	}
	return item, StatusSuccess
}

func (b *SystemBackend) CopyMatching(query Query) (any, Status) {
	item, status := toItem(query)
	if status != StatusSuccess {
		return nil, status
	}

	wantData := query.bool(ReturnData)
	wantAttrs := query.bool(ReturnAttributes)
	if !wantData && !wantAttrs {
		// go-keychain reports an empty result for a bare existence check,
		// so ask for attributes and discard them.
		item.SetReturnAttributes(true)
		item.SetMatchLimit(gokeychain.MatchLimitOne)
	}

	results, err := gokeychain.QueryItem(item)
	if err != nil {
		return nil, b.status(err)
	}
	if len(results) == 0 {
		return nil, StatusItemNotFound
	}

	switch {
	case wantData && wantAttrs:
		attrs := resultAttributes(results[0])
		attrs.storage[ValueData] = results[0].Data
		return attrs, StatusSuccess
	case wantData:
		return results[0].Data, StatusSuccess
	case wantAttrs && query[MatchLimit] == MatchLimitAll:
		out := make([]Attributes, 0, len(results))
		for _, r := range results {
			out = append(out, resultAttributes(r))
		}
		return out, StatusSuccess
	case wantAttrs:
		return resultAttributes(results[0]), StatusSuccess
	}
	return nil, StatusSuccess
}

func (b *SystemBackend) Add(query Query) Status {
	item, status := toItem(query)
	if status != StatusSuccess {
		return status
	}
	return b.status(gokeychain.AddItem(item))
}

func (b *SystemBackend) Update(query, attributes Query) Status {
	item, status := toItem(query)
	if status != StatusSuccess {
		return status
	}

	update := gokeychain.NewItem()
	if d, ok := attributes[ValueData].([]byte); ok {
		update.SetData(d)
	}
	if l, ok := attributes.string(AttrLabel); ok {
		update.SetLabel(l)
	}
	return b.status(gokeychain.UpdateItem(item, update))
}

func (b *SystemBackend) Delete(query Query) Status {
	item, status := toItem(query)
	if status != StatusSuccess {
		return status
	}
	return b.status(gokeychain.DeleteItem(item))
}

func (b *SystemBackend) status(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var kcErr gokeychain.Error
	if errors.As(err, &kcErr) {
		return Status(kcErr)
	}
	b.logger.Warn("keychain call failed without a status", "error", err)
	return StatusParam
}

func resultAttributes(r gokeychain.QueryResult) Attributes {
	m := map[string]any{
		AttrClass:    ClassGenericPassword,
		AttrService:  r.Service,
		AttrAccount:  r.Account,
		AttrLabel:    r.Label,
		AttrCreated:  r.CreationDate,
		AttrModified: r.ModificationDate,
	}
	if r.AccessGroup != "" {
		m[AttrAccessGroup] = r.AccessGroup
	}
	return NewAttributes(m)
}
