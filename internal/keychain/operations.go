package keychain

import "unicode/utf8"

// HasItem reports whether an item exists for key. Only a not-found status
// yields false; any other failure is returned as an error.
func (k *Keychain) HasItem(key string) (bool, error) {
	_, status := k.backend.CopyMatching(k.baseQuery(key, nil))
	if status == StatusItemNotFound {
		return false, nil
	}
	if err := StatusError(status); err != nil {
		return false, err
	}
	return true, nil
}

// Keys returns the accounts of all items in the service (and access
// group). No items is an empty list, not an error.
func (k *Keychain) Keys() ([]string, error) {
	result, status := k.backend.CopyMatching(k.getAllQuery())
	if status == StatusItemNotFound {
		return []string{}, nil
	}
	if err := StatusError(status); err != nil {
		return nil, err
	}

	items, ok := result.([]Attributes)
	if !ok {
		return nil, unknownError("Unable to cast the retrieved items to a list of attribute maps")
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		if acct, ok := item.storage[AttrAccount].(string); ok {
			keys = append(keys, acct)
		}
	}
	return keys, nil
}

// Data returns the raw value stored for key.
func (k *Keychain) Data(key string) ([]byte, error) {
	result, status := k.backend.CopyMatching(k.getOneQuery(key))
	if err := StatusError(status); err != nil {
		return nil, err
	}

	data, ok := result.([]byte)
	if !ok {
		return nil, unknownError("Unable to cast the retrieved item to a byte slice")
	}
	return data, nil
}

// String returns the value stored for key as UTF-8 text.
func (k *Keychain) String(key string) (string, error) {
	data, err := k.Data(key)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", unknownError("Unable to convert the retrieved item to a String value")
	}
	return string(data), nil
}

// Attributes returns the stored attributes of the item for key, without
// its data.
func (k *Keychain) Attributes(key string) (Attributes, error) {
	result, status := k.backend.CopyMatching(k.attributesQuery(key))
	if err := StatusError(status); err != nil {
		return Attributes{}, err
	}

	attrs, ok := result.(Attributes)
	if !ok {
		return Attributes{}, unknownError("Unable to cast the retrieved item to an attribute map")
	}
	return attrs, nil
}

// SetString stores value under key, replacing any existing value.
func (k *Keychain) SetString(key, value string) error {
	if !utf8.ValidString(value) {
		return unknownError("Unable to encode the string into a byte slice")
	}
	return k.SetData(key, []byte(value))
}

// SetData stores data under key. If the item already exists its data is
// updated in place; accessibility and access control of an existing item
// are left unchanged.
func (k *Keychain) SetData(key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	status := k.backend.Add(k.setQuery(key, data))
	if status != StatusDuplicateItem {
		return StatusError(status)
	}

	k.logger.Debug("item exists, updating", "service", k.service, "key", key)
	return StatusError(k.backend.Update(k.baseQuery(key, nil), updateAttributes(data)))
}

// DeleteItem removes the item for key. A missing item is an error.
func (k *Keychain) DeleteItem(key string) error {
	return StatusError(k.backend.Delete(k.baseQuery(key, nil)))
}

// DeleteAll removes every item in the service (and access group). Having
// nothing to delete is not an error.
func (k *Keychain) DeleteAll() error {
	status := k.backend.Delete(k.deleteAllQuery())
	if status == StatusItemNotFound {
		return nil
	}
	return StatusError(status)
}
