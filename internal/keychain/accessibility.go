package keychain

import (
	"fmt"
	"strings"
)

// Accessibility controls when an item's data may be read relative to the
// device lock state. It mirrors the kSecAttrAccessible values.
type Accessibility int

const (
	// AfterFirstUnlock is the zero value and the default: data cannot be
	// read after a restart until the device has been unlocked once.
	AfterFirstUnlock Accessibility = iota
	// WhenUnlocked allows reads only while the device is unlocked.
	WhenUnlocked
	// WhenUnlockedThisDeviceOnly is WhenUnlocked without migration to
	// other devices.
	WhenUnlockedThisDeviceOnly
	// AfterFirstUnlockThisDeviceOnly is AfterFirstUnlock without migration
	// to other devices.
	AfterFirstUnlockThisDeviceOnly
	// WhenPasscodeSetThisDeviceOnly allows reads only while unlocked and
	// only if a passcode is set.
	WhenPasscodeSetThisDeviceOnly
)

var accessibilityRaw = map[Accessibility]string{
	WhenUnlocked:                   "ak",
	WhenUnlockedThisDeviceOnly:     "aku",
	AfterFirstUnlock:               "ck",
	AfterFirstUnlockThisDeviceOnly: "cku",
	WhenPasscodeSetThisDeviceOnly:  "akpu",
}

var accessibilityNames = map[Accessibility]string{
	WhenUnlocked:                   "when-unlocked",
	WhenUnlockedThisDeviceOnly:     "when-unlocked-this-device-only",
	AfterFirstUnlock:               "after-first-unlock",
	AfterFirstUnlockThisDeviceOnly: "after-first-unlock-this-device-only",
	WhenPasscodeSetThisDeviceOnly:  "when-passcode-set-this-device-only",
}

// Raw returns the platform attribute value (e.g. "ck").
func (a Accessibility) Raw() string {
	if r, ok := accessibilityRaw[a]; ok {
		return r
	}
	return accessibilityRaw[AfterFirstUnlock]
}

func (a Accessibility) String() string {
	if n, ok := accessibilityNames[a]; ok {
		return n
	}
	return fmt.Sprintf("accessibility(%d)", int(a))
}

// AccessibilityFromRaw maps a platform attribute value back to an
// Accessibility. Unrecognised values map to AfterFirstUnlock.
func AccessibilityFromRaw(raw string) Accessibility {
	for a, r := range accessibilityRaw {
		if r == raw {
			return a
		}
	}
	return AfterFirstUnlock
}

// ParseAccessibility parses a name such as "when-unlocked". Underscores
// are accepted in place of dashes. An empty string yields the default.
func ParseAccessibility(s string) (Accessibility, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if norm == "" {
		return AfterFirstUnlock, nil
	}
	for a, n := range accessibilityNames {
		if n == norm {
			return a, nil
		}
	}
	return AfterFirstUnlock, fmt.Errorf("unknown accessibility %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Accessibility) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Accessibility) UnmarshalText(text []byte) error {
	v, err := ParseAccessibility(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
