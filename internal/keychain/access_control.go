package keychain

import (
	"fmt"
	"sort"
	"strings"
)

// AccessControlFlags gate reads and writes beyond the accessibility policy
// (biometry, passcode). Bit values match SecAccessControlCreateFlags. The
// zero value means no access control object is attached to the item.
type AccessControlFlags uint64

const (
	UserPresence        AccessControlFlags = 1 << 0
	BiometryAny         AccessControlFlags = 1 << 1
	BiometryCurrentSet  AccessControlFlags = 1 << 3
	DevicePasscode      AccessControlFlags = 1 << 4
	Watch               AccessControlFlags = 1 << 5
	Or                  AccessControlFlags = 1 << 14
	And                 AccessControlFlags = 1 << 15
	PrivateKeyUsage     AccessControlFlags = 1 << 30
	ApplicationPassword AccessControlFlags = 1 << 31
)

var accessControlNames = map[string]AccessControlFlags{
	"user-presence":        UserPresence,
	"biometry-any":         BiometryAny,
	"biometry-current-set": BiometryCurrentSet,
	"device-passcode":      DevicePasscode,
	"watch":                Watch,
	"or":                   Or,
	"and":                  And,
	"private-key-usage":    PrivateKeyUsage,
	"application-password": ApplicationPassword,
}

// AccessControl is the value stored under AttrAccessControl: the
// accessibility policy combined with the flags, as
// SecAccessControlCreateWithFlags would receive them.
type AccessControl struct {
	Accessibility Accessibility
	Flags         AccessControlFlags
}

// Has reports whether all bits of f are set.
func (a AccessControlFlags) Has(f AccessControlFlags) bool {
	return a&f == f
}

// Names returns the flag names set in a, sorted.
func (a AccessControlFlags) Names() []string {
	var names []string
	for n, f := range accessControlNames {
		if a.Has(f) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func (a AccessControlFlags) String() string {
	if a == 0 {
		return "none"
	}
	return strings.Join(a.Names(), ",")
}

// ParseAccessControl combines flag names into a mask. Names may also be
// given comma-separated within a single element.
func ParseAccessControl(names []string) (AccessControlFlags, error) {
	var flags AccessControlFlags
	for _, entry := range names {
		for _, n := range strings.Split(entry, ",") {
			n = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(n)), "_", "-")
			if n == "" || n == "none" {
				continue
			}
			f, ok := accessControlNames[n]
			if !ok {
				return 0, fmt.Errorf("unknown access control flag %q", n)
			}
			flags |= f
		}
	}
	return flags, nil
}
