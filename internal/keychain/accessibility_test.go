package keychain

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestAccessibilityRawValues(t *testing.T) {
	want := map[Accessibility]string{
		WhenUnlocked:                   "ak",
		WhenUnlockedThisDeviceOnly:     "aku",
		AfterFirstUnlock:               "ck",
		AfterFirstUnlockThisDeviceOnly: "cku",
		WhenPasscodeSetThisDeviceOnly:  "akpu",
	}
	for a, raw := range want {
		if a.Raw() != raw {
			t.Errorf("%v.Raw() = %q, want %q", a, a.Raw(), raw)
		}
		if back := AccessibilityFromRaw(raw); back != a {
			t.Errorf("AccessibilityFromRaw(%q) = %v, want %v", raw, back, a)
		}
	}
}

func TestAccessibilityFromUnknownRawDefaults(t *testing.T) {
	if got := AccessibilityFromRaw("dk"); got != AfterFirstUnlock {
		t.Errorf("got %v, want after-first-unlock", got)
	}
}

func TestParseAccessibility(t *testing.T) {
	a, err := ParseAccessibility("when_unlocked_this_device_only")
	if err != nil {
		t.Fatalf("ParseAccessibility: %v", err)
	}
	if a != WhenUnlockedThisDeviceOnly {
		t.Errorf("got %v", a)
	}

	a, err = ParseAccessibility("")
	if err != nil || a != AfterFirstUnlock {
		t.Errorf("empty: got %v, %v", a, err)
	}

	if _, err := ParseAccessibility("always"); err == nil {
		t.Error("expected error for unknown accessibility")
	}
}

func TestAccessibilityYAML(t *testing.T) {
	var v struct {
		Accessibility Accessibility `yaml:"accessibility"`
	}
	if err := yaml.Unmarshal([]byte("accessibility: when-passcode-set-this-device-only\n"), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v.Accessibility != WhenPasscodeSetThisDeviceOnly {
		t.Errorf("got %v", v.Accessibility)
	}
}

func TestParseAccessControl(t *testing.T) {
	flags, err := ParseAccessControl([]string{"biometry-current-set,or", "device_passcode"})
	if err != nil {
		t.Fatalf("ParseAccessControl: %v", err)
	}
	if flags != BiometryCurrentSet|Or|DevicePasscode {
		t.Errorf("flags = %b", flags)
	}
	if got := flags.String(); got != "biometry-current-set,device-passcode,or" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseAccessControlEmpty(t *testing.T) {
	flags, err := ParseAccessControl(nil)
	if err != nil || flags != 0 {
		t.Errorf("got %v, %v", flags, err)
	}
	if flags.String() != "none" {
		t.Errorf("String() = %q", flags.String())
	}
}

func TestParseAccessControlUnknown(t *testing.T) {
	if _, err := ParseAccessControl([]string{"face-id"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestAccessControlBitValues(t *testing.T) {
	if UserPresence != 1 || BiometryAny != 2 || BiometryCurrentSet != 8 || DevicePasscode != 16 {
		t.Error("biometry/passcode bits do not match the platform")
	}
	if Or != 1<<14 || And != 1<<15 {
		t.Error("conjunction bits do not match the platform")
	}
}
