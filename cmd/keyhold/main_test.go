package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benaskins/keyhold/internal/audit"
	"github.com/benaskins/keyhold/internal/config"
	"github.com/benaskins/keyhold/internal/keychain"
)

func testEnv(t *testing.T) (*env, *keychain.AuditedStore) {
	t.Helper()

	dir := t.TempDir()
	auditLog, err := audit.NewLogger(filepath.Join(dir, "audit.log"), 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { auditLog.Close() })
	meta, err := keychain.NewMetadataStore(filepath.Join(dir, "secret-metadata.json"))
	if err != nil {
		t.Fatal(err)
	}
	kc := keychain.New("com.keyhold.test", keychain.WithBackend(keychain.NewMemoryBackend()))
	store := keychain.NewAuditedStore(kc, auditLog, meta, keychain.Scope{Service: "com.keyhold.test"}, "cli")

	e := &env{
		stdin:  strings.NewReader(""),
		isTerm: func() bool { return false },
		prompt: func() ([]byte, error) { return nil, errors.New("no terminal") },
		open: func(cfg config.Config, actor string, remote bool, opts ...keychain.Option) (keychain.Store, func() error, error) {
			return store, noClose, nil
		},
	}
	return e, store
}

func run(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(e)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSetAndGet(t *testing.T) {
	e, _ := testEnv(t)

	out, err := run(t, e, "set", "api-key", "sk-123")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !strings.Contains(out, `Secret "api-key" stored`) {
		t.Errorf("unexpected output %q", out)
	}

	out, err = run(t, e, "get", "api-key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != "sk-123\n" {
		t.Errorf("expected sk-123, got %q", out)
	}
}

func TestSetFromStdin(t *testing.T) {
	e, store := testEnv(t)
	e.stdin = strings.NewReader("piped-value\n")

	if _, err := run(t, e, "set", "k"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := store.Get("k")
	if err != nil {
		t.Fatal(err)
	}
	if val != "piped-value" {
		t.Errorf("expected trailing newline trimmed, got %q", val)
	}
}

func TestSetFromPrompt(t *testing.T) {
	e, store := testEnv(t)
	e.isTerm = func() bool { return true }
	e.prompt = func() ([]byte, error) { return []byte("typed"), nil }

	out, err := run(t, e, "set", "k")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !strings.Contains(out, "Enter secret value:") {
		t.Errorf("expected prompt, got %q", out)
	}
	val, _ := store.Get("k")
	if val != "typed" {
		t.Errorf("expected typed, got %q", val)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	e, store := testEnv(t)

	if _, err := run(t, e, "set", "--binary", "blob", "AP/+"); err != nil {
		t.Fatalf("set: %v", err)
	}
	data, err := store.Data("blob")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0x00, 0xff, 0xfe}) {
		t.Errorf("got %x", data)
	}

	out, err := run(t, e, "get", "--binary", "blob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != "AP/+\n" {
		t.Errorf("got %q", out)
	}
}

func TestSetRejectsBadInput(t *testing.T) {
	e, _ := testEnv(t)

	if _, err := run(t, e, "set", "--binary", "k", "not base64!"); err == nil {
		t.Error("expected base64 error")
	}
	e.stdin = bytes.NewReader([]byte{0xff, 0xfe})
	if _, err := run(t, e, "set", "k"); err == nil {
		t.Error("expected UTF-8 error")
	}
}

func TestGetMissing(t *testing.T) {
	e, _ := testEnv(t)

	_, err := run(t, e, "get", "missing")
	if !errors.Is(err, keychain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestExists(t *testing.T) {
	e, store := testEnv(t)
	store.Set("present", "v")

	if _, err := run(t, e, "exists", "present"); err != nil {
		t.Errorf("exists present: %v", err)
	}

	_, err := run(t, e, "exists", "absent")
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 1 {
		t.Errorf("expected exit status 1, got %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	e, store := testEnv(t)

	out, err := run(t, e, "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No secrets stored") {
		t.Errorf("unexpected output %q", out)
	}

	store.Set("alpha", "1")
	store.Set("beta", "2")

	out, err = run(t, e, "list")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"KEY", "alpha", "beta"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q: %q", want, out)
		}
	}

	out, err = run(t, e, "list", "--long")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "LAST ROTATED") {
		t.Errorf("expected long header, got %q", out)
	}

	if _, err := run(t, e, "delete", "alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := store.Exists("alpha"); ok {
		t.Error("expected alpha deleted")
	}
}

func TestClearRequiresConfirmation(t *testing.T) {
	e, store := testEnv(t)
	store.Set("a", "1")

	if _, err := run(t, e, "clear"); err == nil {
		t.Fatal("expected clear without --yes to fail")
	}
	if ok, _ := store.Exists("a"); !ok {
		t.Fatal("expected secret to survive refused clear")
	}

	if _, err := run(t, e, "clear", "--yes"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	keys, _ := store.List()
	if len(keys) != 0 {
		t.Errorf("expected empty store, got %v", keys)
	}
}

func TestRotate(t *testing.T) {
	e, store := testEnv(t)
	store.Set("token", "old")

	if _, err := run(t, e, "rotate", "token", "--command", "echo fresh", "--every", "720h"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	val, _ := store.Get("token")
	if val != "fresh" {
		t.Errorf("expected fresh, got %q", val)
	}
	meta := store.Metadata().Get("token")
	if meta == nil || meta.LastRotated.IsZero() || meta.RotateEvery != "720h" {
		t.Errorf("unexpected metadata %+v", meta)
	}

	if _, err := run(t, e, "rotate", "token"); err == nil {
		t.Error("expected error without --command")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("service: from-file\naccess_group: group.file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	e, store := testEnv(t)
	var got config.Config
	e.open = func(cfg config.Config, actor string, remote bool, opts ...keychain.Option) (keychain.Store, func() error, error) {
		got = cfg
		return store, noClose, nil
	}

	cmd := newRootCmd(e)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath, "--service", "from-flag", "list"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got.Service != "from-flag" {
		t.Errorf("expected flag to win, got %q", got.Service)
	}
	if got.AccessGroup != "group.file" {
		t.Errorf("expected access group from file, got %q", got.AccessGroup)
	}
}

func TestInvalidAccessibilityFlag(t *testing.T) {
	e, _ := testEnv(t)

	if _, err := run(t, e, "--accessibility", "sometimes", "list"); err == nil {
		t.Error("expected invalid accessibility to fail")
	}
}

func TestServeRejectsRemote(t *testing.T) {
	e, _ := testEnv(t)

	if _, err := run(t, e, "--remote", "serve"); err == nil {
		t.Error("expected serve --remote to fail")
	}
}

func TestExecInjectsSecrets(t *testing.T) {
	e, store := testEnv(t)
	store.Set("db/password", "hunter2")

	out, err := run(t, e, "exec", "-e", "DB_PASSWORD=db/password", "-e", "MISSING=nope", "--", "/bin/sh", "-c", `printf "%s|%s" "$DB_PASSWORD" "$MISSING"`)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if out != "hunter2|" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestExecStrictAndExitCode(t *testing.T) {
	e, _ := testEnv(t)

	_, err := run(t, e, "exec", "--strict", "-e", "X=nope", "--", "/bin/true")
	if !errors.Is(err, keychain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}

	_, err = run(t, e, "exec", "--", "/bin/sh", "-c", "exit 3")
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 3 {
		t.Errorf("expected exit status 3, got %v", err)
	}
}

func TestParseEnvMappings(t *testing.T) {
	if _, err := parseEnvMappings([]string{"NOEQUALS"}); err == nil {
		t.Error("expected error for missing =")
	}
	refs, err := parseEnvMappings([]string{"A=b=c"})
	if err != nil || refs[0].name != "A" || refs[0].key != "b=c" {
		t.Errorf("got %+v, %v", refs, err)
	}
}

func TestBinaryIsGlobalFlag(t *testing.T) {
	e, store := testEnv(t)
	store.SetData("blob", []byte{0x01, 0x02})

	out, err := run(t, e, "--binary", "get", "blob")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != "AQI=\n" {
		t.Errorf("got %q", out)
	}
}

func TestExecSignalExitCode(t *testing.T) {
	e, _ := testEnv(t)

	_, err := run(t, e, "exec", "--", "/bin/sh", "-c", "kill -TERM $$")
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 128+15 {
		t.Errorf("expected exit status 143, got %v", err)
	}
}
