package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benaskins/keyhold/internal/keychain"
)

func newExecCmd(e *env, g *globalFlags) *cobra.Command {
	var mappings []string
	var strict bool
	cmd := &cobra.Command{
		Use:   "exec -e VAR=key... -- <command> [args...]",
		Short: "Run a command with secrets injected as environment variables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseEnvMappings(mappings)
			if err != nil {
				return err
			}
			var environ []string
			err = withStore(cmd, e, g, func(store keychain.Store) error {
				environ, err = resolveEnv(store, refs, strict)
				return err
			})
			if err != nil {
				return err
			}

			child := exec.CommandContext(cmd.Context(), args[0], args[1:]...)
			child.Env = append(os.Environ(), environ...)
			child.Stdin = e.stdin
			child.Stdout = cmd.OutOrStdout()
			child.Stderr = cmd.ErrOrStderr()
			if err := child.Run(); err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					return &exitError{code: childExitCode(exitErr)}
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&mappings, "env", "e", nil, "Inject secret key as VAR (VAR=key)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail if any secret is missing instead of skipping it")
	return cmd
}

// childExitCode reports the child's exit status, or 128+signal when it was
// killed by a signal, as shells do.
func childExitCode(err *exec.ExitError) int {
	if ws, ok := err.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return err.ExitCode()
}

type envRef struct {
	name string
	key  string
}

func parseEnvMappings(mappings []string) ([]envRef, error) {
	refs := make([]envRef, 0, len(mappings))
	for _, m := range mappings {
		name, key, ok := strings.Cut(m, "=")
		if !ok || name == "" || key == "" {
			return nil, fmt.Errorf("invalid --env %q: want VAR=key", m)
		}
		refs = append(refs, envRef{name: name, key: key})
	}
	return refs, nil
}

// resolveEnv fetches the referenced secrets as VAR=value pairs. Missing
// secrets are skipped with a warning unless strict is set.
func resolveEnv(store keychain.Store, refs []envRef, strict bool) ([]string, error) {
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.key)
	}
	values, err := store.GetMultiple(keys)
	if err != nil {
		return nil, err
	}

	environ := make([]string, 0, len(refs))
	for _, r := range refs {
		val, ok := values[r.key]
		if !ok {
			if strict {
				return nil, fmt.Errorf("secret %q for %s: %w", r.key, r.name, keychain.ErrItemNotFound)
			}
			slog.Warn("secret not found, skipping", "env_var", r.name, "key", r.key)
			continue
		}
		environ = append(environ, r.name+"="+val)
	}
	return environ, nil
}
