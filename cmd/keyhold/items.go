package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/awnumar/memguard"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/benaskins/keyhold/internal/keychain"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
)

// withStore loads config, opens the store and runs fn against it.
func withStore(cmd *cobra.Command, e *env, g *globalFlags, fn func(keychain.Store) error) error {
	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeFn, err := e.open(cfg, "cli", g.remote)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(store)
}

func newGetCmd(e *env, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, e, g, func(store keychain.Store) error {
				out := cmd.OutOrStdout()
				if g.binary {
					data, err := store.Data(args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(out, base64.StdEncoding.EncodeToString(data))
					return nil
				}
				val, err := store.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, val)
				return nil
			})
		},
	}
}

func newSetCmd(e *env, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a secret, replacing any existing value",
		Long:  "Store a secret. If value is omitted it is read from stdin, or prompted for on a terminal.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := readSecret(cmd, e, args)
			if err != nil {
				return err
			}
			defer buf.Destroy()
			value := trimNewline(buf.Bytes())

			if g.binary {
				decoded := make([]byte, base64.StdEncoding.DecodedLen(len(value)))
				defer memguard.WipeBytes(decoded)
				n, err := base64.StdEncoding.Decode(decoded, bytes.TrimSpace(value))
				if err != nil {
					return fmt.Errorf("decoding base64 value: %w", err)
				}
				value = decoded[:n]
			} else if !utf8.Valid(value) {
				return errors.New("value is not valid UTF-8; use --binary for raw data")
			}

			return withStore(cmd, e, g, func(store keychain.Store) error {
				if err := store.SetData(args[0], value); err != nil {
					return err
				}
				okColor.Fprintf(cmd.OutOrStdout(), "Secret %q stored\n", args[0])
				return nil
			})
		},
	}
}

// readSecret takes the value from args, a terminal prompt or stdin, and
// keeps it in locked memory.
func readSecret(cmd *cobra.Command, e *env, args []string) (*memguard.LockedBuffer, error) {
	if len(args) == 2 {
		return memguard.NewBufferFromBytes([]byte(args[1])), nil
	}
	if e.isTerm() {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter secret value: ")
		b, err := e.prompt()
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		return memguard.NewBufferFromBytes(b), nil
	}
	buf, err := memguard.NewBufferFromEntireReader(e.stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return buf, nil
}

func trimNewline(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

func newDeleteCmd(e *env, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>...",
		Short:   "Remove secrets",
		Aliases: []string{"rm"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, e, g, func(store keychain.Store) error {
				for _, key := range args {
					if err := store.Delete(key); err != nil {
						return err
					}
					okColor.Fprintf(cmd.OutOrStdout(), "Secret %q deleted\n", key)
				}
				return nil
			})
		},
	}
}

func newListCmd(e *env, g *globalFlags) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List secret keys in the service",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, e, g, func(store keychain.Store) error {
				keys, err := store.List()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(keys) == 0 {
					warnColor.Fprintln(out, "No secrets stored")
					return nil
				}
				ms, hasMeta := store.(metadataSource)
				if long && hasMeta {
					renderLong(out, keys, ms.Metadata())
					return nil
				}
				table := newTable(out)
				table.SetHeader([]string{"Key"})
				for _, k := range keys {
					table.Append([]string{k})
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show write and rotation times")
	return cmd
}

func renderLong(w io.Writer, keys []string, ms *keychain.MetadataStore) {
	table := newTable(w)
	table.SetHeader([]string{"Key", "Created", "Updated", "Last rotated", "Rotate every"})
	for _, k := range keys {
		row := []string{k, "-", "-", "-", "-"}
		if m := ms.Get(k); m != nil {
			row[1] = formatTime(m.CreatedAt)
			row[2] = formatTime(m.UpdatedAt)
			row[3] = formatTime(m.LastRotated)
			if m.RotateEvery != "" {
				row[4] = m.RotateEvery
			}
		}
		table.Append(row)
	}
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetAutoFormatHeaders(true)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func newExistsCmd(e *env, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <key>",
		Short: "Exit 0 if a secret is stored under key, 1 otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, e, g, func(store keychain.Store) error {
				ok, err := store.Exists(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return &exitError{code: 1}
				}
				return nil
			})
		},
	}
}

func newClearCmd(e *env, g *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every secret in the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			return withStore(cmd, e, g, func(store keychain.Store) error {
				if err := store.Clear(); err != nil {
					return err
				}
				okColor.Fprintln(cmd.OutOrStdout(), "All secrets removed")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm removal")
	return cmd
}

func newRotateCmd(e *env, g *globalFlags) *cobra.Command {
	var command, every string
	cmd := &cobra.Command{
		Use:   "rotate <key>",
		Short: "Replace a secret with the output of a command",
		Long:  "Run a shell command and store its trimmed output as the new value. On failure the old value is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if command == "" {
				return errors.New("--command is required")
			}
			if every != "" {
				if _, err := time.ParseDuration(every); err != nil {
					return fmt.Errorf("invalid --every: %w", err)
				}
			}
			return withStore(cmd, e, g, func(store keychain.Store) error {
				r, ok := store.(rotator)
				if !ok {
					return errors.New("rotate is not available with --remote")
				}
				key := args[0]
				if err := r.Rotate(cmd.Context(), key, command); err != nil {
					return err
				}
				if ms, ok := store.(metadataSource); ok && every != "" {
					meta := ms.Metadata().Get(key)
					if meta != nil {
						meta.RotateEvery = every
						if err := ms.Metadata().Set(key, meta); err != nil {
							return fmt.Errorf("saving rotation schedule: %w", err)
						}
					}
				}
				okColor.Fprintf(cmd.OutOrStdout(), "Secret %q rotated\n", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Shell command whose output becomes the new value")
	cmd.Flags().StringVar(&every, "every", "", "Record the intended rotation interval, e.g. 720h")
	return cmd
}
